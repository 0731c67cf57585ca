package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/transcriptd/internal/api"
	"github.com/mattjoyce/transcriptd/internal/config"
	"github.com/mattjoyce/transcriptd/internal/doctor"
	"github.com/mattjoyce/transcriptd/internal/engine"
	"github.com/mattjoyce/transcriptd/internal/events"
	"github.com/mattjoyce/transcriptd/internal/inspect"
	"github.com/mattjoyce/transcriptd/internal/jobs"
	"github.com/mattjoyce/transcriptd/internal/journal"
	"github.com/mattjoyce/transcriptd/internal/license"
	"github.com/mattjoyce/transcriptd/internal/lock"
	"github.com/mattjoyce/transcriptd/internal/log"
	"github.com/mattjoyce/transcriptd/internal/runner"
	"github.com/mattjoyce/transcriptd/internal/summary"
	"github.com/mattjoyce/transcriptd/internal/sweeper"
	"github.com/mattjoyce/transcriptd/internal/tui/watch"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "job":
		os.Exit(runJobNoun(args))

	// --- ROOT ALIASES ---
	case "start":
		os.Exit(runStart(args))
	case "doctor":
		os.Exit(runDoctor(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("transcriptd version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`transcriptd - Local asynchronous audio transcription service

Usage:
  transcriptd <noun> <action> [flags]

Core Resources (Nouns):
  system    Service lifecycle and environment health
  config    Service configuration and integrity
  job       Transcription jobs and retention

System Commands:
  system start      Start the service in foreground
  system doctor     Validate the runtime environment

Config Commands:
  config lock       Authorize current state (update integrity hashes)
  config check      Validate syntax, defaults, and integrity

Job Commands:
  job list          Show tracked jobs
  job inspect <id>  Show a job manifest and its journal entries
  job prune         Remove jobs past the retention window

General:
  watch             Live TUI view of jobs and events (needs a running service)
  version           Show version information
  help              Show this help message

Use 'transcriptd <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "doctor":
		if hasHelpFlag(actionArgs) {
			printSystemDoctorHelp()
			return 0
		}
		return runDoctor(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printJobListHelp()
			return 0
		}
		return runJobList(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printJobInspectHelp()
			return 0
		}
		return runJobInspect(actionArgs)
	case "prune":
		if hasHelpFlag(actionArgs) {
			printJobPruneHelp()
			return 0
		}
		return runJobPrune(actionArgs)
	case "help":
		printJobNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

// --- HELP HELPERS ---

func isHelpToken(arg string) bool {
	switch arg {
	case "help", "--help", "-h":
		return true
	}
	return false
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: transcriptd system <action>")
	fmt.Fprintln(w, "Actions: start, doctor, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: transcriptd config <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check")
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: transcriptd job <action>")
	fmt.Fprintln(w, "Actions: list, inspect, prune")
}

func printSystemStartHelp() {
	fmt.Println("Usage: transcriptd system start [--config PATH]")
	fmt.Println("Start the transcription service in the foreground.")
}

func printSystemDoctorHelp() {
	fmt.Println("Usage: transcriptd system doctor [--config PATH] [--json] [--strict]")
	fmt.Println("Validate binaries, models, storage, and accelerator availability.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: transcriptd config lock [--config PATH]")
	fmt.Println("Authorize current configuration state by regenerating its integrity hash.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: transcriptd config check [--config PATH] [--json]")
	fmt.Println("Validate configuration syntax, defaults, and integrity.")
}

func printJobListHelp() {
	fmt.Println("Usage: transcriptd job list [--config PATH] [--json]")
	fmt.Println("Show all jobs tracked under the storage root.")
}

func printJobInspectHelp() {
	fmt.Println("Usage: transcriptd job inspect <job_id> [--config PATH] [--json]")
	fmt.Println("Show a job manifest, artifacts, and recent journal entries.")
}

func printJobPruneHelp() {
	fmt.Println("Usage: transcriptd job prune [--config PATH] [--days N]")
	fmt.Println("Remove terminal jobs older than the retention window.")
}

func printWatchHelp() {
	fmt.Println("Usage: transcriptd watch [flags]")
	fmt.Println()
	fmt.Println("Live terminal view of jobs, progress, and the event stream.")
	fmt.Println("Requires a running transcriptd with the API enabled.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Service API URL (default: http://127.0.0.1:8090)")
	fmt.Println("  --api-key KEY    Bearer token (default: TRANSCRIPTD_API_KEY env var)")
}

// --- ACTION IMPLEMENTATIONS ---

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfig()
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("transcriptd starting", "version", version, "config", resolved)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	store, err := jobs.NewStore(cfg.Storage.Root)
	if err != nil {
		logger.Error("failed to open job store", "root", cfg.Storage.Root, "error", err)
		return 1
	}
	logger.Info("job store opened", "root", cfg.Storage.Root, "jobs", len(store.List()))

	jrnl, err := journal.Open(context.Background(), cfg.Storage.JournalPath)
	if err != nil {
		logger.Error("failed to open journal", "path", cfg.Storage.JournalPath, "error", err)
		return 1
	}
	defer jrnl.Close()
	logger.Info("journal opened", "path", cfg.Storage.JournalPath)

	hub := events.NewHub(256)

	provider := engine.NewProvider(engine.NewWhisperCppFactory(cfg.Engine.WhisperPath, cfg.Engine.ModelsDir), nil)
	defer provider.Dispose()
	vad := engine.NewVADResolver(cfg.Engine.VADAssetsDir, cfg.Engine.VADFetchBaseURL)
	prober := engine.NewDurationProber(cfg.Engine.FFprobePath)
	tr := engine.NewTranscriber(provider, vad, prober, engine.PunctuationCorrector{})

	run := runner.New(store, tr, jrnl, hub)
	gate := license.NewGate(cfg.License.Features)
	summaries := summary.NewService(store, summary.Extractive{}, gate)
	swp := sweeper.New(cfg.Service.RetentionDays, cfg.Service.SweepInterval, store, jrnl, hub, log.Get())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	swp.Start(ctx)

	if cfg.API.Enabled {
		apiConfig := api.Config{
			Listen:          cfg.API.Listen,
			APIKey:          cfg.API.APIKey,
			MaxUploadBytes:  cfg.API.MaxUploadBytes,
			DefaultModel:    cfg.Engine.DefaultModel,
			DefaultDevice:   cfg.Engine.DefaultDevice,
			DefaultBeamSize: cfg.Engine.DefaultBeamSize,
		}
		apiServer := api.New(apiConfig, store, run, summaries, hub, provider, vad, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	} else {
		logger.Warn("API server disabled, no way to submit jobs until it is enabled")
	}

	logger.Info("transcriptd running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exitCode = 1
	}

	cancel()
	swp.Stop()
	run.Wait()

	logger.Info("transcriptd stopped")
	return exitCode
}

func runDoctor(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	if err := config.GenerateChecksums(resolved); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	fmt.Printf("Successfully locked configuration: %s\n", resolved)
	return 0
}

func runConfigCheck(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("Config check PASSED: %s\n", resolved)
	}
	return 0
}

func runJobList(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	store, err := openStoreForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	records := store.List()
	if jsonOut {
		data, _ := json.MarshalIndent(records, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(records) == 0 {
		fmt.Println("No jobs.")
		return 0
	}

	fmt.Printf("%-36s  %-10s  %-8s  %-20s  %s\n", "ID", "STATUS", "PROGRESS", "CREATED", "FILE")
	for _, rec := range records {
		fmt.Printf("%-36s  %-10s  %7.1f%%  %-20s  %s\n",
			rec.ID, rec.Status, rec.Progress,
			rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Filename)
	}
	return 0
}

func runJobInspect(args []string) int {
	// Flags may follow the positional job ID, so peel the ID off first.
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")

	var jobID string
	var remainingArgs []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && jobID == "" {
			jobID = arg
		} else {
			remainingArgs = append(remainingArgs, arg)
		}
	}

	if err := fs.Parse(remainingArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if jobID == "" {
		fmt.Fprintf(os.Stderr, "Usage: transcriptd job inspect <job_id> [--config PATH] [--json]\n")
		return 1
	}

	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	store, err := jobs.NewStore(cfg.Storage.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open job store: %v\n", err)
		return 1
	}

	var reader inspect.EventReader
	if jrnl, err := journal.Open(context.Background(), cfg.Storage.JournalPath); err == nil {
		defer jrnl.Close()
		reader = jrnl
	}

	var report string
	if jsonOut {
		report, err = inspect.BuildJSONReport(context.Background(), store, reader, jobID)
	} else {
		report, err = inspect.BuildReport(context.Background(), store, reader, jobID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}

func runJobPrune(args []string) int {
	var configPath string
	var days int

	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.IntVar(&days, "days", 0, "Retention in days (default: configured retention_days)")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	if days <= 0 {
		days = cfg.Service.RetentionDays
	}
	if days <= 0 {
		fmt.Fprintln(os.Stderr, "Retention is disabled; pass --days N to prune anyway.")
		return 1
	}

	store, err := jobs.NewStore(cfg.Storage.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open job store: %v\n", err)
		return 1
	}

	removed := store.Prune(days)
	fmt.Printf("Removed %d job(s) older than %d day(s).\n", removed, days)

	if jrnl, err := journal.Open(context.Background(), cfg.Storage.JournalPath); err == nil {
		cutoff := sweeper.Cutoff(days)
		if n, err := jrnl.PruneBefore(context.Background(), cutoff); err == nil && n > 0 {
			fmt.Printf("Removed %d journal entr(ies).\n", n)
		}
		jrnl.Close()
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8090", "Service API URL")
	apiKey := fs.String("api-key", os.Getenv("TRANSCRIPTD_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func openStoreForTool(configPath string) (*jobs.Store, error) {
	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to discover config: %w", err)
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := jobs.NewStore(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return store, nil
}

func getPIDLockPath(cfg *config.Config) string {
	if cfg.Service.PIDLockPath != "" {
		return cfg.Service.PIDLockPath
	}
	journalPath := cfg.Storage.JournalPath
	dir := filepath.Dir(journalPath)
	base := filepath.Base(journalPath)
	ext := filepath.Ext(base)
	return filepath.Join(dir, base[:len(base)-len(ext)]+".pid")
}
