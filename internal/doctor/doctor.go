// Package doctor validates transcriptd configuration and the runtime
// environment the transcription engine depends on.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/transcriptd/internal/config"
	"github.com/mattjoyce/transcriptd/internal/engine"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the local environment.
type Doctor struct {
	cfg *config.Config

	// lookPath is swappable for tests.
	lookPath func(string) (string, error)
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateStorage(r)
	d.validateEngine(r)
	d.validateVADAssets(r)
	d.validateAccelerator(r)
	d.validateAPIConfig(r)
	d.warnUnknownFeatures(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks required service fields.
func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.Service.RetentionDays < 0 {
		d.addError(r, "service", "service.retention_days", "retention_days must not be negative")
	}
	if d.cfg.Service.RetentionDays == 0 {
		d.addWarning(r, "service", "service.retention_days", "retention disabled; job directories accumulate forever")
	}
	if d.cfg.Service.RetentionDays > 0 && d.cfg.Service.SweepInterval <= 0 {
		d.addError(r, "service", "service.sweep_interval", "sweep_interval must be positive when retention is enabled")
	}
}

// validateStorage checks that the job store and journal locations are usable.
func (d *Doctor) validateStorage(r *Result) {
	if d.cfg.Storage.Root == "" {
		d.addError(r, "storage", "storage.root", "storage.root is required")
	} else if err := probeWritable(d.cfg.Storage.Root); err != nil {
		d.addError(r, "storage", "storage.root",
			fmt.Sprintf("storage root is not writable: %v", err))
	}

	if d.cfg.Storage.JournalPath == "" {
		d.addError(r, "storage", "storage.journal_path", "storage.journal_path is required")
	} else if err := probeWritable(filepath.Dir(d.cfg.Storage.JournalPath)); err != nil {
		d.addError(r, "storage", "storage.journal_path",
			fmt.Sprintf("journal directory is not writable: %v", err))
	}
}

// probeWritable creates the directory if needed and verifies a file
// can be written in it.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// validateEngine checks the transcription binaries and model files.
func (d *Doctor) validateEngine(r *Result) {
	eng := d.cfg.Engine

	if eng.WhisperPath == "" {
		d.addError(r, "engine", "engine.whisper_path", "whisper_path is required")
	} else if _, err := d.lookPath(eng.WhisperPath); err != nil {
		d.addError(r, "engine", "engine.whisper_path",
			fmt.Sprintf("whisper binary %q not found", eng.WhisperPath))
	}

	// Transcription works without ffprobe; progress just loses its
	// percent scale.
	if eng.FFprobePath != "" {
		if _, err := d.lookPath(eng.FFprobePath); err != nil {
			d.addWarning(r, "engine", "engine.ffprobe_path",
				fmt.Sprintf("ffprobe binary %q not found; duration probing disabled", eng.FFprobePath))
		}
	}
	if eng.FFmpegPath != "" {
		if _, err := d.lookPath(eng.FFmpegPath); err != nil {
			d.addWarning(r, "engine", "engine.ffmpeg_path",
				fmt.Sprintf("ffmpeg binary %q not found", eng.FFmpegPath))
		}
	}

	switch eng.DefaultDevice {
	case "auto", "cpu", "cuda":
	default:
		d.addError(r, "engine", "engine.default_device",
			fmt.Sprintf("default_device %q must be auto, cpu, or cuda", eng.DefaultDevice))
	}
	if eng.DefaultBeamSize <= 0 {
		d.addError(r, "engine", "engine.default_beam_size", "default_beam_size must be positive")
	}

	if eng.ModelsDir == "" {
		d.addError(r, "engine", "engine.models_dir", "models_dir is required")
		return
	}
	if _, err := os.Stat(eng.ModelsDir); err != nil {
		d.addError(r, "engine", "engine.models_dir",
			fmt.Sprintf("models directory %q not accessible: %v", eng.ModelsDir, err))
		return
	}
	if eng.DefaultModel != "" {
		modelFile := filepath.Join(eng.ModelsDir, "ggml-"+eng.DefaultModel+".bin")
		if _, err := os.Stat(modelFile); err != nil {
			d.addError(r, "engine", "engine.default_model",
				fmt.Sprintf("model file %q not found", modelFile))
		}
	}
}

// validateVADAssets checks for the silence-filter model files.
func (d *Doctor) validateVADAssets(r *Result) {
	if d.cfg.Engine.VADAssetsDir == "" {
		d.addWarning(r, "vad", "engine.vad_assets_dir", "vad_assets_dir not set; silence filtering disabled")
		return
	}
	resolver := engine.NewVADResolver(d.cfg.Engine.VADAssetsDir, d.cfg.Engine.VADFetchBaseURL)
	ok, missing := resolver.Detect()
	if ok {
		return
	}
	msg := fmt.Sprintf("missing VAD assets: %s; jobs run with silence filtering disabled", strings.Join(missing, ", "))
	if d.cfg.Engine.VADFetchBaseURL != "" {
		msg += " (fetch will be attempted on first use)"
	}
	d.addWarning(r, "vad", "engine.vad_assets_dir", msg)
}

// validateAccelerator checks for CUDA availability.
func (d *Doctor) validateAccelerator(r *Result) {
	if _, err := d.lookPath("nvidia-smi"); err != nil {
		if d.cfg.Engine.DefaultDevice == "cuda" {
			d.addWarning(r, "accelerator", "engine.default_device",
				"default_device is cuda but no accelerator detected; jobs will fall back to cpu")
			return
		}
		d.addWarning(r, "accelerator", "", "no accelerator detected; transcription runs on cpu")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.APIKey == "" {
		d.addWarning(r, "api", "api.api_key", "API enabled but no authentication configured")
	}
	if d.cfg.API.MaxUploadBytes <= 0 {
		d.addWarning(r, "api", "api.max_upload_bytes", "max_upload_bytes not set; default applies")
	}
}

// warnUnknownFeatures flags license feature strings outside the known
// namespaces.
func (d *Doctor) warnUnknownFeatures(r *Result) {
	for i, feat := range d.cfg.License.Features {
		if feat == "*" {
			continue
		}
		ns, _, found := strings.Cut(feat, ":")
		if !found || (ns != "summary" && ns != "export") {
			d.addWarning(r, "license", fmt.Sprintf("license.features[%d]", i),
				fmt.Sprintf("unrecognized feature %q", feat))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Environment healthy.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Environment healthy")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Environment unhealthy (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
