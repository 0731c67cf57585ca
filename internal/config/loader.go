package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file. Passing a directory
// loads config.yaml inside it. Missing optional fields fall back to Defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = []byte(expandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	// Integrity: when the config directory carries a .checksums manifest,
	// the config file must match its recorded BLAKE3 hash.
	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfig returns the first config file found in the conventional
// locations, preferring the working directory over the user config dir.
func DiscoverConfig() (string, error) {
	candidates := []string{
		"./transcriptd.yaml",
		"./config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "transcriptd", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file found (looked for %s)", strings.Join(candidates, ", "))
}

// expandEnvVars substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// applyDefaults fills zero-valued fields that Unmarshal may have cleared.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.SweepInterval <= 0 {
		cfg.Service.SweepInterval = def.Service.SweepInterval
	}
	if cfg.Engine.WhisperPath == "" {
		cfg.Engine.WhisperPath = def.Engine.WhisperPath
	}
	if cfg.Engine.FFmpegPath == "" {
		cfg.Engine.FFmpegPath = def.Engine.FFmpegPath
	}
	if cfg.Engine.FFprobePath == "" {
		cfg.Engine.FFprobePath = def.Engine.FFprobePath
	}
	if cfg.Engine.DefaultModel == "" {
		cfg.Engine.DefaultModel = def.Engine.DefaultModel
	}
	if cfg.Engine.DefaultDevice == "" {
		cfg.Engine.DefaultDevice = def.Engine.DefaultDevice
	}
	if cfg.Engine.DefaultBeamSize <= 0 {
		cfg.Engine.DefaultBeamSize = def.Engine.DefaultBeamSize
	}
	if cfg.API.MaxUploadBytes <= 0 {
		cfg.API.MaxUploadBytes = def.API.MaxUploadBytes
	}
}

func validate(cfg *Config) error {
	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if cfg.Storage.JournalPath == "" {
		return fmt.Errorf("storage.journal_path is required")
	}
	if cfg.Service.RetentionDays < 0 {
		return fmt.Errorf("service.retention_days must not be negative")
	}
	switch cfg.Engine.DefaultDevice {
	case "auto", "cpu", "cuda":
	default:
		return fmt.Errorf("engine.default_device must be auto, cpu, or cuda (got %q)", cfg.Engine.DefaultDevice)
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}
	return nil
}
