package config

import "time"

// Config represents the complete transcriptd configuration.
type Config struct {
	Service Service `yaml:"service"`
	Storage Storage `yaml:"storage"`
	Engine  Engine  `yaml:"engine"`
	API     API     `yaml:"api,omitempty"`
	License License `yaml:"license,omitempty"`
}

// Service defines core service settings.
type Service struct {
	Name          string        `yaml:"name"`
	LogLevel      string        `yaml:"log_level"`
	RetentionDays int           `yaml:"retention_days"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	PIDLockPath   string        `yaml:"pid_lock_path,omitempty"`
}

// Storage defines where job manifests, artifacts, and the journal live.
type Storage struct {
	Root        string `yaml:"root"`
	JournalPath string `yaml:"journal_path"`
}

// Engine defines transcription engine settings.
type Engine struct {
	WhisperPath     string `yaml:"whisper_path"`
	FFmpegPath      string `yaml:"ffmpeg_path"`
	FFprobePath     string `yaml:"ffprobe_path"`
	ModelsDir       string `yaml:"models_dir"`
	DefaultModel    string `yaml:"default_model"`
	DefaultDevice   string `yaml:"default_device"`
	DefaultBeamSize int    `yaml:"default_beam_size"`
	VADAssetsDir    string `yaml:"vad_assets_dir"`
	VADFetchBaseURL string `yaml:"vad_fetch_base_url,omitempty"`
}

// API defines HTTP API server settings.
type API struct {
	Enabled        bool   `yaml:"enabled"`
	Listen         string `yaml:"listen"`
	APIKey         string `yaml:"api_key,omitempty"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// License defines the local feature gate. Signature verification happens
// upstream of transcriptd; only the resulting feature list is consumed here.
type License struct {
	Features []string `yaml:"features,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: Service{
			Name:          "transcriptd",
			LogLevel:      "info",
			RetentionDays: 7,
			SweepInterval: 1 * time.Hour,
		},
		Storage: Storage{
			Root:        "./data/jobs",
			JournalPath: "./data/journal.db",
		},
		Engine: Engine{
			WhisperPath:     "whisper-cli",
			FFmpegPath:      "ffmpeg",
			FFprobePath:     "ffprobe",
			ModelsDir:       "./models",
			DefaultModel:    "medium",
			DefaultDevice:   "auto",
			DefaultBeamSize: 5,
			VADAssetsDir:    "./models/vad",
		},
		API: API{
			Enabled:        true,
			Listen:         "127.0.0.1:8090",
			MaxUploadBytes: 2 << 30,
		},
	}
}
