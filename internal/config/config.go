package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Talnote environment variables.
const EnvPrefix = "TALNOTE_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr            string `yaml:"listen_addr"`
	DBPath                string `yaml:"db_path"`
	AudioDir              string `yaml:"audio_dir"`
	NotesDir              string `yaml:"notes_dir"`
	SampleRate            int    `yaml:"sample_rate"`
	SampleRates           []int  `yaml:"sample_rates"`
	ChunkSeconds          int    `yaml:"chunk_seconds"`
	OverlapSeconds        int    `yaml:"overlap_seconds"`
	StorageFloorMB        int    `yaml:"storage_floor_mb"`
	SilenceThreshold      int    `yaml:"silence_threshold"`
	SilenceSeconds        int    `yaml:"silence_seconds"`
	TranscriptionProvider string `yaml:"transcription_provider"`
	TranscriptionModel    string `yaml:"transcription_model"`
	SummaryModel          string `yaml:"summary_model"`
	JobMaxAttempts        int    `yaml:"job_max_attempts"`
	JobBackoff            string `yaml:"job_backoff"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets — env vars only, never serialized to YAML.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            "127.0.0.1:8686",
		DBPath:                "data/talnote.db",
		AudioDir:              "data/audio",
		NotesDir:              "data/notes",
		SampleRate:            44100,
		SampleRates:           []int{48000, 32000, 24000, 16000},
		ChunkSeconds:          30,
		OverlapSeconds:        2,
		StorageFloorMB:        100,
		SilenceThreshold:      500,
		SilenceSeconds:        10,
		TranscriptionProvider: "openai",
		TranscriptionModel:    "",
		SummaryModel:          "openai/gpt-4o-mini",
		JobMaxAttempts:        3,
		JobBackoff:            "10s",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedJobBackoff returns JobBackoff as a time.Duration, falling back to
// 10s if the value is invalid.
func (c *Config) ParsedJobBackoff() time.Duration {
	d, err := time.ParseDuration(c.JobBackoff)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// StorageFloorBytes converts the configured floor from megabytes to bytes.
func (c *Config) StorageFloorBytes() uint64 {
	if c.StorageFloorMB <= 0 {
		return 0
	}
	return uint64(c.StorageFloorMB) * 1024 * 1024
}

// TranscriptionAPIKey returns the secret matching the configured
// transcription provider.
func (c *Config) TranscriptionAPIKey() string {
	switch c.TranscriptionProvider {
	case "deepgram":
		return c.DeepgramAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

// SummaryAPIKey returns the secret matching the configured summary model's
// provider prefix.
func (c *Config) SummaryAPIKey() string {
	switch {
	case strings.HasPrefix(c.SummaryModel, "anthropic/"):
		return c.AnthropicAPIKey
	case strings.HasPrefix(c.SummaryModel, "gemini/"):
		return c.GeminiAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{44100, 48000, 32000, 24000, 16000}

	combined := make([]int, 0, 1+len(c.SampleRates)+len(hardcoded))
	combined = append(combined, c.SampleRate)
	combined = append(combined, c.SampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_DIR"); v != "" {
		cfg.AudioDir = v
	}
	if v := os.Getenv(EnvPrefix + "NOTES_DIR"); v != "" {
		cfg.NotesDir = v
	}
	applyEnvInt(cfg, "SAMPLE_RATE", &cfg.SampleRate)
	if v := os.Getenv(EnvPrefix + "SAMPLE_RATES"); v != "" {
		cfg.SampleRates = parseSampleRates(v)
	}
	applyEnvInt(cfg, "CHUNK_SECONDS", &cfg.ChunkSeconds)
	applyEnvInt(cfg, "OVERLAP_SECONDS", &cfg.OverlapSeconds)
	applyEnvInt(cfg, "STORAGE_FLOOR_MB", &cfg.StorageFloorMB)
	applyEnvInt(cfg, "SILENCE_THRESHOLD", &cfg.SilenceThreshold)
	applyEnvInt(cfg, "SILENCE_SECONDS", &cfg.SilenceSeconds)
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_PROVIDER"); v != "" {
		cfg.TranscriptionProvider = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_MODEL"); v != "" {
		cfg.TranscriptionModel = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_MODEL"); v != "" {
		cfg.SummaryModel = v
	}
	applyEnvInt(cfg, "JOB_MAX_ATTEMPTS", &cfg.JobMaxAttempts)
	if v := os.Getenv(EnvPrefix + "JOB_BACKOFF"); v != "" {
		cfg.JobBackoff = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func applyEnvInt(cfg *Config, key string, dst *int) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
		*dst = n
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.TranscriptionProvider != "mock" && cfg.TranscriptionAPIKey() == "" {
		warnings = append(warnings, fmt.Sprintf("No API key configured for transcription provider %q — transcription jobs will fail. Set the matching %s*_API_KEY.", cfg.TranscriptionProvider, EnvPrefix))
	}
	if cfg.SummaryModel != "mock" && cfg.SummaryAPIKey() == "" {
		warnings = append(warnings, fmt.Sprintf("No API key configured for summary model %q — summaries will fail. Set the matching %s*_API_KEY.", cfg.SummaryModel, EnvPrefix))
	}
	if _, err := time.ParseDuration(cfg.JobBackoff); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid job_backoff %q — using default 10s.", cfg.JobBackoff))
	}
	if cfg.OverlapSeconds >= cfg.ChunkSeconds {
		warnings = append(warnings, fmt.Sprintf("overlap_seconds %d must be smaller than chunk_seconds %d — using defaults 2/30.", cfg.OverlapSeconds, cfg.ChunkSeconds))
		cfg.ChunkSeconds = 30
		cfg.OverlapSeconds = 2
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
