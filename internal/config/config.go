package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
)

// Enrichment backends
const (
	BackendCerebras = "cerebras"
	BackendOpenAI   = "openai"
	BackendOllama   = "ollama"
	BackendGemini   = "gemini"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Model      ModelConfig      `json:"model"`
	Detection  DetectionConfig  `json:"detection"`
	Enrichment EnrichmentConfig `json:"enrichment"`
	Output     OutputConfig     `json:"output"`
	Camera     CameraConfig     `json:"camera"`
	Log        LogConfig        `json:"log"`
}

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Addr                   string   `json:"addr"`
	ReadTimeoutSeconds     int      `json:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `json:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int      `json:"shutdown_timeout_seconds"`
	MaxUploadMB            int      `json:"max_upload_mb"`
	CORSOrigins            []string `json:"cors_origins"`
}

// ModelConfig holds configuration for the ONNX model runtime
type ModelConfig struct {
	Path           string  `json:"path"`
	SharedLibrary  string  `json:"shared_library"`
	InputSize      int     `json:"input_size"`
	NumClasses     int     `json:"num_classes"`
	ScoreThreshold float64 `json:"score_threshold"`
	IOUThreshold   float64 `json:"iou_threshold"`
	PoolSize       int     `json:"pool_size"`
	IntraOpThreads int     `json:"intra_op_threads"`
}

// DetectionConfig holds configuration for food filtering and upload validation
type DetectionConfig struct {
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	SupportedFormats    []string `json:"supported_formats"`
	MinImageSize        int      `json:"min_image_size"`
	MaxImageSize        int      `json:"max_image_size"`
}

// EnrichmentConfig holds configuration for carbon footprint lookups.
// Empty Model and BaseURL select the backend's defaults.
type EnrichmentConfig struct {
	Enabled         bool    `json:"enabled"`
	Backend         string  `json:"backend"`
	Model           string  `json:"model"`
	BaseURL         string  `json:"base_url"`
	APIKey          string  `json:"api_key,omitempty"`
	IntervalSeconds float64 `json:"interval_seconds"`
	TimeoutSeconds  float64 `json:"timeout_seconds"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	JPEGQuality int    `json:"jpeg_quality"`
	OutputDir   string `json:"output_dir"`
	Prefix      string `json:"prefix"`
}

// CameraConfig holds configuration for the live viewer
type CameraConfig struct {
	Device int  `json:"device"`
	Width  int  `json:"width"`
	Height int  `json:"height"`
	FPS    int  `json:"fps"`
	Mirror bool `json:"mirror"`
}

// LogConfig holds configuration for logging
type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Interval returns the minimum spacing between backend calls
func (e EnrichmentConfig) Interval() time.Duration {
	return time.Duration(e.IntervalSeconds * float64(time.Second))
}

// Timeout returns the per-call backend timeout
func (e EnrichmentConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds * float64(time.Second))
}

// NeedsAPIKey reports whether the backend authenticates with a key
func (e EnrichmentConfig) NeedsAPIKey() bool {
	return e.Backend != BackendOllama
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                   ":5000",
			ReadTimeoutSeconds:     30,
			WriteTimeoutSeconds:    60,
			ShutdownTimeoutSeconds: 10,
			MaxUploadMB:            16,
			CORSOrigins:            []string{"*"},
		},
		Model: ModelConfig{
			Path:           "yolov8n.onnx",
			InputSize:      640,
			NumClasses:     80,
			ScoreThreshold: 0.25,
			IOUThreshold:   0.7,
			PoolSize:       2,
			IntraOpThreads: 1,
		},
		Detection: DetectionConfig{
			ConfidenceThreshold: 0.5,
			SupportedFormats:    []string{"jpeg", "png", "gif", "webp"},
			MinImageSize:        1,
			MaxImageSize:        8192,
		},
		Enrichment: EnrichmentConfig{
			Enabled:         true,
			Backend:         BackendCerebras,
			IntervalSeconds: 3,
			TimeoutSeconds:  5,
			MaxTokens:       600,
			Temperature:     0.2,
		},
		Output: OutputConfig{
			JPEGQuality: 90,
			OutputDir:   ".",
			Prefix:      "food_detection_",
		},
		Camera: CameraConfig{
			Device: 0,
			Width:  640,
			Height: 480,
			FPS:    30,
			Mirror: true,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the file at path when it is non-empty, then applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON file. ${VAR} references are
// expanded from the environment and unset keys keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := envsubst.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return config, nil
}

// ApplyEnv overrides settings from environment variables
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := getenv("FOOD_MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := getenv("ONNXRUNTIME_LIB"); v != "" {
		c.Model.SharedLibrary = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("LLM_BACKEND"); v != "" {
		c.Enrichment.Backend = strings.ToLower(v)
	}
	if v := getenv("LLM_MODEL"); v != "" {
		c.Enrichment.Model = v
	}
	if v := getenv("LLM_BASE_URL"); v != "" {
		c.Enrichment.BaseURL = v
	}
	if v := getenv("ENRICHMENT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Enrichment.Enabled = b
		}
	}

	var keyVar string
	switch c.Enrichment.Backend {
	case BackendCerebras:
		keyVar = "CEREBRAS_API_KEY"
	case BackendOpenAI:
		keyVar = "OPENAI_API_KEY"
	case BackendGemini:
		keyVar = "GEMINI_API_KEY"
	}
	if keyVar != "" {
		if v := getenv(keyVar); v != "" {
			c.Enrichment.APIKey = v
		}
	}
}

// SaveToFile saves configuration to a JSON file. The API key is never written.
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	out := *c
	out.Enrichment.APIKey = ""
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}

	if c.Server.MaxUploadMB < 1 {
		return errors.New("server.max_upload_mb must be positive")
	}

	if c.Model.Path == "" {
		return errors.New("model.path cannot be empty")
	}

	if c.Model.InputSize <= 0 || c.Model.InputSize%32 != 0 {
		return errors.New("model.input_size must be a positive multiple of 32")
	}

	if c.Model.NumClasses < 1 {
		return errors.New("model.num_classes must be positive")
	}

	if c.Model.IOUThreshold <= 0 || c.Model.IOUThreshold > 1 {
		return errors.New("model.iou_threshold must be in (0, 1]")
	}

	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold >= 1 {
		return errors.New("detection.confidence_threshold must be in [0, 1)")
	}

	if len(c.Detection.SupportedFormats) == 0 {
		return errors.New("detection.supported_formats cannot be empty")
	}

	if c.Detection.MinImageSize < 1 {
		return errors.New("detection.min_image_size must be positive")
	}

	switch c.Enrichment.Backend {
	case BackendCerebras, BackendOpenAI, BackendOllama, BackendGemini:
	default:
		return errors.Errorf("enrichment.backend %q is not one of cerebras, openai, ollama, gemini", c.Enrichment.Backend)
	}

	if c.Enrichment.IntervalSeconds < 0 {
		return errors.New("enrichment.interval_seconds cannot be negative")
	}

	if c.Enrichment.TimeoutSeconds <= 0 {
		return errors.New("enrichment.timeout_seconds must be positive")
	}

	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return errors.New("output.jpeg_quality must be between 1 and 100")
	}

	if c.Camera.Width < 1 || c.Camera.Height < 1 || c.Camera.FPS < 1 {
		return errors.New("camera width, height and fps must be positive")
	}

	return nil
}

// ResolvePath picks the config file to load: explicit when given, otherwise
// fallback if that file exists, otherwise "" for built-in defaults.
func ResolvePath(explicit, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if fallback == "" {
		return ""
	}
	if info, err := os.Stat(fallback); err == nil && !info.IsDir() {
		return fallback
	}
	return ""
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "food-detector", "config.json")
}
