package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
	if cfg.Enrichment.Interval() != 3*time.Second {
		t.Errorf("Expected 3s interval, got %v", cfg.Enrichment.Interval())
	}
	if cfg.Enrichment.Timeout() != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", cfg.Enrichment.Timeout())
	}
	if cfg.Detection.ConfidenceThreshold != 0.5 {
		t.Errorf("Expected threshold 0.5, got %f", cfg.Detection.ConfidenceThreshold)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"empty addr":        func(c *Config) { c.Server.Addr = "" },
		"bad upload":        func(c *Config) { c.Server.MaxUploadMB = 0 },
		"empty model":       func(c *Config) { c.Model.Path = "" },
		"bad input size":    func(c *Config) { c.Model.InputSize = 600 },
		"no classes":        func(c *Config) { c.Model.NumClasses = 0 },
		"bad iou":           func(c *Config) { c.Model.IOUThreshold = 1.5 },
		"threshold of one":  func(c *Config) { c.Detection.ConfidenceThreshold = 1 },
		"negative thresh":   func(c *Config) { c.Detection.ConfidenceThreshold = -0.1 },
		"no formats":        func(c *Config) { c.Detection.SupportedFormats = nil },
		"zero min size":     func(c *Config) { c.Detection.MinImageSize = 0 },
		"unknown backend":   func(c *Config) { c.Enrichment.Backend = "bard" },
		"negative interval": func(c *Config) { c.Enrichment.IntervalSeconds = -1 },
		"zero timeout":      func(c *Config) { c.Enrichment.TimeoutSeconds = 0 },
		"quality too high":  func(c *Config) { c.Output.JPEGQuality = 101 },
		"zero fps":          func(c *Config) { c.Camera.FPS = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{
		"PORT":               "8000",
		"FOOD_MODEL_PATH":    "/models/yolov8s.onnx",
		"ONNXRUNTIME_LIB":    "/usr/lib/libonnxruntime.so",
		"LOG_LEVEL":          "debug",
		"LLM_BACKEND":        "OpenAI",
		"LLM_MODEL":          "gpt-4o-mini",
		"LLM_BASE_URL":       "https://api.openai.com",
		"OPENAI_API_KEY":     "sk-test",
		"CEREBRAS_API_KEY":   "ignored",
		"ENRICHMENT_ENABLED": "false",
	}))

	if cfg.Server.Addr != ":8000" {
		t.Errorf("Expected :8000, got %q", cfg.Server.Addr)
	}
	if cfg.Model.Path != "/models/yolov8s.onnx" || cfg.Model.SharedLibrary != "/usr/lib/libonnxruntime.so" {
		t.Errorf("Unexpected model config %+v", cfg.Model)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Log.Level)
	}
	if cfg.Enrichment.Backend != BackendOpenAI || cfg.Enrichment.Model != "gpt-4o-mini" {
		t.Errorf("Unexpected enrichment config %+v", cfg.Enrichment)
	}
	if cfg.Enrichment.APIKey != "sk-test" {
		t.Errorf("Expected the OpenAI key, got %q", cfg.Enrichment.APIKey)
	}
	if cfg.Enrichment.Enabled {
		t.Error("Expected enrichment disabled by env")
	}
}

func TestApplyEnvCerebrasKey(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{"CEREBRAS_API_KEY": "csk"}))
	if cfg.Enrichment.APIKey != "csk" {
		t.Errorf("Expected cerebras key, got %q", cfg.Enrichment.APIKey)
	}
	if !cfg.Enrichment.NeedsAPIKey() {
		t.Error("Cerebras needs an API key")
	}

	cfg.Enrichment.Backend = BackendOllama
	if cfg.Enrichment.NeedsAPIKey() {
		t.Error("Ollama does not need an API key")
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_FOOD_MODEL", "/opt/models/food.onnx")

	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{"model": {"path": "${TEST_FOOD_MODEL}"}, "output": {"jpeg_quality": 75}}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Model.Path != "/opt/models/food.onnx" {
		t.Errorf("Expected expanded model path, got %q", cfg.Model.Path)
	}
	if cfg.Output.JPEGQuality != 75 {
		t.Errorf("Expected quality 75, got %d", cfg.Output.JPEGQuality)
	}
	// keys absent from the file keep their defaults
	if cfg.Model.InputSize != 640 || cfg.Server.Addr != ":5000" {
		t.Errorf("Expected defaults for unset keys, got %+v / %+v", cfg.Model, cfg.Server)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server": {"addr": ":7000"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Errorf("Expected env override :9100, got %q", cfg.Server.Addr)
	}
}

func TestSaveToFileOmitsAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Enrichment.APIKey = "secret-key"

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret-key") {
		t.Error("API key must not be written to disk")
	}
	if cfg.Enrichment.APIKey != "secret-key" {
		t.Error("SaveToFile must not modify the receiver")
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Model.Path != cfg.Model.Path || loaded.Camera != cfg.Camera {
		t.Error("Round trip through file lost settings")
	}
}

func TestGetConfigPath(t *testing.T) {
	if !strings.HasSuffix(GetConfigPath(), "config.json") {
		t.Errorf("Unexpected config path %q", GetConfigPath())
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "config.json")
	if err := os.WriteFile(existing, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "absent.json")

	if got := ResolvePath("explicit.json", existing); got != "explicit.json" {
		t.Errorf("Explicit path should win, got %q", got)
	}
	if got := ResolvePath("", existing); got != existing {
		t.Errorf("Expected existing fallback %q, got %q", existing, got)
	}
	if got := ResolvePath("", missing); got != "" {
		t.Errorf("Missing fallback should resolve to defaults, got %q", got)
	}
	if got := ResolvePath("", dir); got != "" {
		t.Errorf("Directory fallback should resolve to defaults, got %q", got)
	}
}
