// Package app assembles the detection pipeline from configuration.
package app

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	fooddetector "github.com/menta2k/food-detector"
	"github.com/menta2k/food-detector/internal/config"
	"github.com/menta2k/food-detector/pkg/analyzer"
	"github.com/menta2k/food-detector/pkg/client"
	"github.com/menta2k/food-detector/pkg/detection"
	"github.com/menta2k/food-detector/pkg/factcache"
	"github.com/menta2k/food-detector/pkg/gemini"
	"github.com/menta2k/food-detector/pkg/ollama"
	"github.com/menta2k/food-detector/pkg/openai"
	"github.com/menta2k/food-detector/pkg/vision"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOllamaURL     = "http://localhost:11434"
)

// ErrNoAPIKey is returned when a keyed backend has no key configured
var ErrNoAPIKey = errors.New("no API key configured")

// App owns the pipeline and everything it needs to close
type App struct {
	Detector *fooddetector.Detector
	// Facts is nil when enrichment is disabled
	Facts *factcache.Cache

	closers []io.Closer
}

// ModelConfig maps the model section onto the runtime settings
func ModelConfig(cfg config.ModelConfig) vision.Config {
	return vision.Config{
		ModelPath:         cfg.Path,
		SharedLibraryPath: cfg.SharedLibrary,
		InputSize:         cfg.InputSize,
		NumClasses:        cfg.NumClasses,
		ScoreThreshold:    cfg.ScoreThreshold,
		IOUThreshold:      cfg.IOUThreshold,
		PoolSize:          cfg.PoolSize,
		IntraOpThreads:    cfg.IntraOpThreads,
	}
}

// LoadModel loads the ONNX model described by cfg
func LoadModel(cfg config.ModelConfig, logger *zap.SugaredLogger) (*vision.YOLODetector, error) {
	m, err := vision.NewYOLODetector(ModelConfig(cfg), logger)
	if err != nil {
		return nil, errors.Wrapf(err, "load model %s", cfg.Path)
	}
	return m, nil
}

// NewTextClient creates the text-generation backend named in cfg
func NewTextClient(ctx context.Context, cfg config.EnrichmentConfig) (client.TextClient, error) {
	if cfg.NeedsAPIKey() && cfg.APIKey == "" {
		return nil, errors.Wrap(ErrNoAPIKey, cfg.Backend)
	}

	switch cfg.Backend {
	case config.BackendCerebras, config.BackendOpenAI:
		if cfg.Backend == config.BackendOpenAI {
			if cfg.BaseURL == "" {
				cfg.BaseURL = defaultOpenAIBaseURL
			}
			if cfg.Model == "" {
				cfg.Model = defaultOpenAIModel
			}
		}
		c, err := openai.NewClient(openai.Options{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendOllama:
		url := cfg.BaseURL
		if url == "" {
			url = defaultOllamaURL
		}
		c, err := ollama.NewClient(url, ollama.Options{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendGemini:
		c, err := gemini.NewClient(ctx, cfg.APIKey, gemini.Options{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.Errorf("unknown enrichment backend %q", cfg.Backend)
	}
}

// New builds the pipeline around an already loaded model. Enrichment problems
// are logged and leave enrichment disabled; they never fail startup.
func New(ctx context.Context, cfg *config.Config, model vision.Model, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &App{closers: []io.Closer{model}}

	opts := []fooddetector.Option{
		fooddetector.WithFilter(detection.NewFilterWithThreshold(cfg.Detection.ConfidenceThreshold)),
		fooddetector.WithAnalyzer(analyzer.NewWithConfig(analyzer.Config{
			SupportedFormats: cfg.Detection.SupportedFormats,
			MinImageSize:     cfg.Detection.MinImageSize,
			MaxImageSize:     cfg.Detection.MaxImageSize,
		})),
		fooddetector.WithJPEGQuality(cfg.Output.JPEGQuality),
		fooddetector.WithLogger(logger),
	}

	if cfg.Enrichment.Enabled {
		tc, err := NewTextClient(ctx, cfg.Enrichment)
		if err != nil {
			logger.Warnw("carbon footprint enrichment disabled", "backend", cfg.Enrichment.Backend, "error", err)
		} else {
			if c, ok := tc.(io.Closer); ok {
				a.closers = append(a.closers, c)
			}
			a.Facts = factcache.New(tc, factcache.Config{
				Interval: cfg.Enrichment.Interval(),
				Timeout:  cfg.Enrichment.Timeout(),
			}, logger.Named("facts"))
			opts = append(opts, fooddetector.WithEnricher(a.Facts))
			logger.Infow("carbon footprint enrichment enabled", "backend", tc.Name())
		}
	}

	det, err := fooddetector.New(model, opts...)
	if err != nil {
		return nil, err
	}
	a.Detector = det
	return a, nil
}

// Close releases the model and the text backend
func (a *App) Close() error {
	var err error
	for _, c := range a.closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}
