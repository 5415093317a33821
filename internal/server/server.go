// Package server exposes the detection pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"goji.io"
	"goji.io/pat"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/food-detector/internal/config"
	"github.com/menta2k/food-detector/pkg/analyzer"
	"github.com/menta2k/food-detector/pkg/processing"
	"github.com/menta2k/food-detector/pkg/types"
)

// Client error messages
const (
	msgNoFile        = "No file provided"
	msgNoFileName    = "No file selected"
	msgFileTooLarge  = "File too large"
	msgNoImageData   = "No image data provided"
	msgInvalidBase64 = "Invalid base64 image data"
)

// Pipeline runs detection on raw image bytes
type Pipeline interface {
	DetectBytes(ctx context.Context, data []byte) *types.DetectResponse
	EnrichmentEnabled() bool
}

// FactSource exposes the cached facts for the health and facts endpoints
type FactSource interface {
	Len() int
	Snapshot() map[string]types.FoodFact
}

// Options configures a Server
type Options struct {
	Facts          FactSource
	Analyzer       *analyzer.ImageAnalyzer
	MaxUploadBytes int64
	CORSOrigins    []string
	Logger         *zap.SugaredLogger
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status            string `json:"status"`
	Message           string `json:"message"`
	ModelLoaded       bool   `json:"model_loaded"`
	EnrichmentEnabled bool   `json:"enrichment_enabled"`
	CachedFacts       int    `json:"cached_facts"`
}

// FactsResponse is the body of GET /facts
type FactsResponse struct {
	Count int                       `json:"count"`
	Facts map[string]types.FoodFact `json:"facts"`
}

// Server holds the HTTP handlers
type Server struct {
	pipeline  Pipeline
	facts     FactSource
	validator *analyzer.ImageAnalyzer
	maxUpload int64
	origins   []string
	logger    *zap.SugaredLogger
}

// New creates a Server around a pipeline
func New(p Pipeline, opts Options) *Server {
	if opts.Analyzer == nil {
		opts.Analyzer = analyzer.New()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 16 << 20
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Server{
		pipeline:  p,
		facts:     opts.Facts,
		validator: opts.Analyzer,
		maxUpload: opts.MaxUploadBytes,
		origins:   opts.CORSOrigins,
		logger:    opts.Logger,
	}
}

// Handler returns the routed, CORS-wrapped handler
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	mux.Use(s.recoverMiddleware)
	mux.Use(s.logMiddleware)

	mux.HandleFunc(pat.Get("/"), s.handleIndex)
	mux.HandleFunc(pat.Get("/health"), s.handleHealth)
	mux.HandleFunc(pat.Get("/facts"), s.handleFacts)
	mux.HandleFunc(pat.Post("/detect"), s.handleDetect)
	mux.HandleFunc(pat.Post("/detect-base64"), s.handleDetectBase64)

	return s.cors().Handler(mux)
}

func (s *Server) cors() *cors.Cors {
	for _, o := range s.origins {
		if o == "*" {
			return cors.AllowAll()
		}
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
}

// Run serves on cfg.Addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}
	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Infow("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Food Detection API is running!"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:            "healthy",
		Message:           "API is running",
		ModelLoaded:       s.pipeline != nil,
		EnrichmentEnabled: s.pipeline != nil && s.pipeline.EnrichmentEnabled(),
	}
	if s.facts != nil {
		resp.CachedFacts = s.facts.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	resp := FactsResponse{Facts: map[string]types.FoodFact{}}
	if s.facts != nil {
		resp.Facts = s.facts.Snapshot()
		resp.Count = len(resp.Facts)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, msgFileTooLarge)
		case r.MultipartForm != nil && len(r.MultipartForm.Value["file"]) > 0:
			// a file input submitted with nothing chosen arrives as a plain value
			writeError(w, http.StatusBadRequest, msgNoFileName)
		default:
			writeError(w, http.StatusBadRequest, msgNoFile)
		}
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, msgNoFileName)
		return
	}
	if err := s.validator.CheckContentType(header.Header.Get("Content-Type")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgNoFile)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, msgNoFileName)
		return
	}

	writeJSON(w, http.StatusOK, s.pipeline.DetectBytes(r.Context(), data))
}

type base64Request struct {
	Image string `json:"image"`
}

func (s *Server) handleDetectBase64(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	var req base64Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
		writeError(w, http.StatusBadRequest, msgNoImageData)
		return
	}

	data, err := processing.DecodeBase64(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBase64)
		return
	}

	writeJSON(w, http.StatusOK, s.pipeline.DetectBytes(r.Context(), data))
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Errorw("handler panic", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, fmt.Sprint(rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Infow("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, types.ErrorResponse{Error: msg})
}
