// Package fooddetector finds food in images and annotates it.
//
// A Detector runs an object detection model over an image, keeps only the
// food-related classes above a confidence threshold, optionally attaches a
// cached carbon footprint fact to each detection, and draws the boxes and
// labels onto a copy of the image.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//		"os"
//
//		fooddetector "github.com/menta2k/food-detector"
//		"github.com/menta2k/food-detector/pkg/vision"
//	)
//
//	func main() {
//		model, err := vision.NewYOLODetector(vision.DefaultConfig(), nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		det, err := fooddetector.New(model)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer det.Close()
//
//		data, _ := os.ReadFile("lunch.jpg")
//		resp := det.DetectBytes(context.Background(), data)
//		fmt.Println(resp.Message)
//	}
//
// The package consists of these components:
//
// 1. Vision (pkg/vision): YOLOv8 ONNX model runtime
// 2. Detection (pkg/detection): food class allowlist and confidence filter
// 3. Fact cache (pkg/factcache): cached, rate limited carbon footprint lookups
// 4. Processing (pkg/processing): decoding, encoding and box/label rendering
// 5. Analyzer (pkg/analyzer): upload validation
package fooddetector

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/food-detector/pkg/analyzer"
	"github.com/menta2k/food-detector/pkg/detection"
	"github.com/menta2k/food-detector/pkg/factcache"
	"github.com/menta2k/food-detector/pkg/processing"
	"github.com/menta2k/food-detector/pkg/types"
	"github.com/menta2k/food-detector/pkg/vision"
)

// Version of the food detector library
const Version = "1.0.0"

// ErrUndecodable is reported when the uploaded bytes are not an image
var ErrUndecodable = errors.New("Could not decode image")

// Enricher looks up a fact for a food name. *factcache.Cache implements it.
type Enricher interface {
	Lookup(ctx context.Context, foodName string) factcache.Result
}

// Detector is the detection pipeline
type Detector struct {
	model       vision.Model
	filter      *detection.Filter
	analyzer    *analyzer.ImageAnalyzer
	processor   *processing.Processor
	annotator   *processing.Annotator
	enricher    Enricher
	jpegQuality int
	logger      *zap.SugaredLogger
}

// Option configures a Detector
type Option func(*Detector)

// WithFilter replaces the default 0.5 threshold filter
func WithFilter(f *detection.Filter) Option {
	return func(d *Detector) { d.filter = f }
}

// WithEnricher enables carbon footprint enrichment
func WithEnricher(e Enricher) Option {
	return func(d *Detector) { d.enricher = e }
}

// WithAnalyzer replaces the default upload validation
func WithAnalyzer(a *analyzer.ImageAnalyzer) Option {
	return func(d *Detector) { d.analyzer = a }
}

// WithAnnotator replaces the default rendering style
func WithAnnotator(a *processing.Annotator) Option {
	return func(d *Detector) { d.annotator = a }
}

// WithJPEGQuality sets the quality of the annotated image
func WithJPEGQuality(q int) Option {
	return func(d *Detector) { d.jpegQuality = q }
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Detector) { d.logger = l }
}

// New creates a Detector around a loaded model
func New(model vision.Model, opts ...Option) (*Detector, error) {
	if model == nil {
		return nil, errors.New("model is nil")
	}
	d := &Detector{
		model:       model,
		filter:      detection.NewFilter(),
		analyzer:    analyzer.New(),
		processor:   processing.NewProcessor(),
		annotator:   processing.NewAnnotator(),
		jpegQuality: processing.DefaultJPEGQuality,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop().Sugar()
	}
	return d, nil
}

// EnrichmentEnabled reports whether detections get carbon footprint facts
func (d *Detector) EnrichmentEnabled() bool {
	return d.enricher != nil
}

// Analyzer returns the upload validator
func (d *Detector) Analyzer() *analyzer.ImageAnalyzer {
	return d.analyzer
}

// DetectImage runs the model, filters to food classes and attaches facts.
// The returned slice is never nil.
func (d *Detector) DetectImage(ctx context.Context, img image.Image) ([]types.Detection, error) {
	raws, err := d.model.Detect(ctx, img)
	if err != nil {
		return nil, errors.Wrap(err, "model inference failed")
	}

	accepted := d.filter.Apply(raws)
	dets := make([]types.Detection, 0, len(accepted))
	for _, a := range accepted {
		det := types.Detection{
			ClassID:    a.ClassID,
			FoodName:   a.FoodName,
			Confidence: a.Confidence,
			BBox:       a.BBox,
		}
		if d.enricher != nil {
			res := d.enricher.Lookup(ctx, a.FoodName)
			det.CarbonFootprintInfo = res.Fact
			d.logger.Debugw("fact lookup", "food", a.FoodName, "outcome", res.Outcome.String())
		}
		dets = append(dets, det)
	}
	return dets, nil
}

// Annotate draws detections onto a copy of img; img itself is not modified
func (d *Detector) Annotate(img image.Image, dets []types.Detection) *image.RGBA {
	canvas := processing.CloneRGBA(img)
	for _, det := range dets {
		d.annotator.DrawDetection(canvas, det.BBox, processing.Label(det.FoodName, det.Confidence), det.Confidence)
	}
	return canvas
}

// Process runs the full pipeline on a decoded image
func (d *Detector) Process(ctx context.Context, img image.Image) (*types.DetectResponse, error) {
	dets, err := d.DetectImage(ctx, img)
	if err != nil {
		return nil, err
	}

	annotated := d.Annotate(img, dets)
	encoded, err := d.processor.EncodeBase64(annotated, "jpg", d.jpegQuality, 0)
	if err != nil {
		return nil, errors.Wrap(err, "encode annotated image")
	}

	return &types.DetectResponse{
		Detections:      dets,
		AnnotatedImage:  encoded,
		Success:         true,
		Message:         fmt.Sprintf("Found %d food items", len(dets)),
		TotalDetections: len(dets),
	}, nil
}

// DetectBytes decodes, validates and processes raw image bytes. It never returns
// nil; every failure becomes a response with Success false.
func (d *Detector) DetectBytes(ctx context.Context, data []byte) (resp *types.DetectResponse) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("panic in detection pipeline", "panic", r)
			resp = Failure(errors.Errorf("%v", r))
		}
	}()

	img, format, err := d.processor.DecodeImage(data)
	if err != nil {
		return Failure(ErrUndecodable)
	}
	if err := d.analyzer.Validate(img, format); err != nil {
		return Failure(err)
	}

	resp, err = d.Process(ctx, img)
	if err != nil {
		d.logger.Warnw("detection failed", "error", err)
		return Failure(err)
	}
	return resp
}

// Close releases the model
func (d *Detector) Close() error {
	return d.model.Close()
}

// Failure builds the structured failure response for a pipeline error
func Failure(err error) *types.DetectResponse {
	return &types.DetectResponse{
		Detections:     []types.Detection{},
		AnnotatedImage: "",
		Success:        false,
		Message:        "Error processing image: " + err.Error(),
	}
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
