// Package vision runs a YOLOv8 object detection model exported to ONNX.
package vision

import (
	"context"
	"image"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/menta2k/food-detector/pkg/types"
)

// Model produces raw detections for an image
type Model interface {
	Detect(ctx context.Context, img image.Image) ([]types.RawDetection, error)
	Close() error
}

// Config holds model runtime settings
type Config struct {
	ModelPath         string
	SharedLibraryPath string
	InputSize         int
	NumClasses        int
	ScoreThreshold    float64
	IOUThreshold      float64
	PoolSize          int
	IntraOpThreads    int
}

// DefaultConfig returns settings for the stock yolov8n COCO export
func DefaultConfig() Config {
	return Config{
		ModelPath:      "yolov8n.onnx",
		InputSize:      640,
		NumClasses:     80,
		ScoreThreshold: 0.25,
		IOUThreshold:   0.7,
		PoolSize:       2,
		IntraOpThreads: 1,
	}
}

// NumAnchors returns the number of prediction anchors for a square input size
// (strides 8, 16 and 32).
func NumAnchors(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

type session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *session) destroy() error {
	return multierr.Combine(s.session.Destroy(), s.input.Destroy(), s.output.Destroy())
}

var envMu sync.Mutex

// YOLODetector runs inference over a fixed pool of ONNX sessions so concurrent
// callers never share tensors.
type YOLODetector struct {
	config   Config
	anchors  int
	sessions chan *session
	all      []*session
	logger   *zap.SugaredLogger
}

// NewYOLODetector loads the model and pre-creates the session pool
func NewYOLODetector(config Config, logger *zap.SugaredLogger) (*YOLODetector, error) {
	if config.ModelPath == "" {
		return nil, errors.New("model path is empty")
	}
	if config.InputSize <= 0 || config.InputSize%32 != 0 {
		return nil, errors.Errorf("input size must be a positive multiple of 32, got %d", config.InputSize)
	}
	if config.PoolSize < 1 {
		config.PoolSize = 1
	}
	if config.PoolSize > runtime.NumCPU() {
		config.PoolSize = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if err := initEnvironment(config.SharedLibraryPath); err != nil {
		return nil, err
	}

	d := &YOLODetector{
		config:   config,
		anchors:  NumAnchors(config.InputSize),
		sessions: make(chan *session, config.PoolSize),
		logger:   logger,
	}
	for i := 0; i < config.PoolSize; i++ {
		s, err := d.newSession()
		if err != nil {
			return nil, multierr.Append(errors.Wrapf(err, "create model session %d", i), d.Close())
		}
		d.all = append(d.all, s)
		d.sessions <- s
	}
	logger.Infow("model loaded", "path", config.ModelPath, "sessions", config.PoolSize, "input", config.InputSize)
	return d, nil
}

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	return errors.Wrap(ort.InitializeEnvironment(), "initialize onnxruntime")
}

func (d *YOLODetector) newSession() (*session, error) {
	size := int64(d.config.InputSize)
	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*size*size))
	if err != nil {
		return nil, err
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+d.config.NumClasses), int64(d.anchors)))
	if err != nil {
		return nil, multierr.Append(err, input.Destroy())
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, multierr.Combine(err, input.Destroy(), output.Destroy())
	}
	defer options.Destroy()
	if d.config.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(d.config.IntraOpThreads); err != nil {
			return nil, multierr.Combine(err, input.Destroy(), output.Destroy())
		}
	}

	s, err := ort.NewAdvancedSession(d.config.ModelPath,
		[]string{"images"}, []string{"output0"},
		[]ort.Value{input}, []ort.Value{output}, options)
	if err != nil {
		return nil, multierr.Combine(err, input.Destroy(), output.Destroy())
	}
	return &session{session: s, input: input, output: output}, nil
}

// Detect runs the model on an image and returns detections in source pixels, after NMS
func (d *YOLODetector) Detect(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	input := Preprocess(img, d.config.InputSize)

	var s *session
	select {
	case s = <-d.sessions:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { d.sessions <- s }()

	copy(s.input.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "run inference")
	}

	b := img.Bounds()
	scaleX := float64(b.Dx()) / float64(d.config.InputSize)
	scaleY := float64(b.Dy()) / float64(d.config.InputSize)
	raw := DecodeOutput(s.output.GetData(), d.config.NumClasses, d.anchors, scaleX, scaleY, d.config.ScoreThreshold)
	ClipToImage(raw, float64(b.Dx()), float64(b.Dy()))
	dets := NonMaxSuppression(raw, d.config.IOUThreshold)
	d.logger.Debugw("inference done", "candidates", len(raw), "detections", len(dets))
	return dets, nil
}

// Close destroys every session. The shared onnxruntime environment stays up.
func (d *YOLODetector) Close() error {
	var err error
	for _, s := range d.all {
		err = multierr.Append(err, s.destroy())
	}
	d.all = nil
	return err
}

// Preprocess resizes an image to size x size and packs it as normalized CHW float32
func Preprocess(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	b := resized.Bounds()
	plane := size * size
	out := make([]float32, 3*plane)
	idx := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out[idx] = float32(r>>8) / 255.0
			out[idx+plane] = float32(g>>8) / 255.0
			out[idx+2*plane] = float32(bl>>8) / 255.0
			idx++
		}
	}
	return out
}

// DecodeOutput converts a [4+classes, anchors] YOLOv8 output into detections.
// Box rows are cx, cy, w, h in model input pixels; they are scaled back to the source image.
func DecodeOutput(output []float32, numClasses, anchors int, scaleX, scaleY, scoreThreshold float64) []types.RawDetection {
	if len(output) < (4+numClasses)*anchors {
		return nil
	}
	var dets []types.RawDetection
	for i := 0; i < anchors; i++ {
		classID, best := -1, float32(0)
		for c := 0; c < numClasses; c++ {
			if v := output[(4+c)*anchors+i]; v > best {
				best, classID = v, c
			}
		}
		if classID < 0 || float64(best) < scoreThreshold {
			continue
		}

		cx := float64(output[i])
		cy := float64(output[anchors+i])
		w := float64(output[2*anchors+i])
		h := float64(output[3*anchors+i])
		dets = append(dets, types.RawDetection{
			ClassID:    classID,
			Confidence: float64(best),
			X1:         (cx - w/2) * scaleX,
			Y1:         (cy - h/2) * scaleY,
			X2:         (cx + w/2) * scaleX,
			Y2:         (cy + h/2) * scaleY,
		})
	}
	return dets
}

// ClipToImage clamps box edges in place to [0,w] horizontally and [0,h] vertically
func ClipToImage(dets []types.RawDetection, w, h float64) {
	for i := range dets {
		d := &dets[i]
		d.X1 = math.Min(math.Max(d.X1, 0), w)
		d.X2 = math.Min(math.Max(d.X2, 0), w)
		d.Y1 = math.Min(math.Max(d.Y1, 0), h)
		d.Y2 = math.Min(math.Max(d.Y2, 0), h)
	}
}

// NonMaxSuppression keeps the highest scoring box among same-class boxes overlapping above iouThreshold.
// The result is sorted by descending confidence.
func NonMaxSuppression(dets []types.RawDetection, iouThreshold float64) []types.RawDetection {
	sorted := make([]types.RawDetection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	out := make([]types.RawDetection, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		out = append(out, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if IoU(sorted[i], sorted[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return out
}

// IoU returns the intersection over union of two boxes
func IoU(a, b types.RawDetection) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := (a.X2-a.X1)*(a.Y2-a.Y1) + (b.X2-b.X1)*(b.Y2-b.Y1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
