package vision

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/menta2k/food-detector/pkg/types"
)

// createTestImage creates a solid image of one color
func createTestImage(width, height int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestNumAnchors(t *testing.T) {
	if got := NumAnchors(640); got != 8400 {
		t.Errorf("Expected 8400 anchors for 640, got %d", got)
	}
	if got := NumAnchors(320); got != 2100 {
		t.Errorf("Expected 2100 anchors for 320, got %d", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.InputSize != 640 || cfg.NumClasses != 80 {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
}

func TestNewYOLODetectorValidatesConfig(t *testing.T) {
	if _, err := NewYOLODetector(Config{}, nil); err == nil {
		t.Error("Expected error for empty model path")
	}
	if _, err := NewYOLODetector(Config{ModelPath: "m.onnx", InputSize: 100}, nil); err == nil {
		t.Error("Expected error for input size not divisible by 32")
	}
}

func TestPreprocess(t *testing.T) {
	img := createTestImage(100, 50, color.RGBA{255, 0, 51, 255})
	out := Preprocess(img, 32)

	if len(out) != 3*32*32 {
		t.Fatalf("Expected %d values, got %d", 3*32*32, len(out))
	}
	plane := 32 * 32
	if math.Abs(float64(out[0])-1.0) > 1e-2 {
		t.Errorf("Expected red channel 1.0, got %f", out[0])
	}
	if out[plane] > 1e-2 {
		t.Errorf("Expected green channel 0, got %f", out[plane])
	}
	if math.Abs(float64(out[2*plane])-0.2) > 1e-2 {
		t.Errorf("Expected blue channel 0.2, got %f", out[2*plane])
	}
}

// buildOutput lays out per-anchor boxes and scores in the [4+classes, anchors] format
func buildOutput(numClasses int, boxes [][4]float32, scores []map[int]float32) []float32 {
	anchors := len(boxes)
	out := make([]float32, (4+numClasses)*anchors)
	for i, b := range boxes {
		for k := 0; k < 4; k++ {
			out[k*anchors+i] = b[k]
		}
		for c, s := range scores[i] {
			out[(4+c)*anchors+i] = s
		}
	}
	return out
}

func TestDecodeOutput(t *testing.T) {
	out := buildOutput(80,
		[][4]float32{{320, 320, 100, 200}, {100, 100, 20, 20}, {50, 60, 10, 10}},
		[]map[int]float32{{46: 0.92, 47: 0.1}, {74: 0.3}, {55: 0.1}},
	)

	dets := DecodeOutput(out, 80, 3, 2.0, 0.5, 0.25)
	if len(dets) != 2 {
		t.Fatalf("Expected 2 detections above 0.25, got %d", len(dets))
	}

	banana := dets[0]
	if banana.ClassID != 46 || math.Abs(banana.Confidence-0.92) > 1e-6 {
		t.Errorf("Unexpected first detection: %+v", banana)
	}
	want := types.RawDetection{ClassID: 46, Confidence: banana.Confidence, X1: 540, Y1: 110, X2: 740, Y2: 210}
	if banana != want {
		t.Errorf("Expected %+v, got %+v", want, banana)
	}
	if dets[1].ClassID != 74 {
		t.Errorf("Expected clock second, got class %d", dets[1].ClassID)
	}
}

func TestDecodeOutputEdgeBoxClipped(t *testing.T) {
	out := buildOutput(80,
		[][4]float32{{5, 5, 20, 20}, {630, 470, 40, 40}},
		[]map[int]float32{{46: 0.92}, {53: 0.8}},
	)

	dets := DecodeOutput(out, 80, 2, 1, 1, 0.25)
	if len(dets) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(dets))
	}
	if dets[0].X1 >= 0 || dets[0].Y1 >= 0 {
		t.Fatalf("Expected unclipped decode to cross the top-left edge, got %+v", dets[0])
	}

	ClipToImage(dets, 640, 480)

	first := types.RawDetection{ClassID: 46, Confidence: dets[0].Confidence, X1: 0, Y1: 0, X2: 15, Y2: 15}
	if dets[0] != first {
		t.Errorf("Expected %+v, got %+v", first, dets[0])
	}
	second := types.RawDetection{ClassID: 53, Confidence: dets[1].Confidence, X1: 610, Y1: 450, X2: 640, Y2: 480}
	if dets[1] != second {
		t.Errorf("Expected %+v, got %+v", second, dets[1])
	}
}

func TestDecodeOutputShortBuffer(t *testing.T) {
	if dets := DecodeOutput(make([]float32, 10), 80, 8400, 1, 1, 0.25); dets != nil {
		t.Errorf("Expected nil for short buffer, got %d detections", len(dets))
	}
}

func TestIoU(t *testing.T) {
	a := types.RawDetection{X1: 0, Y1: 0, X2: 10, Y2: 10}
	if got := IoU(a, a); got != 1 {
		t.Errorf("Expected IoU 1 for identical boxes, got %f", got)
	}
	b := types.RawDetection{X1: 5, Y1: 0, X2: 15, Y2: 10}
	if got := IoU(a, b); math.Abs(got-1.0/3.0) > 1e-9 {
		t.Errorf("Expected IoU 1/3, got %f", got)
	}
	c := types.RawDetection{X1: 20, Y1: 20, X2: 30, Y2: 30}
	if got := IoU(a, c); got != 0 {
		t.Errorf("Expected IoU 0 for disjoint boxes, got %f", got)
	}
	if got := IoU(types.RawDetection{}, types.RawDetection{}); got != 0 {
		t.Errorf("Expected IoU 0 for empty boxes, got %f", got)
	}
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []types.RawDetection{
		{ClassID: 46, Confidence: 0.6, X1: 1, Y1: 1, X2: 101, Y2: 101},
		{ClassID: 46, Confidence: 0.9, X1: 0, Y1: 0, X2: 100, Y2: 100},
		{ClassID: 47, Confidence: 0.8, X1: 0, Y1: 0, X2: 100, Y2: 100},
		{ClassID: 46, Confidence: 0.7, X1: 300, Y1: 300, X2: 400, Y2: 400},
	}

	kept := NonMaxSuppression(dets, 0.7)
	if len(kept) != 3 {
		t.Fatalf("Expected 3 boxes after NMS, got %d: %+v", len(kept), kept)
	}
	if kept[0].Confidence != 0.9 || kept[1].ClassID != 47 || kept[2].Confidence != 0.7 {
		t.Errorf("Unexpected NMS result: %+v", kept)
	}
	if dets[0].Confidence != 0.6 {
		t.Error("NMS must not reorder its input")
	}
}
