package processing

import (
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/food-detector/pkg/types"
)

func blankCanvas(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func TestConfidenceColor(t *testing.T) {
	cases := []struct {
		conf float64
		want color.RGBA
	}{
		{0.95, TierHigh},
		{0.81, TierHigh},
		{0.8, TierMedium},
		{0.61, TierMedium},
		{0.6, TierLow},
		{0.51, TierLow},
	}
	for _, c := range cases {
		if got := ConfidenceColor(c.conf); got != c.want {
			t.Errorf("ConfidenceColor(%.2f) = %v, want %v", c.conf, got, c.want)
		}
	}
}

func TestLabel(t *testing.T) {
	if got := Label("Banana", 0.92); got != "Banana: 92.0%" {
		t.Errorf("Unexpected label %q", got)
	}
	if got := Label("Hot Dog", 0.5555); got != "Hot Dog: 55.5%" && got != "Hot Dog: 55.6%" {
		t.Errorf("Unexpected label %q", got)
	}
}

func TestDrawDetectionMutatesInPlace(t *testing.T) {
	a := NewAnnotator()
	img := blankCanvas(300, 300)
	box := types.BBox{40, 100, 200, 250}

	a.DrawDetection(img, box, Label("Banana", 0.92), 0.92)

	// left edge of the box outline
	if got := img.RGBAAt(40, 175); got != TierHigh {
		t.Errorf("Expected box outline color at left edge, got %v", got)
	}
	// plate sits above the box, left of where the text starts
	if got := img.RGBAAt(41, 97); got != TierHigh {
		t.Errorf("Expected plate color above box, got %v", got)
	}
	// far corner untouched
	if got := img.RGBAAt(290, 10); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("Expected untouched pixel, got %v", got)
	}
}

func TestDrawDetectionTierColors(t *testing.T) {
	a := NewAnnotator()
	for _, conf := range []float64{0.7, 0.55} {
		img := blankCanvas(200, 200)
		a.DrawDetection(img, types.BBox{20, 80, 150, 180}, Label("Apple", conf), conf)
		want := ConfidenceColor(conf)
		if got := img.RGBAAt(20, 130); got != want {
			t.Errorf("conf %.2f: expected %v, got %v", conf, want, got)
		}
	}
}

func TestDrawDetectionPlateAtTopEdge(t *testing.T) {
	a := NewAnnotator()
	img := blankCanvas(200, 200)
	box := types.BBox{10, 0, 150, 120}

	a.DrawDetection(img, box, Label("Cake", 0.9), 0.9)

	// plate hangs inside the box below the top edge
	if got := img.RGBAAt(11, 4); got != TierHigh {
		t.Errorf("Expected plate inside box at top edge, got %v", got)
	}
}

func TestLabelPlate(t *testing.T) {
	a := NewAnnotator()

	above := a.labelPlate(types.BBox{10, 50, 100, 100}, 40, 12, 4)
	if above != image.Rect(10, 29, 55, 50) {
		t.Errorf("Unexpected plate above box: %v", above)
	}

	inside := a.labelPlate(types.BBox{10, 5, 100, 100}, 40, 12, 4)
	if inside != image.Rect(10, 5, 55, 26) {
		t.Errorf("Unexpected plate inside box: %v", inside)
	}
}

func TestDrawTextLines(t *testing.T) {
	a := NewAnnotator()
	img := blankCanvas(200, 120)
	a.DrawTextLines(img, []string{"Controls:", "Q - Quit"}, image.Pt(10, 30), 14, 20, TextColor)

	lit := 0
	for y := 10; y < 60; y++ {
		for x := 10; x < 120; x++ {
			if img.RGBAAt(x, y).R > 128 {
				lit++
			}
		}
	}
	if lit == 0 {
		t.Error("Expected some text pixels to be drawn")
	}
}

func BenchmarkDrawDetection(b *testing.B) {
	a := NewAnnotator()
	img := blankCanvas(640, 480)
	box := types.BBox{100, 100, 300, 300}
	label := Label("Pizza", 0.87)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.DrawDetection(img, box, label, 0.87)
	}
}
