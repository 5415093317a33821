package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/menta2k/food-detector/pkg/types"
)

// Confidence tier colors
var (
	TierHigh   = color.RGBA{0, 255, 0, 255}   // > 0.8
	TierMedium = color.RGBA{255, 255, 0, 255} // > 0.6
	TierLow    = color.RGBA{255, 165, 0, 255}
	TextColor  = color.RGBA{255, 255, 255, 255}
)

const (
	defaultFontSize  = 16
	defaultLineWidth = 3
	defaultPadding   = 5
)

var regularFont *truetype.Font

func init() {
	var err error
	regularFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// ConfidenceColor picks the annotation color for a confidence value
func ConfidenceColor(confidence float64) color.RGBA {
	switch {
	case confidence > 0.8:
		return TierHigh
	case confidence > 0.6:
		return TierMedium
	default:
		return TierLow
	}
}

// Label formats the text drawn above a detection, e.g. "Banana: 92.0%"
func Label(name string, confidence float64) string {
	return fmt.Sprintf("%s: %.1f%%", name, confidence*100)
}

// Annotator draws detection boxes and labels. Faces are created per call,
// so one Annotator may be shared between goroutines.
type Annotator struct {
	FontSize  float64
	LineWidth float64
	Padding   int
}

// NewAnnotator creates an annotator with default styling
func NewAnnotator() *Annotator {
	return &Annotator{
		FontSize:  defaultFontSize,
		LineWidth: defaultLineWidth,
		Padding:   defaultPadding,
	}
}

func (a *Annotator) face(size float64) font.Face {
	return truetype.NewFace(regularFont, &truetype.Options{Size: size})
}

// DrawDetection mutates dst in place: box outline, a filled label plate sized to
// the text, then the text. If the plate would cross the top edge of the image it
// is drawn inside the box instead, hanging down from the top edge.
func (a *Annotator) DrawDetection(dst *image.RGBA, box types.BBox, label string, confidence float64) {
	c := ConfidenceColor(confidence)
	dc := gg.NewContextForRGBA(dst)

	x1, y1 := float64(box.X1()), float64(box.Y1())
	dc.SetColor(c)
	dc.SetLineWidth(a.LineWidth)
	dc.DrawRectangle(x1, y1, float64(box.X2()-box.X1()), float64(box.Y2()-box.Y1()))
	dc.Stroke()

	face := a.face(a.FontSize)
	defer face.Close()
	dc.SetFontFace(face)

	tw, _ := dc.MeasureString(label)
	m := face.Metrics()
	ascent, descent := m.Ascent.Ceil(), m.Descent.Ceil()
	plate := a.labelPlate(box, int(math.Ceil(tw)), ascent, descent)

	dc.SetColor(c)
	dc.DrawRectangle(float64(plate.Min.X), float64(plate.Min.Y), float64(plate.Dx()), float64(plate.Dy()))
	dc.Fill()

	dc.SetColor(TextColor)
	dc.DrawString(label, float64(plate.Min.X+a.Padding/2), float64(plate.Max.Y-descent-a.Padding/2))
}

// labelPlate returns the plate rectangle for a label of the given text extents
func (a *Annotator) labelPlate(box types.BBox, textWidth, ascent, descent int) image.Rectangle {
	h := ascent + descent + a.Padding
	w := textWidth + a.Padding
	top := box.Y1() - h
	if top < 0 {
		return image.Rect(box.X1(), box.Y1(), box.X1()+w, box.Y1()+h)
	}
	return image.Rect(box.X1(), top, box.X1()+w, box.Y1())
}

// DrawTextLines draws lines of text starting at origin (baseline of the first line)
func (a *Annotator) DrawTextLines(dst *image.RGBA, lines []string, origin image.Point, size, lineHeight float64, c color.Color) {
	dc := gg.NewContextForRGBA(dst)
	face := a.face(size)
	defer face.Close()
	dc.SetFontFace(face)
	dc.SetColor(c)
	y := float64(origin.Y)
	for _, line := range lines {
		dc.DrawString(line, float64(origin.X), y)
		y += lineHeight
	}
}
