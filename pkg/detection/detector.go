package detection

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/menta2k/food-detector/pkg/types"
)

// DefaultConfidenceThreshold is the minimum confidence a detection must exceed
const DefaultConfidenceThreshold = 0.5

// CocoLabels is the 80-class vocabulary of the pretrained model, indexed by class id
var CocoLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana",
	"apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza",
	"donut", "cake", "chair", "couch", "potted plant", "bed", "dining table",
	"toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock",
	"vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// FoodItems is the allowlist of food-related class ids
var FoodItems = map[int]string{
	39: "bottle", 40: "wine glass", 41: "cup", 42: "fork", 43: "knife", 44: "spoon", 45: "bowl",
	46: "banana", 47: "apple", 48: "sandwich", 49: "orange", 50: "broccoli", 51: "carrot",
	52: "hot dog", 53: "pizza", 54: "donut", 55: "cake",
}

// Accepted is a detection that passed the food filter
type Accepted struct {
	ClassID    int
	FoodName   string
	Confidence float64
	BBox       types.BBox
}

// Filter decides which raw detections are food-relevant and above threshold
type Filter struct {
	threshold float64
}

// NewFilter creates a filter with the default threshold
func NewFilter() *Filter {
	return &Filter{threshold: DefaultConfidenceThreshold}
}

// NewFilterWithThreshold creates a filter with a custom threshold
func NewFilterWithThreshold(threshold float64) *Filter {
	return &Filter{threshold: threshold}
}

// Threshold returns the confidence threshold in use
func (f *Filter) Threshold() float64 {
	return f.threshold
}

// Accept applies the allowlist and the strict confidence threshold to one detection
func (f *Filter) Accept(raw types.RawDetection) (Accepted, bool) {
	label, ok := FoodItems[raw.ClassID]
	if !ok || raw.Confidence <= f.threshold {
		return Accepted{}, false
	}

	return Accepted{
		ClassID:    raw.ClassID,
		FoodName:   FoodName(label),
		Confidence: raw.Confidence,
		BBox:       types.BBox{int(raw.X1), int(raw.Y1), int(raw.X2), int(raw.Y2)},
	}, true
}

// Apply filters a batch of raw detections, preserving model order
func (f *Filter) Apply(raws []types.RawDetection) []Accepted {
	out := make([]Accepted, 0, len(raws))
	for _, r := range raws {
		if a, ok := f.Accept(r); ok {
			out = append(out, a)
		}
	}
	return out
}

// FoodName turns a model label into a display name: underscores become spaces, title case.
// It is also the normalization used for fact cache keys. A Caser keeps state, so each
// call builds its own.
func FoodName(label string) string {
	label = strings.TrimSpace(strings.ReplaceAll(label, "_", " "))
	return cases.Title(language.English).String(label)
}
