package types

// RawDetection is one object instance reported by the model, before any filtering.
// Box coordinates are in source image pixels.
type RawDetection struct {
	ClassID    int
	Confidence float64
	X1, Y1     float64
	X2, Y2     float64
}

// BBox is an integer pixel bounding box serialized as [x1, y1, x2, y2]
type BBox [4]int

// X1 returns the left edge
func (b BBox) X1() int { return b[0] }

// Y1 returns the top edge
func (b BBox) Y1() int { return b[1] }

// X2 returns the right edge
func (b BBox) X2() int { return b[2] }

// Y2 returns the bottom edge
func (b BBox) Y2() int { return b[3] }

// FoodFact holds the short and long carbon footprint text for a food
type FoodFact struct {
	ConciseFact  string `json:"concise_fact"`
	DetailedInfo string `json:"detailed_info"`
}

// Detection is an accepted, food-relevant detection returned to clients.
// CarbonFootprintInfo is serialized as null when no fact is available.
type Detection struct {
	ClassID             int       `json:"class_id"`
	FoodName            string    `json:"food_name"`
	Confidence          float64   `json:"confidence"`
	BBox                BBox      `json:"bbox"`
	CarbonFootprintInfo *FoodFact `json:"carbon_footprint_info"`
}

// DetectResponse is the body returned by the detection endpoints
type DetectResponse struct {
	Detections      []Detection `json:"detections"`
	AnnotatedImage  string      `json:"annotated_image"`
	Success         bool        `json:"success"`
	Message         string      `json:"message"`
	TotalDetections int         `json:"total_detections"`
}

// ErrorResponse is the body returned for client errors
type ErrorResponse struct {
	Error string `json:"error"`
}
