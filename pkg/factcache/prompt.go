package factcache

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/menta2k/food-detector/pkg/types"
)

// PromptTemplate asks for a JSON object with a one-line fact and a paragraph of detail
const PromptTemplate = `Provide information about the carbon footprint of %s.

Respond ONLY with a valid JSON object. No text before or after it, no markdown, no code fences.

The object must contain exactly these fields:
- "concise_fact": one short line with the approximate carbon footprint (e.g. "0.1kg CO2 per kg")
- "detailed_info": one paragraph explaining the footprint, what drives it, and lower-impact alternatives

Example:
{"concise_fact": "Banana: 0.1kg CO2 per kg", "detailed_info": "Bananas have a relatively low carbon footprint compared to other foods..."}`

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// BuildPrompt renders the lookup prompt for a food name
func BuildPrompt(foodName string) string {
	return fmt.Sprintf(PromptTemplate, foodName)
}

// ParseFact extracts a FoodFact from a model reply. Code fences, comments and
// trailing commas are tolerated; a reply without a concise fact is an error.
func ParseFact(raw string) (*types.FoodFact, error) {
	cleaned := sanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, errors.New("no JSON object in reply")
	}

	var fact types.FoodFact
	if err := json.Unmarshal([]byte(cleaned), &fact); err != nil {
		return nil, errors.Wrap(err, "decode fact JSON")
	}
	fact.ConciseFact = strings.TrimSpace(fact.ConciseFact)
	fact.DetailedInfo = strings.TrimSpace(fact.DetailedInfo)
	if fact.ConciseFact == "" {
		return nil, errors.New("reply has no concise_fact")
	}
	return &fact, nil
}

// FallbackFact is cached in place of a reply that could not be parsed
func FallbackFact(foodName string) *types.FoodFact {
	return &types.FoodFact{
		ConciseFact: fmt.Sprintf("%s: Carbon footprint data unavailable", foodName),
		DetailedInfo: fmt.Sprintf("Carbon footprint information for %s is currently unavailable. "+
			"This could be due to limited data or processing issues.", foodName),
	}
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
