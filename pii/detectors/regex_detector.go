package pii

import (
	"context"
	"regexp"
	"sort"
)

// RegexDetector matches the description against PIIPatterns. Pattern
// hits carry no model certainty, so results are always low confidence.
type RegexDetector struct {
	labels   []string
	patterns map[string]*regexp.Regexp
}

func NewRegexDetector(patterns map[string]string) *RegexDetector {
	regexMap := make(map[string]*regexp.Regexp)
	labels := make([]string, 0, len(patterns))
	for label, pattern := range patterns {
		regexMap[label] = regexp.MustCompile(pattern)
		labels = append(labels, label)
	}
	sort.Strings(labels)

	return &RegexDetector{
		labels:   labels,
		patterns: regexMap,
	}
}

// GetName returns the name of this detector
func (r *RegexDetector) GetName() string {
	return DetectorNameRegex
}

// Detect processes the input and returns the folded result
func (r *RegexDetector) Detect(ctx context.Context, input DetectorInput) (PIIResult, error) {
	entities := r.FindEntities(input.Description)
	// threshold above 1 keeps pattern results at low
	return entitiesToResult(entities, 2), nil
}

// FindEntities returns every pattern match in text.
func (r *RegexDetector) FindEntities(text string) []Entity {
	var entities []Entity
	for _, label := range r.labels {
		matches := r.patterns[label].FindAllStringIndex(text, -1)
		for _, match := range matches {
			entities = append(entities, Entity{
				Text:       text[match[0]:match[1]],
				Label:      label,
				StartPos:   match[0],
				EndPos:     match[1],
				Confidence: 1.0,
			})
		}
	}
	return entities
}

// Close implements the Detector interface
func (r *RegexDetector) Close() error {
	return nil
}
