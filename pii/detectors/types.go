package pii

import (
	"fmt"
	"strings"
)

// Confidence is the certainty tier attached to a PIIResult. It gates
// cloud escalation in the hybrid service.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
	ConfidenceError   Confidence = "error"
)

// ParseConfidence maps a model-supplied tier to a Confidence. Anything
// unrecognised becomes medium.
func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceLow:
		return ConfidenceLow
	case ConfidenceUnknown:
		return ConfidenceUnknown
	case ConfidenceError:
		return ConfidenceError
	default:
		return ConfidenceMedium
	}
}

// PII categories
const (
	CategoryCreditCard    = "credit_card"
	CategorySSN           = "ssn"
	CategoryFace          = "face"
	CategoryAddress       = "address"
	CategoryEmail         = "email"
	CategoryPhone         = "phone"
	CategoryIDCard        = "id_card"
	CategoryComprehensive = "comprehensive"

	// CategoryUnspecified marks a positive that named no category
	CategoryUnspecified = "unspecified"
)

// KnownCategories lists the detector vocabulary in prompt order.
// CategoryComprehensive is reserved for the region generator and
// CategoryUnspecified for the extractor.
var KnownCategories = []string{
	CategoryCreditCard,
	CategorySSN,
	CategoryFace,
	CategoryAddress,
	CategoryEmail,
	CategoryPhone,
	CategoryIDCard,
}

var categoryAliases = map[string]string{
	"credit_card_number":     CategoryCreditCard,
	"card_number":            CategoryCreditCard,
	"debit_card":             CategoryCreditCard,
	"creditcard":             CategoryCreditCard,
	"social_security":        CategorySSN,
	"social_security_number": CategorySSN,
	"socialnum":              CategorySSN,
	"faces":                  CategoryFace,
	"person":                 CategoryFace,
	"street_address":         CategoryAddress,
	"home_address":           CategoryAddress,
	"mailing_address":        CategoryAddress,
	"e_mail":                 CategoryEmail,
	"email_address":          CategoryEmail,
	"phone_number":           CategoryPhone,
	"telephone":              CategoryPhone,
	"telephone_number":       CategoryPhone,
	"mobile":                 CategoryPhone,
	"id":                     CategoryIDCard,
	"id_number":              CategoryIDCard,
	"identification":         CategoryIDCard,
	"passport":               CategoryIDCard,
	"drivers_license":        CategoryIDCard,
	"driver's_license":       CategoryIDCard,
	"driver_license":         CategoryIDCard,
	"government_id":          CategoryIDCard,
}

// CanonicalCategory lowercases s, folds separators to underscores and
// resolves well-known aliases. Unknown non-empty values are kept.
func CanonicalCategory(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.Trim(key, "\"'`.:;,")
	if key == "" {
		return ""
	}
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	for strings.Contains(key, "__") {
		key = strings.ReplaceAll(key, "__", "_")
	}
	if canonical, ok := categoryAliases[key]; ok {
		return canonical
	}
	return key
}

// IsKnownCategory reports whether category is part of the detector vocabulary.
func IsKnownCategory(category string) bool {
	for _, known := range KnownCategories {
		if category == known {
			return true
		}
	}
	return false
}

// Region is a normalized rectangle, in image fractions with a top-left
// origin, marking an area to obscure.
type Region struct {
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PIIResult is the output of every detection stage.
type PIIResult struct {
	HasPII     bool       `json:"hasPII"`
	Confidence Confidence `json:"confidence"`
	Types      []string   `json:"types"`
	Count      int        `json:"count"`
	Regions    []Region   `json:"regions,omitempty"`
}

// Normalize enforces hasPII == (len(types) > 0) == (count > 0). Types
// are canonicalized and deduplicated in first-seen order. Detector
// output never carries regions.
func (r PIIResult) Normalize() PIIResult {
	types := make([]string, 0, len(r.Types))
	seen := make(map[string]bool, len(r.Types))
	if r.HasPII {
		for _, t := range r.Types {
			c := CanonicalCategory(t)
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			types = append(types, c)
		}
	}

	confidence := r.Confidence
	if confidence == "" {
		confidence = ConfidenceMedium
	}

	return PIIResult{
		HasPII:     len(types) > 0,
		Confidence: confidence,
		Types:      types,
		Count:      len(types),
		Regions:    nil,
	}
}

func (r PIIResult) String() string {
	return fmt.Sprintf("hasPII=%t confidence=%s types=%v count=%d", r.HasPII, r.Confidence, r.Types, r.Count)
}

// Valid reports whether the consistency invariant holds.
func (r PIIResult) Valid() bool {
	return r.HasPII == (len(r.Types) > 0) && (len(r.Types) > 0) == (r.Count > 0) && r.Count == len(r.Types)
}

// ErrorResult is returned when a detector fails in a way it absorbs.
func ErrorResult() PIIResult {
	return PIIResult{HasPII: false, Confidence: ConfidenceError, Types: []string{}, Count: 0}
}

// NoPIIResult is a clean negative at the given confidence.
func NoPIIResult(confidence Confidence) PIIResult {
	return PIIResult{HasPII: false, Confidence: confidence, Types: []string{}, Count: 0}
}

// DetectorInput represents the input for PII detection
type DetectorInput struct {
	Description string `json:"description"`
}

// Entity represents a span found by a token classifier or pattern
// detector before it is folded into a PIIResult.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
	Confidence float64 `json:"confidence"`
}

// entityLabelCategories maps NER labels onto PII categories. Labels not
// listed (names, dates, usernames) have no redaction region.
var entityLabelCategories = map[string]string{
	"EMAIL":            CategoryEmail,
	"TELEPHONENUM":     CategoryPhone,
	"SOCIALNUM":        CategorySSN,
	"CREDITCARDNUMBER": CategoryCreditCard,
	"IDCARDNUM":        CategoryIDCard,
	"DRIVERLICENSENUM": CategoryIDCard,
	"PASSPORTNUM":      CategoryIDCard,
	"STREET":           CategoryAddress,
	"CITY":             CategoryAddress,
	"BUILDINGNUM":      CategoryAddress,
	"ZIPCODE":          CategoryAddress,
}

// entitiesToResult folds entities into a normalized result. Confidence
// is medium when any mapped entity scores at least strongThreshold and
// low otherwise; pattern and NER detectors never claim high.
func entitiesToResult(entities []Entity, strongThreshold float64) PIIResult {
	var types []string
	strong := false
	for _, e := range entities {
		category, ok := entityLabelCategories[strings.ToUpper(e.Label)]
		if !ok {
			continue
		}
		types = append(types, category)
		if e.Confidence >= strongThreshold {
			strong = true
		}
	}

	confidence := ConfidenceLow
	if strong {
		confidence = ConfidenceMedium
	}
	return PIIResult{HasPII: len(types) > 0, Confidence: confidence, Types: types}.Normalize()
}
