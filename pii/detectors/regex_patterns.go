package pii

import "regexp"

// PIIPatterns defines regex patterns for the entity labels the regex
// detector reports. Labels match entityLabelCategories.
var PIIPatterns = map[string]string{
	"EMAIL":            `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
	"TELEPHONENUM":     `(?:\+?1[-.\s]?)?\(?\b[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s][0-9]{4}\b`,
	"SOCIALNUM":        `\b\d{3}[- ]\d{2}[- ]\d{4}\b`,
	"CREDITCARDNUMBER": `\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`,
	"IDCARDNUM":        `\b(?:ID|id)[\s#:]+([A-Z0-9]{6,12})\b`,
	"DRIVERLICENSENUM": `\b(?:DL|license)[\s#:]*([A-Z][0-9]{7,9})\b`,
	"PASSPORTNUM":      `\b(?i:passport)(?:\s+(?:no\.?|number))?[\s#:]+([A-Z0-9]{6,9})\b`,
	"ZIPCODE":          `\b[A-Z]{2}\s+\d{5}(?:-\d{4})?\b`,
}

// Shape patterns used by the heuristic fallback. They apply to model
// text and description regardless of surrounding negation.
var (
	ssnShapePattern  = regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b`)
	cardShapePattern = regexp.MustCompile(`\b\d{4}[- ]\d{4}[- ]\d{4}[- ]\d{4}\b`)

	emailShapePattern = regexp.MustCompile(PIIPatterns["EMAIL"])
)
