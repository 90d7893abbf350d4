package pii

import (
	"strings"
)

// negationWindow is how many bytes before a keyword are checked for a
// negation marker.
const negationWindow = 20

var negationMarkers = []string{"no ", "not ", "0 ", "zero "}

// negativeAssertions are description phrases stating there is nothing
// to find.
var negativeAssertions = []string{
	"no visible text",
	"no text",
	"no readable text",
	"no personal information",
	"no pii",
	"no personally identifiable",
	"does not contain any text",
	"without any text",
}

// strongKeywords override a negative assertion in the description.
var strongKeywords = []string{
	"ssn",
	"social security",
	"credit card",
	"debit card",
	"card number",
	"passport",
	"license",
	"id card",
	"identification",
	"email",
	"phone number",
	"address",
	"@",
}

var (
	natureTerms = []string{"flower", "plant", "tree", "leaf", "leaves", "garden", "forest", "landscape", "mountain", "grass", "sunset", "beach"}
	personTerms = []string{"person", "people", "man", "woman", "child", "boy", "girl", "selfie", "portrait", "someone"}
)

type keywordRule struct {
	category string
	keywords []string
	// reject discards a hit at index at of text; description is the
	// full image description.
	reject func(text string, at int, keyword, description string) bool
}

var keywordRules = []keywordRule{
	{
		category: CategorySSN,
		keywords: []string{
			"ssn", "social security",
			// OCR misreads of "social security"
			"sociat seourity", "social securlty", "national secretary", "secretary of state",
		},
	},
	{
		category: CategoryCreditCard,
		keywords: []string{"credit card", "debit card", "card number", "bank card", "mastercard", "american express"},
	},
	{
		category: CategoryFace,
		keywords: []string{"face", "faces", "selfie", "portrait"},
		reject:   rejectFace,
	},
	{
		category: CategoryAddress,
		keywords: []string{"address", "addresses", "street", "avenue", "zip code", "postal code"},
		reject:   rejectAddress,
	},
	{
		category: CategoryEmail,
		keywords: []string{"email", "emails", "e-mail"},
	},
	{
		category: CategoryPhone,
		keywords: []string{"phone", "phones", "telephone", "phone number", "mobile number", "cell number"},
		reject:   rejectPhone,
	},
	{
		category: CategoryIDCard,
		keywords: []string{"passport", "driver's license", "drivers license", "driver license", "id card", "identification card", "identity card", "national id", "license"},
	},
}

// HeuristicResult classifies text when no structured output could be
// recovered. An explicit negative description wins outright and yields
// a medium-confidence negative. Otherwise keyword and pattern hits are
// collected from both texts and reported with low confidence.
func HeuristicResult(modelText, description string) PIIResult {
	if isNegativeDescription(description) {
		return NoPIIResult(ConfidenceMedium)
	}

	model := strings.ToLower(modelText)
	desc := strings.ToLower(description)

	var types []string
	for _, rule := range keywordRules {
		if rule.matches(model, desc) || rule.matches(desc, desc) {
			types = append(types, rule.category)
		}
	}

	if ssnShapePattern.MatchString(modelText) || ssnShapePattern.MatchString(description) {
		types = append(types, CategorySSN)
	}
	if cardShapePattern.MatchString(modelText) || cardShapePattern.MatchString(description) {
		types = append(types, CategoryCreditCard)
	}

	if emailShapePattern.MatchString(modelText) || emailShapePattern.MatchString(description) {
		types = append(types, CategoryEmail)
	}

	return PIIResult{HasPII: len(types) > 0, Confidence: ConfidenceLow, Types: types}.Normalize()
}

func isNegativeDescription(description string) bool {
	desc := strings.ToLower(description)
	asserted := false
	for _, phrase := range negativeAssertions {
		if strings.Contains(desc, phrase) {
			asserted = true
			break
		}
	}
	if !asserted {
		return false
	}
	for _, keyword := range strongKeywords {
		if strings.Contains(desc, keyword) {
			return false
		}
	}
	return true
}

func (r keywordRule) matches(text, description string) bool {
	for _, keyword := range r.keywords {
		from := 0
		for {
			i := strings.Index(text[from:], keyword)
			if i < 0 {
				break
			}
			at := from + i
			from = at + len(keyword)

			if !atWordBoundary(text, at, at+len(keyword)) {
				continue
			}
			if negated(text, at) {
				continue
			}
			if r.reject != nil && r.reject(text, at, keyword, description) {
				continue
			}
			return true
		}
	}
	return false
}

func atWordBoundary(text string, start, end int) bool {
	if start > 0 && isWordByte(text[start-1]) {
		return false
	}
	if end < len(text) && isWordByte(text[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// negated reports whether a negation marker starts a word within the
// window preceding at.
func negated(text string, at int) bool {
	start := at - negationWindow
	if start < 0 {
		start = 0
	}
	window := text[start:at]
	for _, marker := range negationMarkers {
		from := 0
		for {
			i := strings.Index(window[from:], marker)
			if i < 0 {
				break
			}
			pos := start + from + i
			if pos == 0 || !isWordByte(text[pos-1]) {
				return true
			}
			from += i + 1
		}
	}
	return false
}

func surrounding(text string, at, radius int) string {
	start := at - radius
	if start < 0 {
		start = 0
	}
	end := at + radius
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

func rejectFace(text string, at int, keyword, description string) bool {
	near := surrounding(text, at, 30)
	if strings.Contains(near, "surface") || strings.Contains(near, "interface") || strings.Contains(near, "typeface") {
		return true
	}
	return containsAny(description, natureTerms) && !containsAny(description, personTerms)
}

func rejectPhone(text string, at int, keyword, description string) bool {
	return strings.HasSuffix(text[:at], "micro") || strings.HasSuffix(text[:at], "micro-")
}

func rejectAddress(text string, at int, keyword, description string) bool {
	if keyword != "address" && keyword != "addresses" {
		return false
	}
	before := strings.TrimRight(text[:at], " ")
	for _, prefix := range []string{"ip", "email", "e-mail", "web", "mac", "url"} {
		if !strings.HasSuffix(before, prefix) {
			continue
		}
		if rest := len(before) - len(prefix); rest == 0 || !isWordByte(before[rest-1]) {
			return true
		}
	}
	return false
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		i := 0
		for {
			j := strings.Index(text[i:], term)
			if j < 0 {
				break
			}
			at := i + j
			if atWordBoundary(text, at, at+len(term)) {
				return true
			}
			i = at + len(term)
		}
	}
	return false
}
