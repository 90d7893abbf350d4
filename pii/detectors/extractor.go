package pii

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// ErrNoStructuredOutput is returned by ExtractJSON when no candidate in
// the model output parses as a PII result.
var ErrNoStructuredOutput = errors.New("no structured PII result in model output")

var (
	reasoningDelimiters = []string{"</think>", "</thinking>", "</reasoning>"}
	outputMarkers       = []string{"final answer:", "final result:", "result:", "answer:", "output:"}

	controlTokenPattern = regexp.MustCompile(`(?i)<\|[^|>]*\|>|</?s>|<start_of_turn>(?:model|user)?|<end_of_turn>|<bos>|<eos>|\[/?INST\]`)
	codeFencePattern    = regexp.MustCompile("```[A-Za-z0-9_-]*")
	flatObjectPattern   = regexp.MustCompile(`\{[^{}]*\}`)
)

// Extract turns an arbitrary completion into a valid PIIResult. It
// never fails: when no JSON can be recovered the keyword heuristics
// run over the model text alone.
func Extract(raw string) PIIResult {
	if result, err := ExtractJSON(raw); err == nil {
		return result
	}
	return HeuristicResult(cleanModelOutput(raw), "")
}

// ExtractJSON locates and parses the JSON object in a completion. The
// returned result is normalized.
func ExtractJSON(raw string) (PIIResult, error) {
	cleaned := cleanModelOutput(raw)
	for _, candidate := range jsonCandidates(cleaned) {
		if result, ok := parseCandidate(candidate); ok {
			return result, nil
		}
	}
	return PIIResult{}, ErrNoStructuredOutput
}

// cleanModelOutput drops reasoning traces, control tokens and markdown
// fences.
func cleanModelOutput(raw string) string {
	text := raw
	lower := strings.ToLower(text)
	cut := -1
	for _, delim := range reasoningDelimiters {
		if i := strings.LastIndex(lower, delim); i >= 0 && i+len(delim) > cut {
			cut = i + len(delim)
		}
	}
	if cut >= 0 {
		text = text[cut:]
	}

	text = controlTokenPattern.ReplaceAllString(text, "")
	text = codeFencePattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// jsonCandidates returns the spans worth parsing, most specific first.
func jsonCandidates(text string) []string {
	var candidates []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" {
			return
		}
		for _, existing := range candidates {
			if existing == c {
				return
			}
		}
		candidates = append(candidates, c)
	}

	// text following the last explicit marker
	lower := strings.ToLower(text)
	markerEnd := -1
	for _, marker := range outputMarkers {
		if i := strings.LastIndex(lower, marker); i >= 0 && i+len(marker) > markerEnd {
			markerEnd = i + len(marker)
		}
	}
	if markerEnd >= 0 {
		if obj, ok := balancedObject(text[markerEnd:]); ok {
			add(obj)
		}
	}

	// last flat object mentioning hasPII
	flat := flatObjectPattern.FindAllString(text, -1)
	for i := len(flat) - 1; i >= 0; i-- {
		if strings.Contains(strings.ToLower(flat[i]), "haspii") || strings.Contains(strings.ToLower(flat[i]), "has_pii") {
			add(flat[i])
			break
		}
	}

	// first '{' to last '}'
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	switch {
	case first >= 0 && last > first:
		add(text[first : last+1])
	case first >= 0:
		// truncated completion
		add(text[first:] + "}")
	}

	return candidates
}

// balancedObject returns the first brace-balanced object in s, ignoring
// braces inside string literals.
func balancedObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// parseCandidate tries strict JSON, then JSON5, then RepairJSON.
func parseCandidate(candidate string) (PIIResult, bool) {
	attempts := []func(string) (map[string]interface{}, error){
		func(s string) (map[string]interface{}, error) {
			var fields map[string]interface{}
			err := json.Unmarshal([]byte(s), &fields)
			return fields, err
		},
		func(s string) (map[string]interface{}, error) {
			var fields map[string]interface{}
			err := json5.Unmarshal([]byte(s), &fields)
			return fields, err
		},
		func(s string) (map[string]interface{}, error) {
			var fields map[string]interface{}
			err := json.Unmarshal([]byte(RepairJSON(s)), &fields)
			return fields, err
		},
	}

	for _, attempt := range attempts {
		fields, err := attempt(candidate)
		if err != nil || fields == nil {
			continue
		}
		if result, ok := resultFromFields(fields); ok {
			return result, true
		}
	}
	return PIIResult{}, false
}

// resultFromFields interprets a decoded object. Objects carrying neither
// hasPII nor types are rejected.
func resultFromFields(fields map[string]interface{}) (PIIResult, bool) {
	hasPIIValue, hasFlag := lookupField(fields, "haspii", "has_pii", "containspii", "contains_pii")
	typesValue, hasTypes := lookupField(fields, "types", "pii_types", "categories")
	if !hasFlag && !hasTypes {
		return PIIResult{}, false
	}

	types := coerceTypes(typesValue)

	hasPII := len(types) > 0
	if hasFlag {
		flag, ok := coerceBool(hasPIIValue)
		if !ok {
			return PIIResult{}, false
		}
		hasPII = flag
	}

	confidence := ConfidenceMedium
	if value, ok := lookupField(fields, "confidence"); ok {
		if s, ok := value.(string); ok {
			confidence = ParseConfidence(s)
		}
	}

	result := PIIResult{HasPII: hasPII, Confidence: confidence, Types: types}.Normalize()
	if hasPII && !result.HasPII {
		// a positive without usable types is kept; the unrecognized
		// category makes the region generator cover the whole image
		result = PIIResult{HasPII: true, Confidence: confidence, Types: []string{CategoryUnspecified}}.Normalize()
	}
	return result, true
}

func lookupField(fields map[string]interface{}, names ...string) (interface{}, bool) {
	for key, value := range fields {
		k := strings.ToLower(strings.TrimSpace(key))
		for _, name := range names {
			if k == name {
				return value, true
			}
		}
	}
	return nil, false
}

func coerceBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

// coerceTypes accepts an array of strings, an array of objects, or a
// single comma-separated string.
func coerceTypes(v interface{}) []string {
	var types []string
	switch t := v.(type) {
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				types = append(types, part)
			}
		}
	case []interface{}:
		for _, item := range t {
			switch entry := item.(type) {
			case string:
				if entry = strings.TrimSpace(entry); entry != "" {
					types = append(types, entry)
				}
			case map[string]interface{}:
				types = append(types, categoriesInObject(entry)...)
			}
		}
	}
	return types
}

// vocabularyTerms maps substrings found in free-form type objects to
// categories. Order matters: "email address" must resolve to email.
var vocabularyTerms = []struct {
	term     string
	category string
}{
	{"email", CategoryEmail},
	{"e-mail", CategoryEmail},
	{"phone", CategoryPhone},
	{"telephone", CategoryPhone},
	{"credit card", CategoryCreditCard},
	{"credit_card", CategoryCreditCard},
	{"card number", CategoryCreditCard},
	{"social security", CategorySSN},
	{"ssn", CategorySSN},
	{"passport", CategoryIDCard},
	{"license", CategoryIDCard},
	{"id card", CategoryIDCard},
	{"id_card", CategoryIDCard},
	{"address", CategoryAddress},
	{"face", CategoryFace},
}

func categoriesInObject(obj map[string]interface{}) []string {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var found []string
	for _, key := range keys {
		s, ok := obj[key].(string)
		if !ok {
			continue
		}
		if c := CanonicalCategory(s); IsKnownCategory(c) {
			found = append(found, c)
			continue
		}
		lower := strings.ToLower(s)
		for _, v := range vocabularyTerms {
			if strings.Contains(lower, v.term) {
				found = append(found, v.category)
				break
			}
		}
	}
	return found
}
