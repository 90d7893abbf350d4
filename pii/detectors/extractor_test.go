package pii

import (
	"errors"
	"reflect"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		wantHasPII     bool
		wantTypes      []string
		wantConfidence Confidence
	}{
		{
			name:           "unquoted keys and trailing comma",
			raw:            `Sure, here's the analysis: {hasPII: true, types: ["ssn", "face"], count: 2,}`,
			wantHasPII:     true,
			wantTypes:      []string{"ssn", "face"},
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "reasoning trace is discarded",
			raw:            "<think>maybe {\"hasPII\": true, \"types\": [\"face\"]}</think>\n{\"hasPII\": false, \"types\": [], \"count\": 0, \"confidence\": \"high\"}",
			wantHasPII:     false,
			wantTypes:      []string{},
			wantConfidence: ConfidenceHigh,
		},
		{
			name:           "code fence",
			raw:            "```json\n{\"hasPII\": true, \"types\": [\"email\"], \"count\": 1, \"confidence\": \"low\"}\n```",
			wantHasPII:     true,
			wantTypes:      []string{"email"},
			wantConfidence: ConfidenceLow,
		},
		{
			name:           "final answer marker wins over earlier object",
			raw:            "Step 1: {\"note\": \"thinking\"}\nFinal answer: {\"hasPII\": true, \"types\": [\"phone\"], \"count\": 1}",
			wantHasPII:     true,
			wantTypes:      []string{"phone"},
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "types as objects",
			raw:            `{"hasPII": true, "types": [{"type": "Social Security Number", "value": "xxx"}, {"kind": "email address"}], "count": 2}`,
			wantHasPII:     true,
			wantTypes:      []string{"ssn", "email"},
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "hasPII false clears types",
			raw:            `{"hasPII": false, "types": ["ssn"], "count": 1}`,
			wantHasPII:     false,
			wantTypes:      []string{},
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "hasPII true without types stays positive",
			raw:            `{"hasPII": true, "types": [], "count": 0, "confidence": "low"}`,
			wantHasPII:     true,
			wantTypes:      []string{"unspecified"},
			wantConfidence: ConfidenceLow,
		},
		{
			name:           "hasPII as string",
			raw:            `{"hasPII": "yes", "types": ["face"]}`,
			wantHasPII:     true,
			wantTypes:      []string{"face"},
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "types as comma separated string",
			raw:            `{"hasPII": true, "types": "ssn, credit card"}`,
			wantHasPII:     true,
			wantTypes:      []string{"ssn", "credit_card"},
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "control tokens",
			raw:            "<|im_start|>assistant\n{\"hasPII\": true, \"types\": [\"id_card\"], \"count\": 1}<|im_end|>",
			wantHasPII:     true,
			wantTypes:      []string{"id_card"},
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "aliases are canonicalized and deduplicated",
			raw:            `{"hasPII": true, "types": ["SSN", "social security number", "Phone Number"], "count": 3}`,
			wantHasPII:     true,
			wantTypes:      []string{"ssn", "phone"},
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "truncated completion",
			raw:            `{"hasPII": true, "types": ["face"]`,
			wantHasPII:     true,
			wantTypes:      []string{"face"},
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "python style literals",
			raw:            `{'hasPII': True, 'types': ['address'],}`,
			wantHasPII:     true,
			wantTypes:      []string{"address"},
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "stray colon in type entry",
			raw:            `{"hasPII": true, "types": ["credit_card:"], "count": 1}`,
			wantHasPII:     true,
			wantTypes:      []string{"credit_card"},
			wantConfidence: ConfidenceMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.raw)
			if err != nil {
				t.Fatalf("ExtractJSON() error = %v", err)
			}
			if got.HasPII != tt.wantHasPII {
				t.Errorf("HasPII = %v, want %v", got.HasPII, tt.wantHasPII)
			}
			if !reflect.DeepEqual(got.Types, tt.wantTypes) {
				t.Errorf("Types = %v, want %v", got.Types, tt.wantTypes)
			}
			if got.Count != len(tt.wantTypes) {
				t.Errorf("Count = %d, want %d", got.Count, len(tt.wantTypes))
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %q, want %q", got.Confidence, tt.wantConfidence)
			}
			if !got.Valid() {
				t.Errorf("result violates invariant: %v", got)
			}
		})
	}
}

func TestExtractJSON_NoStructuredOutput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"plain prose", "I could not determine anything."},
		{"braces without result keys", "The set {a, b} is empty"},
		{"unrelated object", `{"caption": "a dog"}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractJSON(tt.raw)
			if !errors.Is(err, ErrNoStructuredOutput) {
				t.Errorf("ExtractJSON() error = %v, want ErrNoStructuredOutput", err)
			}
		})
	}
}

func TestExtract_FallsBackToHeuristics(t *testing.T) {
	got := Extract("I see a credit card on the table")
	want := PIIResult{HasPII: true, Confidence: ConfidenceLow, Types: []string{"credit_card"}, Count: 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %v, want %v", got, want)
	}
}

func TestExtract_AlwaysValid(t *testing.T) {
	inputs := []string{
		"",
		"{",
		"}{",
		"```",
		"</think>",
		`{"hasPII": 1}`,
		`{"types": ["face", "", "  "]}`,
		`{"hasPII": "maybe", "types": ["ssn"]}`,
		"Answer: {hasPII: no}",
	}
	for _, raw := range inputs {
		got := Extract(raw)
		if !got.Valid() {
			t.Errorf("Extract(%q) = %v violates invariant", raw, got)
		}
		if got.Types == nil {
			t.Errorf("Extract(%q) returned nil types", raw)
		}
	}
}
