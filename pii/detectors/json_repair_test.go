package pii

import (
	"encoding/json"
	"testing"
)

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "unquoted keys and trailing comma",
			input: `{hasPII: true, types: ["ssn", "face"], count: 2,}`,
			want:  `{"hasPII": true, "types": ["ssn", "face"], "count": 2}`,
		},
		{
			name:  "single quotes and colon in type",
			input: `{'hasPII': 'yes', 'types': ['credit card:'],}`,
			want:  `{"hasPII": true, "types": ["credit card"]}`,
		},
		{
			name:  "bare words",
			input: `{hasPII: yes, types: [ssn, id card]}`,
			want:  `{"hasPII": true, "types": ["ssn", "id card"]}`,
		},
		{
			name:  "python none",
			input: `{"hasPII": False, "types": None}`,
			want:  `{"hasPII": false, "types": null}`,
		},
		{
			name:  "quoted boolean",
			input: `{"hasPII": "false", "types": []}`,
			want:  `{"hasPII": false, "types": []}`,
		},
		{
			name:  "trailing comma in array",
			input: `{"hasPII": true, "types": ["face",]}`,
			want:  `{"hasPII": true, "types": ["face"]}`,
		},
		{
			name:  "smart quotes",
			input: `{“hasPII”: true, “types”: [“email”]}`,
			want:  `{"hasPII": true, "types": ["email"]}`,
		},
		{
			name:  "valid JSON is unchanged",
			input: `{"hasPII": true, "types": ["phone"], "count": 1, "confidence": "high"}`,
			want:  `{"hasPII": true, "types": ["phone"], "count": 1, "confidence": "high"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RepairJSON(tt.input)
			if got != tt.want {
				t.Errorf("RepairJSON() = %s, want %s", got, tt.want)
			}
			var v map[string]interface{}
			if err := json.Unmarshal([]byte(got), &v); err != nil {
				t.Errorf("repaired output is not valid JSON: %v", err)
			}
		})
	}
}
