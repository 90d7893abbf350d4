package processor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	pii "github.com/hannes/safeshare/pii/detectors"
)

func fixedBuilder() *FeedBuilder {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &FeedBuilder{now: func() time.Time { return ts }}
}

func TestFeedBuilder_StableUniqueIDs(t *testing.T) {
	fb := fixedBuilder()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		msg := fb.Vision("a receipt")
		if _, err := uuid.Parse(msg.ID); err != nil {
			t.Fatalf("ID %q is not a uuid: %v", msg.ID, err)
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate ID %q", msg.ID)
		}
		seen[msg.ID] = true
	}
}

func TestFeedBuilder_Messages(t *testing.T) {
	fb := fixedBuilder()

	img := fb.Image("file:///tmp/a.png")
	if img.Kind != KindImage || img.ImageURI != "file:///tmp/a.png" {
		t.Errorf("Image() = %+v", img)
	}

	vision := fb.Vision("  a passport on a table \n")
	if vision.Kind != KindVision || vision.Text != "a passport on a table" {
		t.Errorf("Vision() = %+v", vision)
	}

	result := pii.PIIResult{HasPII: true, Confidence: pii.ConfidenceHigh, Types: []string{"id_card"}, Count: 1}
	analysis := fb.Analysis(result)
	if analysis.Kind != KindAnalysis || analysis.Result == nil || analysis.Result.Types[0] != "id_card" {
		t.Errorf("Analysis() = %+v", analysis)
	}

	errMsg := fb.Error("Couldn't describe this image.")
	if errMsg.Kind != KindError || errMsg.Text != "Couldn't describe this image." {
		t.Errorf("Error() = %+v", errMsg)
	}
	if !errMsg.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", errMsg.CreatedAt)
	}
}

func TestFeedBuilder_Redaction(t *testing.T) {
	fb := fixedBuilder()
	tests := []struct {
		name    string
		regions []pii.Region
		want    string
	}{
		{"none", []pii.Region{}, "Nothing to redact."},
		{"one", []pii.Region{{Type: "face"}}, "1 area will be blurred."},
		{"many", []pii.Region{{Type: "face"}, {Type: "ssn"}}, "2 areas will be blurred."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fb.Redaction(tt.regions); got.Text != tt.want {
				t.Errorf("Redaction().Text = %q, want %q", got.Text, tt.want)
			}
		})
	}
}

func TestSummarizeResult(t *testing.T) {
	tests := []struct {
		name   string
		result pii.PIIResult
		want   string
	}{
		{
			name:   "positive",
			result: pii.PIIResult{HasPII: true, Confidence: pii.ConfidenceHigh, Types: []string{"ssn", "face"}, Count: 2},
			want:   "PII detected: ssn, face (confidence: high).",
		},
		{
			name:   "negative",
			result: pii.NoPIIResult(pii.ConfidenceMedium),
			want:   "No PII detected (confidence: medium).",
		},
		{
			name:   "error",
			result: pii.ErrorResult(),
			want:   "PII analysis failed.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SummarizeResult(tt.result); got != tt.want {
				t.Errorf("SummarizeResult() = %q, want %q", got, tt.want)
			}
		})
	}
}
