package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pii "github.com/hannes/safeshare/pii/detectors"
)

// MessageKind identifies which stage produced a feed entry
type MessageKind string

const (
	KindImage     MessageKind = "image"
	KindVision    MessageKind = "vision"
	KindAnalysis  MessageKind = "analysis"
	KindRedaction MessageKind = "redaction"
	KindError     MessageKind = "error"
)

// Message is one entry in an image's scan feed. ID is stable for the
// lifetime of the entry so a UI can address it for edit or retry.
type Message struct {
	ID        string         `json:"id"`
	Kind      MessageKind    `json:"kind"`
	Text      string         `json:"text"`
	ImageURI  string         `json:"imageUri,omitempty"`
	Result    *pii.PIIResult `json:"result,omitempty"`
	Regions   []pii.Region   `json:"regions,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// FeedBuilder turns stage outputs into feed messages
type FeedBuilder struct {
	now func() time.Time
}

// NewFeedBuilder creates a builder stamping messages with the wall clock
func NewFeedBuilder() *FeedBuilder {
	return &FeedBuilder{now: time.Now}
}

func (fb *FeedBuilder) newMessage(kind MessageKind, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Text:      text,
		CreatedAt: fb.now(),
	}
}

// Image records the image a scan started on
func (fb *FeedBuilder) Image(imageURI string) Message {
	msg := fb.newMessage(KindImage, "")
	msg.ImageURI = imageURI
	return msg
}

// Vision records the description returned by the vision stage
func (fb *FeedBuilder) Vision(description string) Message {
	return fb.newMessage(KindVision, strings.TrimSpace(description))
}

// Analysis records the arbitrated PII result
func (fb *FeedBuilder) Analysis(result pii.PIIResult) Message {
	msg := fb.newMessage(KindAnalysis, SummarizeResult(result))
	msg.Result = &result
	return msg
}

// Redaction records the regions computed for the result
func (fb *FeedBuilder) Redaction(regions []pii.Region) Message {
	text := "Nothing to redact."
	if len(regions) == 1 {
		text = "1 area will be blurred."
	} else if len(regions) > 1 {
		text = fmt.Sprintf("%d areas will be blurred.", len(regions))
	}
	msg := fb.newMessage(KindRedaction, text)
	msg.Regions = regions
	return msg
}

// Error records a short user-facing failure message
func (fb *FeedBuilder) Error(userMessage string) Message {
	return fb.newMessage(KindError, userMessage)
}

// SummarizeResult renders a result as a one-line human summary
func SummarizeResult(result pii.PIIResult) string {
	switch {
	case result.Confidence == pii.ConfidenceError:
		return "PII analysis failed."
	case !result.HasPII:
		return fmt.Sprintf("No PII detected (confidence: %s).", result.Confidence)
	default:
		return fmt.Sprintf("PII detected: %s (confidence: %s).", strings.Join(result.Types, ", "), result.Confidence)
	}
}
