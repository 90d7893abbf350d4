// Package scan sequences vision description, hybrid PII analysis and
// redaction for images, one model call at a time.
package scan

import (
	"errors"
	"strings"

	pii "github.com/hannes/safeshare/pii/detectors"
	"github.com/hannes/safeshare/processor"
)

// State is the per-image scan state
type State string

const (
	StateUnscanned       State = "unscanned"
	StateAnalyzingVision State = "analyzing-vision"
	StateAnalyzingPII    State = "analyzing-pii"
	StateComplete        State = "complete"
	StateError           State = "error"
)

// InProgress reports whether a scan is running in this state
func (s State) InProgress() bool {
	return s == StateAnalyzingVision || s == StateAnalyzingPII
}

// Result is a snapshot of one image's scan
type Result struct {
	ImageURI  string              `json:"imageUri"`
	State     State               `json:"state"`
	Messages  []processor.Message `json:"messages"`
	PIIResult *pii.PIIResult      `json:"piiResult,omitempty"`
	Regions   []pii.Region        `json:"regions"`
	Error     string              `json:"error,omitempty"`
	Attempts  int                 `json:"attempts"`
	Restored  bool                `json:"restored,omitempty"`
}

func (r Result) clone() Result {
	out := r
	out.Messages = append([]processor.Message(nil), r.Messages...)
	out.Regions = append([]pii.Region{}, r.Regions...)
	if r.PIIResult != nil {
		res := *r.PIIResult
		res.Types = append([]string{}, r.PIIResult.Types...)
		out.PIIResult = &res
	}
	return out
}

// ErrorKind labels the cause of a failed scan
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "provider_transient"
	ErrorKindVision    ErrorKind = "vision_failed"
	ErrorKindAnalysis  ErrorKind = "analysis_failed"
	ErrorKindContract  ErrorKind = "engine_not_ready"
)

// User-facing failure messages. Raw provider errors are never shown.
const (
	MessageModelStopped   = "The on-device model stopped responding. Restart the app or re-download the models."
	MessageDescribeFailed = "Couldn't describe this image."
	MessageAnalysisFailed = "Couldn't check this image for personal information."
	MessageEngineNotReady = "The on-device model isn't loaded yet."
)

// ScanError carries a short user message alongside the underlying cause
type ScanError struct {
	Kind        ErrorKind
	UserMessage string
	Err         error
}

func (e *ScanError) Error() string {
	if e.Err == nil {
		return e.UserMessage
	}
	return e.UserMessage + ": " + e.Err.Error()
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

var (
	// errEmptyDescription is returned when the vision model answers with nothing
	errEmptyDescription = errors.New("vision model returned an empty description")

	// errStale stops an attempt superseded by a retry or discard
	errStale = errors.New("scan attempt superseded")
)

// transientSignatures are substrings of native runtime failures that
// usually clear up on a second attempt.
var transientSignatures = []string{
	"context is busy",
	"context not found",
	"llama_decode",
	"ggml_",
	"failed to decode",
	"mtmd",
	"native crash",
	"connection reset by peer",
	"unexpected eof",
	"model is loading",
}

// IsTransient reports whether err looks like a recoverable runtime failure
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
