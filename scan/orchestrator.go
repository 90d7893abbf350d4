package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hannes/safeshare/config"
	piiServices "github.com/hannes/safeshare/pii"
	pii "github.com/hannes/safeshare/pii/detectors"
	"github.com/hannes/safeshare/pii/regions"
	"github.com/hannes/safeshare/processor"
	"github.com/hannes/safeshare/providers"
)

// VisionSource hands out the on-device vision model
type VisionSource interface {
	VisionCompleter() (providers.Completer, error)
}

// Analyzer produces one arbitrated PII result for a description
type Analyzer interface {
	Analyze(ctx context.Context, description string, allowCloudEscalation bool) (pii.PIIResult, error)
}

// SettingsSource returns the latest user settings
type SettingsSource interface {
	Current() config.Settings
}

// ResultStore persists finished scans across sessions
type ResultStore interface {
	Get(ctx context.Context, imageURI string) (piiServices.StoredScan, bool)
	Put(ctx context.Context, scan piiServices.StoredScan)
	Delete(ctx context.Context, imageURI string)
}

// Orchestrator runs the vision, analysis and redaction stages for images.
// At most one model call runs at a time across all images.
type Orchestrator struct {
	vision   VisionSource
	analyzer Analyzer
	settings SettingsSource
	store    ResultStore
	session  *Session
	feed     *processor.FeedBuilder
	cfg      config.ScanConfig
	logging  config.LoggingConfig

	// fingerprint identifies image content so a stored result is only
	// restored for the same pixels
	fingerprint func(uri string) (string, error)

	modelSem chan struct{} // one model completion at a time

	mu       sync.Mutex
	onUpdate func(Result)
	queue    []string
	wake     chan struct{}
}

// NewOrchestrator creates an orchestrator. store may be nil to disable
// persistence.
func NewOrchestrator(vision VisionSource, analyzer Analyzer, settings SettingsSource, store ResultStore, cfg config.ScanConfig, logging config.LoggingConfig) *Orchestrator {
	if cfg.VisionPrompt == "" {
		cfg.VisionPrompt = config.DefaultVisionPrompt
	}
	return &Orchestrator{
		vision:      vision,
		analyzer:    analyzer,
		settings:    settings,
		store:       store,
		session:     NewSession(),
		feed:        processor.NewFeedBuilder(),
		cfg:         cfg,
		logging:     logging,
		fingerprint: FileFingerprint,
		modelSem:    make(chan struct{}, 1),
		wake:        make(chan struct{}, 1),
	}
}

// Session returns the session holding per-image results
func (o *Orchestrator) Session() *Session {
	return o.session
}

// SetOnUpdate registers fn to receive every state change
func (o *Orchestrator) SetOnUpdate(fn func(Result)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onUpdate = fn
}

// EndSession discards every result of the session, the persisted results
// of its images and the batch queue. Attempts still running become stale.
func (o *Orchestrator) EndSession(ctx context.Context) int {
	o.mu.Lock()
	o.queue = nil
	o.mu.Unlock()

	uris := o.session.End()
	if o.store != nil {
		for _, uri := range uris {
			o.store.Delete(ctx, uri)
		}
	}
	log.Printf("[Scan] Session ended, discarded %d results", len(uris))
	return len(uris)
}

// AnalyzeDescription runs the hybrid analysis on a description without the
// vision stage. It waits for the model like any scan does.
func (o *Orchestrator) AnalyzeDescription(ctx context.Context, description string, allowCloud bool) (pii.PIIResult, error) {
	return o.analyze(ctx, description, allowCloud)
}

// Scan runs the pipeline for imageURI. A scan already in progress or
// complete for the image is not repeated; its snapshot is returned.
func (o *Orchestrator) Scan(ctx context.Context, imageURI string) (Result, error) {
	snapshot, gen, started := o.session.begin(imageURI, false)
	if !started {
		o.logVerbose("[Scan] %s already %s, not rescanning", imageURI, snapshot.State)
		return snapshot, nil
	}
	o.notify(snapshot)
	return o.run(ctx, imageURI, gen, true)
}

// Retry discards any result for imageURI, including the persisted one,
// and scans it again. An attempt still running for it becomes stale.
func (o *Orchestrator) Retry(ctx context.Context, imageURI string) (Result, error) {
	if o.store != nil {
		o.store.Delete(ctx, imageURI)
	}
	snapshot, gen, _ := o.session.begin(imageURI, true)
	o.notify(snapshot)
	return o.run(ctx, imageURI, gen, false)
}

func (o *Orchestrator) run(ctx context.Context, uri string, gen uint64, useStore bool) (Result, error) {
	if snap, ok := o.apply(uri, gen, func(r *Result) {
		r.Messages = append(r.Messages, o.feed.Image(uri))
	}); !ok {
		return snap, nil
	}

	var fingerprint string
	if o.store != nil {
		fp, err := o.fingerprint(uri)
		if err != nil {
			o.logVerbose("[Scan] Not using stored results for %s: %v", uri, err)
		}
		fingerprint = fp
	}

	if useStore && fingerprint != "" {
		if stored, ok := o.store.Get(ctx, uri); ok {
			if stored.Fingerprint == fingerprint {
				return o.restore(uri, gen, stored), nil
			}
			o.logVerbose("[Scan] Stored result for %s is for different image content, rescanning", uri)
		}
	}

	description, err := o.describeWithRetry(ctx, uri, gen)
	if errors.Is(err, errStale) {
		current, _ := o.session.Get(uri)
		return current, nil
	}
	if err != nil {
		return o.fail(uri, gen, err)
	}

	snap, ok := o.apply(uri, gen, func(r *Result) {
		r.State = StateAnalyzingPII
		r.Messages = append(r.Messages, o.feed.Vision(description))
	})
	if !ok {
		return snap, nil
	}

	// settings are read now so a change made mid-scan is honored
	settings := o.settings.Current()
	result, err := o.analyze(ctx, description, settings.AllowCloud)
	if err != nil {
		if !errors.Is(err, pii.ErrEngineNotReady) {
			err = &ScanError{Kind: ErrorKindAnalysis, UserMessage: MessageAnalysisFailed, Err: err}
		}
		return o.fail(uri, gen, err)
	}

	redaction := regions.GetRedactionRegions(result.Types)
	snap, ok = o.apply(uri, gen, func(r *Result) {
		r.State = StateComplete
		r.PIIResult = &result
		r.Regions = redaction
		r.Error = ""
		r.Messages = append(r.Messages, o.feed.Analysis(result), o.feed.Redaction(redaction))
	})
	if !ok {
		return snap, nil
	}

	if o.store != nil && fingerprint != "" {
		o.store.Put(ctx, piiServices.StoredScan{
			ImageURI:    uri,
			Fingerprint: fingerprint,
			Result:      result,
			Regions:     redaction,
			ScannedAt:   time.Now(),
		})
	}
	log.Printf("[Scan] Completed %s: %s", uri, processor.SummarizeResult(result))
	return snap, nil
}

func (o *Orchestrator) restore(uri string, gen uint64, stored piiServices.StoredScan) Result {
	result := stored.Result.Normalize()
	snap, _ := o.apply(uri, gen, func(r *Result) {
		r.State = StateComplete
		r.PIIResult = &result
		r.Regions = append([]pii.Region{}, stored.Regions...)
		r.Restored = true
		r.Messages = append(r.Messages, o.feed.Analysis(result), o.feed.Redaction(r.Regions))
	})
	o.logVerbose("[Scan] Restored persisted result for %s", uri)
	return snap
}

// describeWithRetry runs the vision stage, retrying transient runtime
// failures up to MaxRetries times.
func (o *Orchestrator) describeWithRetry(ctx context.Context, uri string, gen uint64) (string, error) {
	for attempt := 0; ; attempt++ {
		if _, ok := o.apply(uri, gen, func(r *Result) { r.Attempts = attempt + 1 }); !ok {
			return "", errStale
		}

		description, err := o.describe(ctx, uri)
		if err == nil {
			return description, nil
		}
		if errors.Is(err, pii.ErrEngineNotReady) || !IsTransient(err) || attempt >= o.cfg.MaxRetries {
			return "", err
		}

		log.Printf("[Scan] ⚠️  Transient vision failure on attempt %d, retrying in %v: %v", attempt+1, o.cfg.RetryDelay, err)
		if err := sleepContext(ctx, o.cfg.RetryDelay); err != nil {
			return "", err
		}
	}
}

func (o *Orchestrator) describe(ctx context.Context, uri string) (string, error) {
	if err := o.acquireModel(ctx); err != nil {
		return "", err
	}
	defer o.releaseModel()

	completer, err := o.vision.VisionCompleter()
	if err != nil {
		return "", err
	}

	resp, err := completer.Complete(ctx, providers.CompletionRequest{
		Messages:  []providers.Message{{Role: "user", Content: o.cfg.VisionPrompt}},
		Images:    []string{uri},
		MaxTokens: o.cfg.VisionMaxTokens,
	})
	if err != nil {
		return "", err
	}

	description := strings.TrimSpace(resp.Response)
	if description == "" {
		return "", errEmptyDescription
	}
	if o.logging.GetLogDescriptions() {
		log.Printf("[Scan] Description for %s: %q", uri, description)
	}
	return description, nil
}

func (o *Orchestrator) analyze(ctx context.Context, description string, allowCloud bool) (pii.PIIResult, error) {
	if err := o.acquireModel(ctx); err != nil {
		return pii.PIIResult{}, err
	}
	defer o.releaseModel()
	return o.analyzer.Analyze(ctx, description, allowCloud)
}

func (o *Orchestrator) acquireModel(ctx context.Context) error {
	select {
	case o.modelSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) releaseModel() {
	<-o.modelSem
}

// fail records err on the image and returns it as a *ScanError
func (o *Orchestrator) fail(uri string, gen uint64, err error) (Result, error) {
	scanErr := classify(err)

	switch scanErr.Kind {
	case ErrorKindContract:
		log.Printf("[Scan] ❌ Engine not ready for %s: %v", uri, err)
	case ErrorKindTransient:
		log.Printf("[Scan] ❌ Vision model kept failing for %s: %v", uri, err)
		sentry.CaptureException(err)
	case ErrorKindAnalysis:
		log.Printf("[Scan] ❌ PII analysis failed for %s: %v", uri, err)
		sentry.CaptureException(err)
	default:
		log.Printf("[Scan] ❌ Vision failed for %s: %v", uri, err)
	}

	snap, ok := o.apply(uri, gen, func(r *Result) {
		r.State = StateError
		r.Error = scanErr.UserMessage
		r.Messages = append(r.Messages, o.feed.Error(scanErr.UserMessage))
	})
	if !ok {
		return snap, nil
	}
	return snap, scanErr
}

func classify(err error) *ScanError {
	var scanErr *ScanError
	switch {
	case errors.As(err, &scanErr):
		return scanErr
	case errors.Is(err, pii.ErrEngineNotReady):
		return &ScanError{Kind: ErrorKindContract, UserMessage: MessageEngineNotReady, Err: err}
	case IsTransient(err):
		return &ScanError{Kind: ErrorKindTransient, UserMessage: MessageModelStopped, Err: err}
	default:
		return &ScanError{Kind: ErrorKindVision, UserMessage: MessageDescribeFailed, Err: err}
	}
}

// apply updates the record if gen is current and publishes the change
func (o *Orchestrator) apply(uri string, gen uint64, fn func(*Result)) (Result, bool) {
	snap, ok := o.session.apply(uri, gen, fn)
	if !ok {
		o.logVerbose("[Scan] Dropping stale update for %s", uri)
		current, _ := o.session.Get(uri)
		return current, false
	}
	o.notify(snap)
	return snap, true
}

func (o *Orchestrator) notify(r Result) {
	o.mu.Lock()
	fn := o.onUpdate
	o.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

func (o *Orchestrator) logVerbose(format string, args ...interface{}) {
	if o.logging.GetLogVerbose() {
		log.Printf(format, args...)
	}
}

// FileFingerprint returns the sha256 of a local image file
func FileFingerprint(uri string) (string, error) {
	f, err := os.Open(strings.TrimPrefix(uri, "file://"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
