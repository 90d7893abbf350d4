package scan

import (
	"context"
	"errors"
	"log"

	pii "github.com/hannes/safeshare/pii/detectors"
)

// Enqueue appends images to the batch queue in FIFO order. Images
// already queued are skipped.
func (o *Orchestrator) Enqueue(imageURIs ...string) int {
	o.mu.Lock()
	added := 0
	for _, uri := range imageURIs {
		if uri == "" || containsString(o.queue, uri) {
			continue
		}
		o.queue = append(o.queue, uri)
		added++
	}
	o.mu.Unlock()

	if added > 0 {
		select {
		case o.wake <- struct{}{}:
		default:
		}
	}
	return added
}

// Queue returns the pending images, the one being scanned first
func (o *Orchestrator) Queue() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string{}, o.queue...)
}

// Run processes the queue one image at a time until ctx is done
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		processed, err := o.processNext(ctx)
		if err != nil {
			return err
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.wake:
		}
	}
}

// Drain processes the queue until it is empty
func (o *Orchestrator) Drain(ctx context.Context) error {
	for {
		processed, err := o.processNext(ctx)
		if err != nil || !processed {
			return err
		}
	}
}

// processNext scans the head of the queue, removes it once it is complete
// or failed, and waits the settle delay. It reports false when the queue was empty.
func (o *Orchestrator) processNext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	o.mu.Lock()
	if len(o.queue) == 0 {
		o.mu.Unlock()
		return false, nil
	}
	uri := o.queue[0]
	o.mu.Unlock()

	result, err := o.Scan(ctx, uri)
	if err == nil && result.State.InProgress() {
		// another caller is scanning it; the item is done when that attempt is
		if result, err = o.session.wait(ctx, uri); err != nil {
			return false, err
		}
	}
	if err != nil {
		var scanErr *ScanError
		if errors.As(err, &scanErr) && !errors.Is(err, pii.ErrEngineNotReady) {
			log.Printf("[Scan] Batch item %s failed: %s", uri, scanErr.UserMessage)
		} else {
			log.Printf("[Scan] ❌ Batch item %s failed: %v", uri, err)
		}
	} else {
		o.logVerbose("[Scan] Batch item %s finished in state %s", uri, result.State)
	}

	o.mu.Lock()
	o.queue = removeString(o.queue, uri)
	o.mu.Unlock()

	// give the UI a moment to show the result before the next image
	if err := sleepContext(ctx, o.cfg.SettleDelay); err != nil {
		return true, err
	}
	return true, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
