package pii

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/hannes/safeshare/config"
	pii "github.com/hannes/safeshare/pii/detectors"
	"github.com/hannes/safeshare/providers"
)

// ProviderFactory builds a completion provider from its config
type ProviderFactory func(cfg providers.ProviderConfig) (providers.Provider, error)

// EngineManager manages the on-device engine lifecycle with thread-safe
// hot reload. It hands out the text and vision models to the detectors
// and the scan orchestrator.
type EngineManager struct {
	mu          sync.RWMutex
	text        providers.Provider
	vision      providers.Provider
	config      config.EngineConfig
	isHealthy   bool
	lastError   error
	newProvider ProviderFactory
}

// NewEngineManager creates an engine manager and performs the initial load.
// A failed load leaves the manager unhealthy rather than failing startup.
func NewEngineManager(ctx context.Context, cfg config.EngineConfig) *EngineManager {
	return NewEngineManagerWithFactory(ctx, cfg, providers.NewProvider)
}

// NewEngineManagerWithFactory is NewEngineManager with a custom provider factory
func NewEngineManagerWithFactory(ctx context.Context, cfg config.EngineConfig, factory ProviderFactory) *EngineManager {
	em := &EngineManager{config: cfg, newProvider: factory}
	if err := em.ReloadEngine(ctx, cfg); err != nil {
		log.Printf("[EngineManager] ⚠️  Failed to load initial engine: %v", err)
		log.Printf("[EngineManager] Engine manager created but marked as unhealthy")
	}
	return em
}

// TextCompleter returns the text model. It fails with
// pii.ErrEngineNotReady while the engine is unhealthy.
func (em *EngineManager) TextCompleter() (providers.Completer, error) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	if err := em.readyLocked(); err != nil {
		return nil, err
	}
	return em.text, nil
}

// VisionCompleter returns the vision model. It fails with
// pii.ErrEngineNotReady while the engine is unhealthy.
func (em *EngineManager) VisionCompleter() (providers.Completer, error) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	if err := em.readyLocked(); err != nil {
		return nil, err
	}
	return em.vision, nil
}

func (em *EngineManager) readyLocked() error {
	if !em.isHealthy || em.text == nil {
		if em.lastError != nil {
			return fmt.Errorf("%w: %v", pii.ErrEngineNotReady, em.lastError)
		}
		return pii.ErrEngineNotReady
	}
	return nil
}

// ReloadEngine builds providers for cfg, optionally validates the text model,
// and swaps them in atomically.
func (em *EngineManager) ReloadEngine(ctx context.Context, cfg config.EngineConfig) error {
	log.Printf("[EngineManager] Loading engine: provider=%s base_url=%s", cfg.Provider, cfg.BaseURL)

	// Step 1: Build providers outside the lock
	text, err := em.newProvider(providerConfig(cfg, cfg.TextModel))
	if err != nil {
		em.markUnhealthy(err)
		return fmt.Errorf("failed to create text provider: %w", err)
	}

	vision := text
	if cfg.VisionModel != "" && cfg.VisionModel != cfg.TextModel {
		vision, err = em.newProvider(providerConfig(cfg, cfg.VisionModel))
		if err != nil {
			em.markUnhealthy(err)
			return fmt.Errorf("failed to create vision provider: %w", err)
		}
	}

	// Step 2: Run a validation completion to ensure the engine answers
	if cfg.ValidateOnLoad {
		log.Printf("[EngineManager] Running validation completion")
		_, err := text.Complete(ctx, providers.CompletionRequest{
			Messages:  []providers.Message{{Role: "user", Content: "Reply with OK."}},
			MaxTokens: 8,
		})
		if err != nil {
			em.markUnhealthy(err)
			log.Printf("[EngineManager] ❌ Validation completion failed: %v", err)
			return fmt.Errorf("engine validation failed: %w", err)
		}
	}

	// Step 3: Swap providers atomically
	em.mu.Lock()
	em.text = text
	em.vision = vision
	em.config = cfg
	em.isHealthy = true
	em.lastError = nil
	em.mu.Unlock()

	log.Printf("[EngineManager] Engine ready: text=%s vision=%s", cfg.TextModel, firstNonEmpty(cfg.VisionModel, cfg.TextModel))
	return nil
}

func (em *EngineManager) markUnhealthy(err error) {
	em.mu.Lock()
	em.isHealthy = false
	em.lastError = err
	em.mu.Unlock()
}

func providerConfig(cfg config.EngineConfig, model string) providers.ProviderConfig {
	return providers.ProviderConfig{
		Type:    providers.ProviderType(cfg.Provider),
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   model,
		UseHTTP: cfg.UseHTTP,
		Timeout: cfg.Timeout,
		Headers: cfg.AdditionalHeaders,
	}
}

// IsHealthy returns whether the engine is ready for completions
func (em *EngineManager) IsHealthy() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.isHealthy
}

// GetLastError returns the last error encountered (if any)
func (em *EngineManager) GetLastError() error {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.lastError
}

// GetInfo returns information about the current engine state
func (em *EngineManager) GetInfo() map[string]interface{} {
	em.mu.RLock()
	defer em.mu.RUnlock()

	info := map[string]interface{}{
		"provider":     em.config.Provider,
		"base_url":     em.config.BaseURL,
		"text_model":   em.config.TextModel,
		"vision_model": firstNonEmpty(em.config.VisionModel, em.config.TextModel),
		"healthy":      em.isHealthy,
	}

	if em.lastError != nil {
		info["error"] = em.lastError.Error()
	} else {
		info["error"] = nil
	}

	return info
}

// Close releases the providers and marks the engine unhealthy
func (em *EngineManager) Close() error {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.text = nil
	em.vision = nil
	em.isHealthy = false
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
