// Package pipeline wires the engine, detectors, cloud verifier, result
// store and scan orchestrator from a Config.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hannes/safeshare/config"
	piiServices "github.com/hannes/safeshare/pii"
	pii "github.com/hannes/safeshare/pii/detectors"
	"github.com/hannes/safeshare/scan"
	"golang.org/x/time/rate"
)

const cleanupInterval = time.Hour

// Pipeline holds every component of a running scan service
type Pipeline struct {
	Config       *config.Config
	Engine       *piiServices.EngineManager
	Detector     pii.Detector
	Cloud        *pii.CloudVerifier
	Hybrid       *piiServices.HybridService
	Results      *piiServices.ResultCache
	Settings     *config.SettingsStore
	Orchestrator *scan.Orchestrator
}

// New builds the pipeline. An unreachable engine does not fail startup;
// scans report ErrEngineNotReady until it loads.
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	p := &Pipeline{Config: cfg}

	settings, err := config.NewSettingsStore(cfg.SettingsPath, cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	p.Settings = settings

	p.Engine = piiServices.NewEngineManager(ctx, cfg.Engine)

	detector, err := p.newDetector()
	if err != nil {
		p.Engine.Close()
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	p.Detector = detector
	log.Printf("PII detection enabled with detector: %s", detector.GetName())

	p.Cloud = pii.NewCloudVerifier(cloudConfig(settings.Current()), nil)
	if cfg.Scan.CloudRequestInterval > 0 {
		p.Cloud.SetRateLimit(rate.Every(cfg.Scan.CloudRequestInterval), 1)
	}
	settings.OnChange(func(s config.Settings) {
		p.Cloud.Reconfigure(cloudConfig(s))
	})

	p.Hybrid = piiServices.NewHybridService(piiServices.AnalyzerFor(detector), p.Cloud, cfg.Logging)
	p.Results = piiServices.NewResultCache(openScanResultDB(ctx, cfg), cfg.Database.UseCache, cfg.Logging.DebugMode)
	p.Orchestrator = scan.NewOrchestrator(p.Engine, p.Hybrid, settings, p.Results, cfg.Scan, cfg.Logging)
	return p, nil
}

// newDetector creates the local detector named in the config
func (p *Pipeline) newDetector() (pii.Detector, error) {
	detectorName := p.Config.Detector.Name
	if detectorName == "" {
		return nil, fmt.Errorf("detector name is required")
	}

	detectorConfig := make(map[string]interface{})
	switch detectorName {
	case pii.DetectorNameLLM:
		detectorConfig["engine"] = p.Engine
		detectorConfig["log_model_output"] = p.Config.Logging.LogModelOutput
	case pii.DetectorNameModel:
		detectorConfig["base_url"] = p.Config.Detector.ModelBaseURL
	case pii.DetectorNameRegex:
		detectorConfig["patterns"] = pii.PIIPatterns
	case pii.DetectorNameONNXModel:
		detectorConfig["model_path"] = p.Config.Detector.ONNXModelPath
		detectorConfig["tokenizer_path"] = p.Config.Detector.TokenizerPath
	default:
		return nil, fmt.Errorf("invalid detector name: %s", detectorName)
	}
	return pii.NewDetector(detectorName, detectorConfig)
}

// openScanResultDB returns the configured store, or nil to keep results
// in memory only
func openScanResultDB(ctx context.Context, cfg *config.Config) piiServices.ScanResultDB {
	if !cfg.Database.Enabled {
		log.Println("Using in-memory scan results")
		return nil
	}
	db, err := piiServices.NewScanResultDB(ctx, cfg.Database)
	if err != nil {
		log.Printf("⚠️  Failed to open %s scan store, falling back to memory: %v", cfg.Database.Driver, err)
		return nil
	}
	log.Printf("Scan results persisted with %s", cfg.Database.Driver)
	return db
}

func cloudConfig(s config.Settings) pii.CloudConfig {
	return pii.CloudConfig{
		BaseURL:  s.CloudBaseURL,
		APIKey:   s.CloudAPIKey,
		Model:    s.CloudModel,
		Provider: s.CloudProvider,
	}
}

// RunCleanup removes stored scans older than Database.CleanupHours every
// hour until ctx is done
func (p *Pipeline) RunCleanup(ctx context.Context) {
	if p.Config.Database.CleanupHours <= 0 {
		return
	}
	maxAge := time.Duration(p.Config.Database.CleanupHours) * time.Hour

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		if removed := p.Results.Cleanup(ctx, maxAge); removed > 0 {
			log.Printf("Cleaned up %d old scan results", removed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases the detector, the result store and the engine
func (p *Pipeline) Close() error {
	var firstErr error
	if p.Detector != nil {
		if err := pii.CloseDetector(p.Detector); err != nil {
			firstErr = err
		}
	}
	if p.Results != nil {
		if err := p.Results.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.Engine != nil {
		if err := p.Engine.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
