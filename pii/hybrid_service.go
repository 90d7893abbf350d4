package pii

import (
	"context"
	"errors"
	"log"

	pii "github.com/hannes/safeshare/pii/detectors"
)

// Analyzer classifies an image description
type Analyzer interface {
	AnalyzeDescription(ctx context.Context, description string) (pii.PIIResult, error)
}

// AnalyzerFor adapts a registry detector to Analyzer
func AnalyzerFor(detector pii.Detector) Analyzer {
	if a, ok := detector.(Analyzer); ok {
		return a
	}
	return detectorAnalyzer{detector: detector}
}

type detectorAnalyzer struct {
	detector pii.Detector
}

func (d detectorAnalyzer) AnalyzeDescription(ctx context.Context, description string) (pii.PIIResult, error) {
	return d.detector.Detect(ctx, pii.DetectorInput{Description: description})
}

// LoggingConfig interface for logging configuration
type LoggingConfig interface {
	GetLogVerbose() bool
}

// HybridService runs the local detector first and escalates uncertain
// results to the cloud verifier. Merges favor reporting PII over
// missing it.
type HybridService struct {
	local   Analyzer
	cloud   Analyzer
	logging LoggingConfig
}

// NewHybridService creates the arbiter. cloud may be nil, in which case
// every result is local-only.
func NewHybridService(local, cloud Analyzer, logging LoggingConfig) *HybridService {
	return &HybridService{local: local, cloud: cloud, logging: logging}
}

// Analyze returns one arbitrated result for description. The only errors
// returned are local contract errors such as pii.ErrEngineNotReady; cloud
// failures fall back to the local result.
func (s *HybridService) Analyze(ctx context.Context, description string, allowCloudEscalation bool) (pii.PIIResult, error) {
	local, err := s.local.AnalyzeDescription(ctx, description)
	if err != nil {
		return pii.ErrorResult(), err
	}
	local = local.Normalize()

	if !s.shouldEscalate(local, allowCloudEscalation) {
		s.logVerbose("[Hybrid] Local result used: %s", local)
		return local, nil
	}

	cloud, err := s.cloud.AnalyzeDescription(ctx, description)
	if err != nil {
		switch {
		case errors.Is(err, pii.ErrCloudNotConfigured):
			s.logVerbose("[Hybrid] Cloud verifier not configured, using local result")
		case pii.IsCloudUnavailable(err):
			log.Printf("[Hybrid] ⚠️  Cloud verifier unavailable, using local result: %v", err)
		default:
			log.Printf("[Hybrid] ⚠️  Cloud verification failed, using local result: %v", err)
		}
		return local, nil
	}
	cloud = cloud.Normalize()
	cloud.Confidence = pii.ConfidenceHigh

	merged := merge(local, cloud)
	s.logVerbose("[Hybrid] local=%s cloud=%s merged=%s", local, cloud, merged)
	return merged, nil
}

func (s *HybridService) shouldEscalate(local pii.PIIResult, allowCloudEscalation bool) bool {
	if !allowCloudEscalation || s.cloud == nil {
		return false
	}
	switch local.Confidence {
	case pii.ConfidenceMedium, pii.ConfidenceLow:
		return true
	default:
		// high is trusted as is; unknown and error are not worth a cloud call
		return false
	}
}

// merge combines a local result with a cloud result already normalized
// to high confidence.
func merge(local, cloud pii.PIIResult) pii.PIIResult {
	switch {
	case cloud.HasPII && !local.HasPII:
		return cloud
	case local.HasPII && !cloud.HasPII:
		upgraded := local
		upgraded.Types = append([]string(nil), local.Types...)
		upgraded.Confidence = pii.ConfidenceHigh
		return upgraded
	default:
		return cloud
	}
}

func (s *HybridService) logVerbose(format string, args ...interface{}) {
	if s.logging != nil && s.logging.GetLogVerbose() {
		log.Printf(format, args...)
	}
}
