package pii

import (
	"context"
	"fmt"
)

const (
	DetectorNameLLM       = "llm_detector"
	DetectorNameModel     = "model_detector"
	DetectorNameRegex     = "regex_detector"
	DetectorNameONNXModel = "onnx_model_detector"
)

// Detector is a local PII classifier over an image description.
type Detector interface {
	GetName() string
	Detect(ctx context.Context, input DetectorInput) (PIIResult, error)
	Close() error
}

type NewDetectorFunc func(config map[string]interface{}) (Detector, error)

var detectorFactories = make(map[string]NewDetectorFunc)

func RegisterDetectorFactory(name string, factory NewDetectorFunc) {
	detectorFactories[name] = factory
}

func NewDetector(name string, config map[string]interface{}) (Detector, error) {
	factory, ok := detectorFactories[name]
	if !ok {
		return nil, fmt.Errorf("detector factory not found for name: %s", name)
	}
	return factory(config)
}

func init() {
	// Register built-in detector factories
	RegisterDetectorFactory(DetectorNameLLM, func(config map[string]interface{}) (Detector, error) {
		engine, ok := config["engine"].(EngineSource)
		if !ok {
			return nil, fmt.Errorf("engine is required for LLM detector")
		}
		logOutput, _ := config["log_model_output"].(bool)
		return NewLocalDetector(engine, logOutput), nil
	})

	RegisterDetectorFactory(DetectorNameModel, func(config map[string]interface{}) (Detector, error) {
		baseURL, ok := config["base_url"].(string)
		if !ok || baseURL == "" {
			return nil, fmt.Errorf("base_url is required for model detector")
		}
		return NewModelDetector(baseURL), nil
	})

	RegisterDetectorFactory(DetectorNameRegex, func(config map[string]interface{}) (Detector, error) {
		return NewRegexDetector(PIIPatterns), nil
	})

	RegisterDetectorFactory(DetectorNameONNXModel, func(config map[string]interface{}) (Detector, error) {
		modelPath, ok := config["model_path"].(string)
		if !ok || modelPath == "" {
			return nil, fmt.Errorf("model_path is required for ONNX model detector")
		}
		tokenizerPath, _ := config["tokenizer_path"].(string)
		return NewONNXModelDetector(modelPath, tokenizerPath)
	})
}

func CloseDetector(detector Detector) error {
	return detector.Close()
}
