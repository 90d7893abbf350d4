package pii

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/daulet/tokenizers"
	onnxruntime "github.com/yalue/onnxruntime_go"
)

const (
	onnxMaxSeqLen = 512
	// minimum softmax probability for a token to count as an entity
	onnxTokenThreshold = 0.5
	// entities at or above this probability make the result medium
	onnxStrongThreshold = 0.8
)

// ONNXModelDetector runs a quantized token-classification PII model
// over the description.
type ONNXModelDetector struct {
	mu           sync.Mutex
	tokenizer    *tokenizers.Tokenizer
	session      *onnxruntime.AdvancedSession
	inputTensor  *onnxruntime.Tensor[int64]
	maskTensor   *onnxruntime.Tensor[int64]
	outputTensor *onnxruntime.Tensor[float32]
	id2label     map[string]string
	numLabels    int
	modelPath    string
}

// NewONNXModelDetector loads the tokenizer and label map. The session
// is created on first use. config.json is read from the model's
// directory; ONNXRUNTIME_SHARED_LIBRARY_PATH overrides the runtime
// library location.
func NewONNXModelDetector(modelPath string, tokenizerPath string) (*ONNXModelDetector, error) {
	if libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); libPath != "" {
		onnxruntime.SetSharedLibraryPath(libPath)
	}

	// Initialize ONNX Runtime environment only if not already initialized
	if !onnxruntime.IsInitialized() {
		err := onnxruntime.InitializeEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	}

	if tokenizerPath == "" {
		tokenizerPath = filepath.Join(filepath.Dir(modelPath), "tokenizer.json")
	}
	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	configData, err := os.ReadFile(filepath.Join(filepath.Dir(modelPath), "config.json"))
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config struct {
		ID2Label map[string]string `json:"id2label"`
	}
	if err := json.Unmarshal(configData, &config); err != nil {
		tk.Close()
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(config.ID2Label) == 0 {
		tk.Close()
		return nil, fmt.Errorf("config has no id2label entries")
	}

	return &ONNXModelDetector{
		tokenizer: tk,
		id2label:  config.ID2Label,
		numLabels: len(config.ID2Label),
		modelPath: modelPath,
	}, nil
}

// GetName returns the name of this detector
func (d *ONNXModelDetector) GetName() string {
	return DetectorNameONNXModel
}

// Detect classifies each token of the description and folds the
// entities into a result. It never reports high confidence.
func (d *ONNXModelDetector) Detect(ctx context.Context, input DetectorInput) (PIIResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		if err := d.initializeSession(); err != nil {
			return PIIResult{}, fmt.Errorf("failed to initialize session: %w", err)
		}
	}

	tokenIDs, _ := d.tokenizer.Encode(input.Description, true)
	if len(tokenIDs) > onnxMaxSeqLen {
		tokenIDs = tokenIDs[:onnxMaxSeqLen]
	}

	inputData := d.inputTensor.GetData()
	maskData := d.maskTensor.GetData()
	for i := range inputData {
		inputData[i] = 0
		maskData[i] = 0
	}
	for i, id := range tokenIDs {
		inputData[i] = int64(id)
		maskData[i] = 1
	}

	if err := d.session.Run(); err != nil {
		return PIIResult{}, fmt.Errorf("failed to run inference: %w", err)
	}

	return entitiesToResult(d.decodeEntities(d.outputTensor.GetData(), len(tokenIDs)), onnxStrongThreshold), nil
}

// decodeEntities turns per-token logits into entities, one per token
// whose best label is not "O".
func (d *ONNXModelDetector) decodeEntities(outputData []float32, tokens int) []Entity {
	var entities []Entity

	for i := 0; i < tokens; i++ {
		logits := outputData[i*d.numLabels : (i+1)*d.numLabels]

		best := 0
		for j := range logits {
			if logits[j] > logits[best] {
				best = j
			}
		}

		label, ok := d.id2label[strconv.Itoa(best)]
		if !ok || label == "O" {
			continue
		}

		var sum float64
		for _, logit := range logits {
			sum += math.Exp(float64(logit - logits[best]))
		}
		confidence := 1 / sum
		if confidence < onnxTokenThreshold {
			continue
		}

		entities = append(entities, Entity{
			Label:      stripBIOPrefix(label),
			StartPos:   i,
			EndPos:     i + 1,
			Confidence: confidence,
		})
	}
	return entities
}

func stripBIOPrefix(label string) string {
	for _, prefix := range []string{"B-", "I-", "E-", "S-"} {
		if strings.HasPrefix(label, prefix) {
			return label[len(prefix):]
		}
	}
	return label
}

func (d *ONNXModelDetector) initializeSession() error {
	inputShape := onnxruntime.NewShape(1, onnxMaxSeqLen)
	inputTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, onnxMaxSeqLen))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	maskTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, onnxMaxSeqLen))
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("failed to create mask tensor: %w", err)
	}

	outputShape := onnxruntime.NewShape(1, onnxMaxSeqLen, int64(d.numLabels))
	outputTensor, err := onnxruntime.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		maskTensor.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := onnxruntime.NewAdvancedSession(d.modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]onnxruntime.Value{inputTensor, maskTensor},
		[]onnxruntime.Value{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		maskTensor.Destroy()
		outputTensor.Destroy()
		return fmt.Errorf("failed to create session: %w", err)
	}

	d.session = session
	d.inputTensor = inputTensor
	d.maskTensor = maskTensor
	d.outputTensor = outputTensor
	return nil
}

// Close implements the Detector interface
func (d *ONNXModelDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.maskTensor != nil {
		d.maskTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
	if d.tokenizer != nil {
		d.tokenizer.Close()
	}
	onnxruntime.DestroyEnvironment()
	return nil
}
