package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ModelDetector sends the description to an external NER service
// (POST {baseURL}/detect) and folds the returned entities into a result.
type ModelDetector struct {
	baseURL string
	client  *http.Client
}

func NewModelDetector(baseURL string) *ModelDetector {
	return &ModelDetector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// GetName returns the name of this detector
func (m *ModelDetector) GetName() string {
	return DetectorNameModel
}

// Detect processes the input and returns the folded result
func (m *ModelDetector) Detect(ctx context.Context, input DetectorInput) (PIIResult, error) {
	requestBody := map[string]interface{}{
		"text": input.Description,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return PIIResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/detect", bytes.NewBuffer(jsonData))
	if err != nil {
		return PIIResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := m.client.Do(req)
	if err != nil {
		return ErrorResult(), nil
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return ErrorResult(), nil
	}

	entities, err := convertResponseToEntities(response)
	if err != nil {
		return ErrorResult(), nil
	}

	return entitiesToResult(entities, 0.8), nil
}

func convertResponseToEntities(response *http.Response) ([]Entity, error) {
	var responseBody struct {
		Entities []map[string]interface{} `json:"entities"`
	}
	if err := json.NewDecoder(response.Body).Decode(&responseBody); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}

	entities := make([]Entity, 0, len(responseBody.Entities))
	for _, entity := range responseBody.Entities {
		// start_pos and end_pos arrive as float64 from JSON
		var startPos, endPos int
		if sp, ok := entity["start_pos"].(float64); ok {
			startPos = int(sp)
		}
		if ep, ok := entity["end_pos"].(float64); ok {
			endPos = int(ep)
		}

		text, _ := entity["text"].(string)
		label, _ := entity["label"].(string)
		confidence, _ := entity["confidence"].(float64)

		entities = append(entities, Entity{
			Text:       text,
			Label:      label,
			StartPos:   startPos,
			EndPos:     endPos,
			Confidence: confidence,
		})
	}
	return entities, nil
}

// Close implements the Detector interface
func (m *ModelDetector) Close() error {
	return nil
}
