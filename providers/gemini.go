package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	ProviderTypeGemini    ProviderType = "gemini"
	ProviderSubpathGemini string       = "/v1beta/models"
	ProviderBaseURLGemini string       = "https://generativelanguage.googleapis.com"
)

type GeminiProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewGeminiProvider(baseURL string, apiKey string, model string, client *http.Client) *GeminiProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiProvider{baseURL: baseURL, apiKey: apiKey, model: model, client: client}
}

func (p *GeminiProvider) GetName() string {
	return "Gemini"
}

func (p *GeminiProvider) GetType() ProviderType {
	return ProviderTypeGemini
}

func (p *GeminiProvider) GetBaseURL() string {
	return p.baseURL
}

func (p *GeminiProvider) ValidateConfig() error {
	if p.baseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if p.model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	images, err := loadImages(req.Images)
	if err != nil {
		return CompletionResponse{}, err
	}

	system, turns := withSystem(req.Messages)
	contents := make([]map[string]interface{}, 0, len(turns))
	for i, m := range turns {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		parts := []interface{}{map[string]interface{}{"text": m.Content}}
		if i == len(turns)-1 && role == "user" {
			for _, img := range images {
				parts = append(parts, map[string]interface{}{
					"inline_data": map[string]interface{}{"mime_type": img.MediaType, "data": img.Data},
				})
			}
		}
		contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
	}

	generation := map[string]interface{}{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		generation["maxOutputTokens"] = req.MaxTokens
	}
	body := map[string]interface{}{
		"contents":         contents,
		"generationConfig": generation,
	}
	if system != "" {
		body["systemInstruction"] = map[string]interface{}{
			"parts": []interface{}{map[string]interface{}{"text": system}},
		}
	}

	model := firstNonEmpty(req.Model, p.model)
	endpoint := fmt.Sprintf("%s%s/%s:generateContent", p.baseURL, ProviderSubpathGemini, url.PathEscape(model))
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["x-goog-api-key"] = p.apiKey
	}

	data, err := postJSON(ctx, p.client, p.GetName(), endpoint, headers, body)
	if err != nil {
		return CompletionResponse{}, err
	}

	text, err := p.extractResponseText(data)
	if err != nil {
		return CompletionResponse{}, err
	}
	return CompletionResponse{Response: text}, nil
}

func (p *GeminiProvider) extractResponseText(data map[string]interface{}) (string, error) {
	candidates, ok := data["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate, ok := candidates[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("malformed candidate in response")
	}
	content, ok := candidate["content"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("no content in candidate")
	}
	parts, ok := content["parts"].([]interface{})
	if !ok {
		return "", fmt.Errorf("no parts in content")
	}

	var result strings.Builder
	for _, item := range parts {
		part, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if text, ok := part["text"].(string); ok {
			result.WriteString(text)
		}
	}
	return result.String(), nil
}
