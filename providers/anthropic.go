package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	ProviderTypeAnthropic    ProviderType = "anthropic"
	ProviderSubpathAnthropic string       = "/v1/messages"
	ProviderBaseURLAnthropic string       = "https://api.anthropic.com"
)

type AnthropicProvider struct {
	baseURL         string
	apiKey          string
	model           string
	requiredHeaders map[string]string
	client          *http.Client
}

func NewAnthropicProvider(baseURL string, apiKey string, model string, requiredHeaders map[string]string, client *http.Client) *AnthropicProvider {
	if requiredHeaders == nil {
		requiredHeaders = map[string]string{
			"anthropic-version": "2023-06-01",
		}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &AnthropicProvider{baseURL: baseURL, apiKey: apiKey, model: model, requiredHeaders: requiredHeaders, client: client}
}

func (p *AnthropicProvider) GetName() string {
	return "Anthropic"
}

func (p *AnthropicProvider) GetType() ProviderType {
	return ProviderTypeAnthropic
}

func (p *AnthropicProvider) GetBaseURL() string {
	return p.baseURL
}

func (p *AnthropicProvider) ValidateConfig() error {
	if p.baseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if p.apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	return nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	images, err := loadImages(req.Images)
	if err != nil {
		return CompletionResponse{}, err
	}

	system, turns := withSystem(req.Messages)
	messages := make([]map[string]interface{}, 0, len(turns))
	for i, m := range turns {
		blocks := []interface{}{}
		// Images go on the final turn, ahead of its text
		if i == len(turns)-1 && m.Role == "user" {
			for _, img := range images {
				blocks = append(blocks, map[string]interface{}{
					"type": "image",
					"source": map[string]interface{}{
						"type":       "base64",
						"media_type": img.MediaType,
						"data":       img.Data,
					},
				})
			}
		}
		blocks = append(blocks, map[string]interface{}{"type": "text", "text": m.Content})
		messages = append(messages, map[string]interface{}{"role": m.Role, "content": blocks})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := map[string]interface{}{
		"model":       firstNonEmpty(req.Model, p.model),
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
	}
	if system != "" {
		body["system"] = system
	}

	headers := map[string]string{"x-api-key": p.apiKey}
	for k, v := range p.requiredHeaders {
		headers[k] = v
	}

	data, err := postJSON(ctx, p.client, p.GetName(), p.baseURL+ProviderSubpathAnthropic, headers, body)
	if err != nil {
		return CompletionResponse{}, err
	}

	text, err := p.extractResponseText(data)
	if err != nil {
		return CompletionResponse{}, err
	}
	return CompletionResponse{Response: text}, nil
}

func (p *AnthropicProvider) extractResponseText(data map[string]interface{}) (string, error) {
	// Anthropic response format:
	// {
	//   "content": [{"type": "text", "text": "..."}],
	//   "role": "assistant"
	// }
	content, ok := data["content"].([]interface{})
	if !ok || len(content) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var result strings.Builder
	for _, item := range content {
		block, ok := item.(map[string]interface{})
		if !ok || block["type"] != "text" {
			continue
		}
		if text, ok := block["text"].(string); ok {
			result.WriteString(text)
		}
	}
	if result.Len() == 0 {
		return "", fmt.Errorf("no text blocks in response")
	}
	return result.String(), nil
}
