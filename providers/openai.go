package providers

import (
	"context"
	"fmt"
	"net/http"
)

const (
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderSubpathOpenAI string       = "/v1/chat/completions"
	ProviderBaseURLOpenAI string       = "https://api.openai.com"
)

// OpenAIProvider speaks the OpenAI chat completions format. llama.cpp,
// LM Studio and Mistral expose the same endpoint.
type OpenAIProvider struct {
	baseURL           string
	apiKey            string
	model             string
	additionalHeaders map[string]string
	client            *http.Client
}

func NewOpenAIProvider(baseURL string, apiKey string, model string, additionalHeaders map[string]string, client *http.Client) *OpenAIProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIProvider{baseURL: baseURL, apiKey: apiKey, model: model, additionalHeaders: additionalHeaders, client: client}
}

func (p *OpenAIProvider) GetName() string {
	return "OpenAI"
}

func (p *OpenAIProvider) GetType() ProviderType {
	return ProviderTypeOpenAI
}

func (p *OpenAIProvider) GetBaseURL() string {
	return p.baseURL
}

func (p *OpenAIProvider) ValidateConfig() error {
	if p.baseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	return nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	images, err := loadImages(req.Images)
	if err != nil {
		return CompletionResponse{}, err
	}

	messages := make([]map[string]interface{}, 0, len(req.Messages))
	lastUser := -1
	for i, m := range req.Messages {
		messages = append(messages, map[string]interface{}{"role": m.Role, "content": m.Content})
		if m.Role == "user" {
			lastUser = i
		}
	}

	// Images ride on the last user turn as content parts
	if len(images) > 0 {
		if lastUser < 0 {
			messages = append(messages, map[string]interface{}{"role": "user", "content": ""})
			lastUser = len(messages) - 1
		}
		parts := []interface{}{
			map[string]interface{}{"type": "text", "text": messages[lastUser]["content"]},
		}
		for _, img := range images {
			parts = append(parts, map[string]interface{}{
				"type":      "image_url",
				"image_url": map[string]interface{}{"url": "data:" + img.MediaType + ";base64," + img.Data},
			})
		}
		messages[lastUser]["content"] = parts
	}

	body := map[string]interface{}{
		"model":       firstNonEmpty(req.Model, p.model),
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	for k, v := range p.additionalHeaders {
		headers[k] = v
	}

	data, err := postJSON(ctx, p.client, p.GetName(), p.baseURL+ProviderSubpathOpenAI, headers, body)
	if err != nil {
		return CompletionResponse{}, err
	}

	text, err := p.extractResponseText(data)
	if err != nil {
		return CompletionResponse{}, err
	}
	return CompletionResponse{Response: text}, nil
}

func (p *OpenAIProvider) extractResponseText(data map[string]interface{}) (string, error) {
	choices, ok := data["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	choice, ok := choices[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("malformed choice in response")
	}

	message, ok := choice["message"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("no message in choice")
	}

	content, ok := message["content"].(string)
	if !ok {
		return "", fmt.Errorf("no content in message")
	}
	return content, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
