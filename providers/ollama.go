package providers

import (
	"context"
	"fmt"
	"net/http"
)

const (
	ProviderTypeOllama    ProviderType = "ollama"
	ProviderSubpathOllama string       = "/api/chat"
	ProviderBaseURLOllama string       = "http://localhost:11434"
)

// OllamaProvider talks to a local Ollama server. It is the default
// on-device engine.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaProvider(baseURL string, model string, client *http.Client) *OllamaProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaProvider{baseURL: baseURL, model: model, client: client}
}

func (p *OllamaProvider) GetName() string {
	return "Ollama"
}

func (p *OllamaProvider) GetType() ProviderType {
	return ProviderTypeOllama
}

func (p *OllamaProvider) GetBaseURL() string {
	return p.baseURL
}

func (p *OllamaProvider) ValidateConfig() error {
	if p.baseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if p.model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
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
	if len(images) > 0 {
		if lastUser < 0 {
			messages = append(messages, map[string]interface{}{"role": "user", "content": ""})
			lastUser = len(messages) - 1
		}
		encoded := make([]string, 0, len(images))
		for _, img := range images {
			encoded = append(encoded, img.Data)
		}
		messages[lastUser]["images"] = encoded
	}

	options := map[string]interface{}{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	body := map[string]interface{}{
		"model":    firstNonEmpty(req.Model, p.model),
		"messages": messages,
		"stream":   false,
		"options":  options,
	}

	data, err := postJSON(ctx, p.client, p.GetName(), p.baseURL+ProviderSubpathOllama, nil, body)
	if err != nil {
		return CompletionResponse{}, err
	}

	message, ok := data["message"].(map[string]interface{})
	if !ok {
		return CompletionResponse{}, fmt.Errorf("no message in response")
	}
	content, ok := message["content"].(string)
	if !ok {
		return CompletionResponse{}, fmt.Errorf("no content in message")
	}
	return CompletionResponse{Response: content}, nil
}
