package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type ProviderType string

// Message is a single chat turn sent to a completion provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the provider-neutral request shape. Images holds
// local file paths; each provider encodes them in its own wire format.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Images      []string
	MaxTokens   int
	Temperature float64
}

type CompletionResponse struct {
	Response string
}

// Completer is the narrow capability the detectors and the scan
// orchestrator depend on.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Provider defines the interface all completion providers must implement
type Provider interface {
	Completer

	GetType() ProviderType
	GetName() string
	GetBaseURL() string

	// ValidateConfig checks if provider configuration is valid
	ValidateConfig() error
}

// ProviderConfig selects and configures a provider for NewProvider.
type ProviderConfig struct {
	Type    ProviderType
	BaseURL string
	APIKey  string
	Model   string
	UseHTTP bool
	Timeout time.Duration
	Headers map[string]string
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// NewProvider builds the provider named by cfg.Type.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	var p Provider
	switch cfg.Type {
	case ProviderTypeOpenAI, "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ProviderBaseURLOpenAI
		}
		p = NewOpenAIProvider(normalizeBaseURL(baseURL, !cfg.UseHTTP), cfg.APIKey, cfg.Model, cfg.Headers, client)
	case ProviderTypeAnthropic:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ProviderBaseURLAnthropic
		}
		p = NewAnthropicProvider(normalizeBaseURL(baseURL, !cfg.UseHTTP), cfg.APIKey, cfg.Model, cfg.Headers, client)
	case ProviderTypeGemini:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ProviderBaseURLGemini
		}
		p = NewGeminiProvider(normalizeBaseURL(baseURL, !cfg.UseHTTP), cfg.APIKey, cfg.Model, client)
	case ProviderTypeOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ProviderBaseURLOllama
		}
		p = NewOllamaProvider(normalizeBaseURL(baseURL, !cfg.UseHTTP), cfg.Model, client)
	default:
		return nil, fmt.Errorf("unknown provider type '%s'", cfg.Type)
	}

	if err := p.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("%s: %w", p.GetName(), err)
	}
	return p, nil
}

// normalizeBaseURL accepts either a bare domain ("api.openai.com",
// "localhost:8080") or a full URL and returns a URL with the scheme
// forced to match useHttps and no trailing slash.
func normalizeBaseURL(apiDomain string, useHttps bool) string {
	scheme := "http"
	if useHttps {
		scheme = "https"
	}

	rest := strings.TrimSpace(apiDomain)
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	rest = strings.TrimRight(rest, "/")

	return scheme + "://" + rest
}

// postJSON sends body as JSON and decodes a JSON object response.
func postJSON(ctx context.Context, client *http.Client, name, url string, headers map[string]string, body interface{}) (map[string]interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Provider: name, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var data map[string]interface{}
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", name, err)
	}
	return data, nil
}

type encodedImage struct {
	MediaType string
	Data      string
}

// loadImages reads image files and base64-encodes them.
func loadImages(paths []string) ([]encodedImage, error) {
	images := make([]encodedImage, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(strings.TrimPrefix(path, "file://"))
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", path, err)
		}
		images = append(images, encodedImage{
			MediaType: imageMediaType(path, raw),
			Data:      base64.StdEncoding.EncodeToString(raw),
		})
	}
	return images, nil
}

func imageMediaType(path string, raw []byte) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); strings.HasPrefix(mt, "image/") {
		return mt
	}
	return http.DetectContentType(raw)
}

func withSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
