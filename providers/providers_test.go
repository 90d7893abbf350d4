package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Helper functions ---

// recordingServer answers every request with response and records the
// decoded request body and path.
func recordingServer(t *testing.T, status int, response map[string]interface{}) (*httptest.Server, *map[string]interface{}, *string, *http.Header) {
	t.Helper()
	var body map[string]interface{}
	var path string
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return srv, &body, &path, &headers
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.png")
	// PNG signature is enough for content sniffing
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nfake"), 0o600); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	return path
}

func userRequest(images ...string) CompletionRequest {
	return CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: "You are a PII classifier"},
			{Role: "user", Content: "Describe this image"},
		},
		Images:    images,
		MaxTokens: 256,
	}
}

// --- OpenAI Provider Tests ---

func TestOpenAIProvider_Complete(t *testing.T) {
	srv, body, path, headers := recordingServer(t, http.StatusOK, map[string]interface{}{
		"choices": []interface{}{
			map[string]interface{}{"message": map[string]interface{}{"role": "assistant", "content": "a receipt"}},
		},
	})

	p := NewOpenAIProvider(srv.URL, "sk-test", "gpt-4o-mini", nil, srv.Client())
	resp, err := p.Complete(context.Background(), userRequest(writeTestImage(t)))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Response != "a receipt" {
		t.Errorf("Response = %q, want %q", resp.Response, "a receipt")
	}
	if *path != ProviderSubpathOpenAI {
		t.Errorf("path = %q, want %q", *path, ProviderSubpathOpenAI)
	}
	if got := headers.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}
	if (*body)["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", (*body)["model"])
	}

	messages := (*body)["messages"].([]interface{})
	last := messages[len(messages)-1].(map[string]interface{})
	parts, ok := last["content"].([]interface{})
	if !ok || len(parts) != 2 {
		t.Fatalf("expected text + image parts on last user turn, got %v", last["content"])
	}
	image := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	if url := image["url"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image url = %q", url)
	}
}

func TestOpenAIProvider_ExtractResponseText(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]interface{}
		want    string
		wantErr bool
	}{
		{
			name: "single choice",
			data: map[string]interface{}{"choices": []interface{}{
				map[string]interface{}{"message": map[string]interface{}{"content": "Hi there"}},
			}},
			want: "Hi there",
		},
		{
			name:    "no choices",
			data:    map[string]interface{}{"choices": []interface{}{}},
			wantErr: true,
		},
		{
			name: "no message",
			data: map[string]interface{}{"choices": []interface{}{
				map[string]interface{}{"text": "legacy"},
			}},
			wantErr: true,
		},
	}

	p := NewOpenAIProvider("https://api.openai.com", "sk-test", "", nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.extractResponseText(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("extractResponseText() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("extractResponseText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenAIProvider_StatusError(t *testing.T) {
	srv, _, _, _ := recordingServer(t, http.StatusServiceUnavailable, map[string]interface{}{"error": "busy"})

	p := NewOpenAIProvider(srv.URL, "", "local", nil, srv.Client())
	_, err := p.Complete(context.Background(), userRequest())

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", se.StatusCode)
	}
}

func TestOpenAIProvider_MissingImage(t *testing.T) {
	p := NewOpenAIProvider("http://127.0.0.1:1", "", "local", nil, nil)
	_, err := p.Complete(context.Background(), userRequest(filepath.Join(t.TempDir(), "missing.png")))
	if err == nil {
		t.Fatal("expected error for missing image")
	}
}

// --- Anthropic Provider Tests ---

func TestAnthropicProvider_Complete(t *testing.T) {
	srv, body, path, headers := recordingServer(t, http.StatusOK, map[string]interface{}{
		"role": "assistant",
		"content": []interface{}{
			map[string]interface{}{"type": "text", "text": "Hello "},
			map[string]interface{}{"type": "tool_use", "id": "x"},
			map[string]interface{}{"type": "text", "text": "world"},
		},
	})

	p := NewAnthropicProvider(srv.URL, "key", "claude-haiku", nil, srv.Client())
	resp, err := p.Complete(context.Background(), userRequest(writeTestImage(t)))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Response != "Hello world" {
		t.Errorf("Response = %q", resp.Response)
	}
	if *path != ProviderSubpathAnthropic {
		t.Errorf("path = %q", *path)
	}
	if headers.Get("x-api-key") != "key" || headers.Get("anthropic-version") != "2023-06-01" {
		t.Errorf("missing auth headers: %v", *headers)
	}
	if (*body)["system"] != "You are a PII classifier" {
		t.Errorf("system = %v", (*body)["system"])
	}

	messages := (*body)["messages"].([]interface{})
	if len(messages) != 1 {
		t.Fatalf("expected system turn to be lifted out, got %d messages", len(messages))
	}
	blocks := messages[0].(map[string]interface{})["content"].([]interface{})
	if blocks[0].(map[string]interface{})["type"] != "image" {
		t.Errorf("expected image block first, got %v", blocks[0])
	}
}

// --- Gemini Provider Tests ---

func TestGeminiProvider_Complete(t *testing.T) {
	srv, body, path, headers := recordingServer(t, http.StatusOK, map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{"content": map[string]interface{}{
				"parts": []interface{}{map[string]interface{}{"text": "{\"hasPII\": false}"}},
			}},
		},
	})

	p := NewGeminiProvider(srv.URL, "g-key", "gemini-1.5-flash", srv.Client())
	resp, err := p.Complete(context.Background(), userRequest(writeTestImage(t)))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Response != "{\"hasPII\": false}" {
		t.Errorf("Response = %q", resp.Response)
	}
	if *path != "/v1beta/models/gemini-1.5-flash:generateContent" {
		t.Errorf("path = %q", *path)
	}
	if headers.Get("x-goog-api-key") != "g-key" {
		t.Errorf("missing api key header")
	}
	contents := (*body)["contents"].([]interface{})
	parts := contents[0].(map[string]interface{})["parts"].([]interface{})
	if len(parts) != 2 {
		t.Fatalf("expected text + inline_data parts, got %d", len(parts))
	}
	if _, ok := parts[1].(map[string]interface{})["inline_data"]; !ok {
		t.Errorf("expected inline_data part, got %v", parts[1])
	}
}

// --- Ollama Provider Tests ---

func TestOllamaProvider_Complete(t *testing.T) {
	srv, body, path, _ := recordingServer(t, http.StatusOK, map[string]interface{}{
		"message": map[string]interface{}{"role": "assistant", "content": "a cat on a sofa"},
		"done":    true,
	})

	p := NewOllamaProvider(srv.URL, "llava", srv.Client())
	resp, err := p.Complete(context.Background(), userRequest(writeTestImage(t)))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Response != "a cat on a sofa" {
		t.Errorf("Response = %q", resp.Response)
	}
	if *path != ProviderSubpathOllama {
		t.Errorf("path = %q", *path)
	}
	if (*body)["stream"] != false {
		t.Errorf("stream = %v, want false", (*body)["stream"])
	}
	messages := (*body)["messages"].([]interface{})
	last := messages[len(messages)-1].(map[string]interface{})
	if images, ok := last["images"].([]interface{}); !ok || len(images) != 1 {
		t.Errorf("expected one image on last user turn, got %v", last["images"])
	}
}

func TestOllamaProvider_NoMessage(t *testing.T) {
	srv, _, _, _ := recordingServer(t, http.StatusOK, map[string]interface{}{"done": true})

	p := NewOllamaProvider(srv.URL, "llava", srv.Client())
	if _, err := p.Complete(context.Background(), userRequest()); err == nil {
		t.Fatal("expected error for response without message")
	}
}
