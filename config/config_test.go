package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidatePort(t *testing.T) {
	testCases := []struct {
		name      string
		port      string
		fieldName string
		expectErr bool
		errString string
	}{
		{
			name:      "valid port",
			port:      ":8080",
			fieldName: "ServerPort",
			expectErr: false,
		},
		{
			name:      "empty port",
			port:      "",
			fieldName: "ServerPort",
			expectErr: true,
			errString: "ServerPort: port cannot be empty",
		},
		{
			name:      "no colon",
			port:      "8080",
			fieldName: "ServerPort",
			expectErr: true,
			errString: "ServerPort: port must be in format ':PORT' where PORT is numeric (current value: 8080)",
		},
		{
			name:      "non-numeric",
			port:      ":abcd",
			fieldName: "ServerPort",
			expectErr: true,
			errString: "ServerPort: port must be in format ':PORT' where PORT is numeric (current value: :abcd)",
		},
		{
			name:      "port out of range (low)",
			port:      ":0",
			fieldName: "ServerPort",
			expectErr: true,
			errString: "ServerPort: port must be between 1 and 65535 (current value: 0)",
		},
		{
			name:      "port out of range (high)",
			port:      ":65536",
			fieldName: "ServerPort",
			expectErr: true,
			errString: "ServerPort: port must be between 1 and 65535 (current value: 65536)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePort(tc.port, tc.fieldName)
			if tc.expectErr {
				if err == nil {
					t.Errorf("expected an error, but got nil")
				} else if err.Error() != tc.errString {
					t.Errorf("expected error string '%s', but got '%s'", tc.errString, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error, but got: %v", err)
			}
		})
	}
}

func TestValidateBaseURL(t *testing.T) {
	testCases := []struct {
		name      string
		baseURL   string
		fieldName string
		expectErr bool
		errString string
	}{
		{
			name:      "valid https",
			baseURL:   "https://pii-proxy.example.com",
			fieldName: "Settings.CloudBaseURL",
		},
		{
			name:      "valid http with port",
			baseURL:   "http://localhost:11434",
			fieldName: "Engine.BaseURL",
		},
		{
			name:      "empty",
			baseURL:   "",
			fieldName: "Engine.BaseURL",
			expectErr: true,
			errString: "Engine.BaseURL: base URL cannot be empty",
		},
		{
			name:      "missing scheme",
			baseURL:   "localhost:11434",
			fieldName: "Engine.BaseURL",
			expectErr: true,
			errString: "Engine.BaseURL: base URL format is invalid (current value: localhost:11434)",
		},
		{
			name:      "wrong scheme",
			baseURL:   "ftp://example.com",
			fieldName: "Engine.BaseURL",
			expectErr: true,
			errString: "Engine.BaseURL: base URL must use http or https (current value: ftp://example.com)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateBaseURL(tc.baseURL, tc.fieldName)
			if tc.expectErr {
				if err == nil {
					t.Errorf("expected an error, but got nil")
				} else if err.Error() != tc.errString {
					t.Errorf("expected error string '%s', but got '%s'", tc.errString, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error, but got: %v", err)
			}
		})
	}
}

func TestValidateProvider(t *testing.T) {
	testCases := []struct {
		name      string
		provider  string
		expectErr bool
		errString string
	}{
		{name: "openai", provider: "openai"},
		{name: "ollama", provider: "ollama"},
		{
			name:      "empty",
			provider:  "",
			expectErr: true,
			errString: "Engine.Provider: provider cannot be empty",
		},
		{
			name:      "unknown",
			provider:  "watsonx",
			expectErr: true,
			errString: "Engine.Provider: unknown provider 'watsonx' (expected one of openai, anthropic, gemini, ollama)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateProvider(tc.provider, "Engine.Provider")
			if tc.expectErr {
				if err == nil {
					t.Errorf("expected an error, but got nil")
				} else if err.Error() != tc.errString {
					t.Errorf("expected error string '%s', but got '%s'", tc.errString, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error, but got: %v", err)
			}
		})
	}
}

func TestValidateAdditionalHeaders(t *testing.T) {
	testCases := []struct {
		name      string
		headers   map[string]string
		expectErr bool
		errString string
	}{
		{
			name:    "valid headers",
			headers: map[string]string{"X-Test-Header": "value"},
		},
		{
			name:      "empty header name",
			headers:   map[string]string{"": "value"},
			expectErr: true,
			errString: "Engine.AdditionalHeaders: header name cannot be empty",
		},
		{
			name:      "header name with colon",
			headers:   map[string]string{"invalid:header": "value"},
			expectErr: true,
			errString: "Engine.AdditionalHeaders: header name 'invalid:header' contains invalid characters",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateAdditionalHeaders(tc.headers, "Engine.AdditionalHeaders")
			if tc.expectErr {
				if err == nil {
					t.Errorf("expected an error, but got nil")
				} else if err.Error() != tc.errString {
					t.Errorf("expected error string '%s', but got '%s'", tc.errString, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error, but got: %v", err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Settings.AllowCloud {
		t.Error("cloud escalation must be disabled by default")
	}
	if cfg.Scan.MaxRetries != 2 || cfg.Scan.RetryDelay != time.Second {
		t.Errorf("unexpected retry defaults: %d, %v", cfg.Scan.MaxRetries, cfg.Scan.RetryDelay)
	}
	if cfg.Scan.SettleDelay != 300*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 300ms", cfg.Scan.SettleDelay)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{
			name:      "bad port",
			mutate:    func(c *Config) { c.ServerPort = "8080" },
			errString: "ServerPort: port must be in format ':PORT' where PORT is numeric (current value: 8080)",
		},
		{
			name:      "missing text model",
			mutate:    func(c *Config) { c.Engine.TextModel = "" },
			errString: "Engine.TextModel: model cannot be empty",
		},
		{
			name:      "bad cloud url",
			mutate:    func(c *Config) { c.Settings.CloudBaseURL = "not a url" },
			errString: "Settings.CloudBaseURL: base URL format is invalid (current value: not a url)",
		},
		{
			name:      "negative retries",
			mutate:    func(c *Config) { c.Scan.MaxRetries = -1 },
			errString: "Scan.MaxRetries: must not be negative (current value: -1)",
		},
		{
			name: "unknown driver",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Driver = "sqlite"
			},
			errString: "Database.Driver: unsupported driver (current value: sqlite)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected an error, but got nil")
			}
			if err.Error() != tc.errString {
				t.Errorf("expected error string '%s', but got '%s'", tc.errString, err.Error())
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "safeshare.yaml")
	content := `
server_port: ":9090"
engine:
  provider: openai
  base_url: http://127.0.0.1:8081
  text_model: local-text
scan:
  max_retries: 3
  retry_delay: 2s
logging:
  log_verbose: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := LoadFile(path, cfg); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.ServerPort != ":9090" {
		t.Errorf("ServerPort = %q", cfg.ServerPort)
	}
	if cfg.Engine.Provider != "openai" || cfg.Engine.TextModel != "local-text" {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Scan.MaxRetries != 3 || cfg.Scan.RetryDelay != 2*time.Second {
		t.Errorf("Scan = %+v", cfg.Scan)
	}
	if cfg.Scan.SettleDelay != 300*time.Millisecond {
		t.Errorf("keys absent from the file should keep defaults, SettleDelay = %v", cfg.Scan.SettleDelay)
	}
	if cfg.Logging.LogVerbose {
		t.Error("LogVerbose should be overridden to false")
	}

	if err := LoadFile(filepath.Join(dir, "missing.yaml"), cfg); err == nil {
		t.Error("expected error for missing file")
	}
}
