package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig holds logging configuration options. Descriptions and raw
// model output may contain PII and are only logged when enabled.
type LoggingConfig struct {
	LogDescriptions bool `mapstructure:"log_descriptions"` // Log vision descriptions
	LogModelOutput  bool `mapstructure:"log_model_output"` // Log raw model completions
	LogVerbose      bool `mapstructure:"log_verbose"`      // Log per-stage decisions
	DebugMode       bool `mapstructure:"debug_mode"`       // Enable debug logging for database operations
}

// EngineConfig describes the on-device completion engine
type EngineConfig struct {
	Provider          string            `mapstructure:"provider"` // openai, anthropic, gemini or ollama wire format
	BaseURL           string            `mapstructure:"base_url"`
	APIKey            string            `mapstructure:"api_key"`
	TextModel         string            `mapstructure:"text_model"`
	VisionModel       string            `mapstructure:"vision_model"`
	UseHTTP           bool              `mapstructure:"use_http"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	AdditionalHeaders map[string]string `mapstructure:"additional_headers"`
	ValidateOnLoad    bool              `mapstructure:"validate_on_load"` // Run a validation completion before swapping engines
}

// DetectorConfig selects the local PII detector
type DetectorConfig struct {
	Name          string `mapstructure:"name"`
	ModelBaseURL  string `mapstructure:"model_base_url"`
	ONNXModelPath string `mapstructure:"onnx_model_path"`
	TokenizerPath string `mapstructure:"tokenizer_path"`
}

// Settings is the user-facing configuration surface gating cloud
// escalation. Zero value is safe: cloud disabled.
type Settings struct {
	CloudProvider string `json:"cloudProvider" mapstructure:"cloud_provider"`
	CloudModel    string `json:"cloudModel" mapstructure:"cloud_model"`
	CloudAPIKey   string `json:"cloudApiKey" mapstructure:"cloud_api_key"`
	CloudBaseURL  string `json:"cloudBaseUrl" mapstructure:"cloud_base_url"`
	AllowCloud    bool   `json:"allowCloud" mapstructure:"allow_cloud"`
}

// ScanConfig tunes the scan orchestrator
type ScanConfig struct {
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	SettleDelay          time.Duration `mapstructure:"settle_delay"`
	VisionPrompt         string        `mapstructure:"vision_prompt"`
	VisionMaxTokens      int           `mapstructure:"vision_max_tokens"`
	CloudRequestInterval time.Duration `mapstructure:"cloud_request_interval"`
}

// DatabaseConfig holds scan result storage configuration
type DatabaseConfig struct {
	Enabled      bool   `mapstructure:"enabled"`        // Whether to persist scan results
	Driver       string `mapstructure:"driver"`         // postgres, mysql or bolt
	Host         string `mapstructure:"host"`           // Database host
	Port         int    `mapstructure:"port"`           // Database port
	Database     string `mapstructure:"database"`       // Database name
	Username     string `mapstructure:"username"`       // Database username
	Password     string `mapstructure:"password"`       // Database password
	SSLMode      string `mapstructure:"ssl_mode"`       // SSL mode (disable, require, etc.)
	MaxOpenConns int    `mapstructure:"max_open_conns"` // Maximum open connections
	MaxIdleConns int    `mapstructure:"max_idle_conns"` // Maximum idle connections
	MaxLifetime  int    `mapstructure:"max_lifetime"`   // Connection max lifetime in seconds
	BoltPath     string `mapstructure:"bolt_path"`      // File for the embedded store
	UseCache     bool   `mapstructure:"use_cache"`      // Whether to use in-memory cache
	CleanupHours int    `mapstructure:"cleanup_hours"`  // Hours after which to cleanup old scans
}

// Config holds all configuration for the scan service
type Config struct {
	ServerPort   string         `mapstructure:"server_port"`
	SettingsPath string         `mapstructure:"settings_path"`
	SentryDSN    string         `mapstructure:"sentry_dsn"`
	Engine       EngineConfig   `mapstructure:"engine"`
	Detector     DetectorConfig `mapstructure:"detector"`
	Settings     Settings       `mapstructure:"settings"`
	Scan         ScanConfig     `mapstructure:"scan"`
	Database     DatabaseConfig `mapstructure:"database"`
	Logging      LoggingConfig  `mapstructure:"logging"`
}

// DefaultVisionPrompt asks the vision model for a description detailed
// enough for text-only PII analysis.
const DefaultVisionPrompt = "Describe this image in detail. Transcribe any visible text exactly, " +
	"including numbers, names, addresses and labels. Mention any people or faces."

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".safeshare")

	return &Config{
		ServerPort:   ":8080",
		SettingsPath: filepath.Join(dataDir, "settings.json"),
		Engine: EngineConfig{
			Provider:    "ollama",
			BaseURL:     "http://localhost:11434",
			TextModel:   "qwen3:1.7b",
			VisionModel: "qwen2.5vl:3b",
			UseHTTP:     true,
			Timeout:     120 * time.Second,
		},
		Detector: DetectorConfig{
			Name:          "llm_detector",
			ModelBaseURL:  "http://localhost:8000",
			ONNXModelPath: "model/quantized/model_quantized.onnx",
			TokenizerPath: "model/quantized/tokenizer.json",
		},
		Settings: Settings{
			CloudProvider: "openai",
			AllowCloud:    false,
		},
		Scan: ScanConfig{
			MaxRetries:           2,
			RetryDelay:           time.Second,
			SettleDelay:          300 * time.Millisecond,
			VisionPrompt:         DefaultVisionPrompt,
			VisionMaxTokens:      768,
			CloudRequestInterval: 2 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Driver:       "bolt",
			Host:         "localhost",
			Port:         5432,
			Database:     "safeshare",
			Username:     "postgres",
			Password:     "",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 25,
			MaxLifetime:  300,
			BoltPath:     filepath.Join(dataDir, "scans.db"),
			UseCache:     true,
			CleanupHours: 24 * 7,
		},
		Logging: LoggingConfig{
			LogDescriptions: false,
			LogModelOutput:  false,
			LogVerbose:      true,
		},
	}
}

// LoadFile overlays values from a JSON or YAML config file onto cfg.
// Keys missing from the file keep their current values.
func LoadFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration and returns the first problem found
func (c *Config) Validate() error {
	if err := validatePort(c.ServerPort, "ServerPort"); err != nil {
		return err
	}
	if err := validateProvider(c.Engine.Provider, "Engine.Provider"); err != nil {
		return err
	}
	if err := validateBaseURL(c.Engine.BaseURL, "Engine.BaseURL"); err != nil {
		return err
	}
	if err := validateAdditionalHeaders(c.Engine.AdditionalHeaders, "Engine.AdditionalHeaders"); err != nil {
		return err
	}
	if c.Engine.TextModel == "" {
		return fmt.Errorf("Engine.TextModel: model cannot be empty")
	}
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	if c.Scan.MaxRetries < 0 {
		return fmt.Errorf("Scan.MaxRetries: must not be negative (current value: %d)", c.Scan.MaxRetries)
	}
	if c.Database.Enabled {
		switch c.Database.Driver {
		case "postgres", "mysql", "bolt":
		default:
			return fmt.Errorf("Database.Driver: unsupported driver (current value: %s)", c.Database.Driver)
		}
	}
	return nil
}

// Validate checks the cloud settings. An empty base URL is valid and
// disables the cloud verifier.
func (s Settings) Validate() error {
	if s.CloudBaseURL == "" {
		return nil
	}
	return validateBaseURL(s.CloudBaseURL, "Settings.CloudBaseURL")
}

var knownProviders = []string{"openai", "anthropic", "gemini", "ollama"}

func validatePort(port, fieldName string) error {
	if port == "" {
		return fmt.Errorf("%s: port cannot be empty", fieldName)
	}
	if !strings.HasPrefix(port, ":") {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}
	n, err := strconv.Atoi(port[1:])
	if err != nil {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s: port must be between 1 and 65535 (current value: %d)", fieldName, n)
	}
	return nil
}

func validateBaseURL(raw, fieldName string) error {
	if raw == "" {
		return fmt.Errorf("%s: base URL cannot be empty", fieldName)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s: base URL format is invalid (current value: %s)", fieldName, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: base URL must use http or https (current value: %s)", fieldName, raw)
	}
	return nil
}

func validateProvider(provider, fieldName string) error {
	if provider == "" {
		return fmt.Errorf("%s: provider cannot be empty", fieldName)
	}
	for _, known := range knownProviders {
		if provider == known {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown provider '%s' (expected one of %s)", fieldName, provider, strings.Join(knownProviders, ", "))
}

func validateAdditionalHeaders(headers map[string]string, fieldName string) error {
	for name := range headers {
		if name == "" {
			return fmt.Errorf("%s: header name cannot be empty", fieldName)
		}
		if strings.ContainsAny(name, " :\t\r\n") {
			return fmt.Errorf("%s: header name '%s' contains invalid characters", fieldName, name)
		}
	}
	return nil
}

// GetLogVerbose returns whether to log per-stage decisions
func (lc LoggingConfig) GetLogVerbose() bool {
	return lc.LogVerbose
}

// GetLogModelOutput returns whether to log raw model completions
func (lc LoggingConfig) GetLogModelOutput() bool {
	return lc.LogModelOutput
}

// GetLogDescriptions returns whether to log vision descriptions
func (lc LoggingConfig) GetLogDescriptions() bool {
	return lc.LogDescriptions
}
