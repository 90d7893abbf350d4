package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

const envTrue = "true"

// LoadFromEnv overrides cfg with values from environment variables
func LoadFromEnv(cfg *Config) {
	loadApplicationConfig(cfg)
	loadEngineConfig(cfg)
	loadDetectorConfig(cfg)
	loadSettingsConfig(cfg)
	loadScanConfig(cfg)
	loadDatabaseConfig(cfg)
	loadLoggingConfig(cfg)
}

// loadApplicationConfig loads application configuration from environment variables
func loadApplicationConfig(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.ServerPort = port
	}

	if settingsPath := os.Getenv("SETTINGS_PATH"); settingsPath != "" {
		cfg.SettingsPath = settingsPath
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		cfg.SentryDSN = dsn
	}
}

// loadEngineConfig loads on-device engine configuration from environment variables
func loadEngineConfig(cfg *Config) {
	if provider := os.Getenv("ENGINE_PROVIDER"); provider != "" {
		cfg.Engine.Provider = provider
	}

	if baseURL := os.Getenv("ENGINE_BASE_URL"); baseURL != "" {
		cfg.Engine.BaseURL = baseURL
	}

	if apiKey := os.Getenv("ENGINE_API_KEY"); apiKey != "" {
		cfg.Engine.APIKey = apiKey
		log.Printf("Loaded ENGINE_API_KEY from environment (length: %d)", len(apiKey))
	}

	if model := os.Getenv("ENGINE_TEXT_MODEL"); model != "" {
		cfg.Engine.TextModel = model
	}

	if model := os.Getenv("ENGINE_VISION_MODEL"); model != "" {
		cfg.Engine.VisionModel = model
	}

	if timeout := os.Getenv("ENGINE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Engine.Timeout = d
		}
	}

	if validate := os.Getenv("ENGINE_VALIDATE_ON_LOAD"); validate != "" {
		cfg.Engine.ValidateOnLoad = validate == envTrue
	}
}

// loadDetectorConfig loads local PII detector configuration from environment variables
func loadDetectorConfig(cfg *Config) {
	if detectorName := os.Getenv("DETECTOR_NAME"); detectorName != "" {
		cfg.Detector.Name = detectorName
	}

	if modelBaseURL := os.Getenv("MODEL_BASE_URL"); modelBaseURL != "" {
		cfg.Detector.ModelBaseURL = modelBaseURL
	}

	if modelPath := os.Getenv("ONNX_MODEL_PATH"); modelPath != "" {
		cfg.Detector.ONNXModelPath = modelPath
	}

	if tokenizerPath := os.Getenv("TOKENIZER_PATH"); tokenizerPath != "" {
		cfg.Detector.TokenizerPath = tokenizerPath
	}
}

// loadSettingsConfig loads default cloud settings from environment variables.
// A settings file written by the UI takes precedence over these.
func loadSettingsConfig(cfg *Config) {
	if provider := os.Getenv("CLOUD_PROVIDER"); provider != "" {
		cfg.Settings.CloudProvider = provider
	}

	if model := os.Getenv("CLOUD_MODEL"); model != "" {
		cfg.Settings.CloudModel = model
	}

	if apiKey := os.Getenv("CLOUD_API_KEY"); apiKey != "" {
		cfg.Settings.CloudAPIKey = apiKey
		log.Printf("Loaded CLOUD_API_KEY from environment (length: %d)", len(apiKey))
	}

	if baseURL := os.Getenv("CLOUD_BASE_URL"); baseURL != "" {
		cfg.Settings.CloudBaseURL = baseURL
	}

	if allow := os.Getenv("ALLOW_CLOUD"); allow != "" {
		cfg.Settings.AllowCloud = allow == envTrue
	}
}

// loadScanConfig loads orchestrator tuning from environment variables
func loadScanConfig(cfg *Config) {
	if retries := os.Getenv("SCAN_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			cfg.Scan.MaxRetries = n
		}
	}

	if delay := os.Getenv("SCAN_RETRY_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			cfg.Scan.RetryDelay = d
		}
	}

	if interval := os.Getenv("CLOUD_REQUEST_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scan.CloudRequestInterval = d
		}
	}
}

// loadDatabaseConfig loads database configuration from environment variables
func loadDatabaseConfig(cfg *Config) {
	if dbEnabled := os.Getenv("DB_ENABLED"); dbEnabled != "" {
		cfg.Database.Enabled = dbEnabled == envTrue
	}

	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}

	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.Username = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}

	if sslMode := os.Getenv("DB_SSL_MODE"); sslMode != "" {
		cfg.Database.SSLMode = sslMode
	}

	if boltPath := os.Getenv("DB_BOLT_PATH"); boltPath != "" {
		cfg.Database.BoltPath = boltPath
	}

	if useCache := os.Getenv("DB_USE_CACHE"); useCache != "" {
		cfg.Database.UseCache = useCache == envTrue
	}

	if cleanupHours := os.Getenv("DB_CLEANUP_HOURS"); cleanupHours != "" {
		if hours, err := strconv.Atoi(cleanupHours); err == nil {
			cfg.Database.CleanupHours = hours
		}
	}
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig(cfg *Config) {
	if logDescriptions := os.Getenv("LOG_DESCRIPTIONS"); logDescriptions != "" {
		cfg.Logging.LogDescriptions = logDescriptions == envTrue
	}

	if logModelOutput := os.Getenv("LOG_MODEL_OUTPUT"); logModelOutput != "" {
		cfg.Logging.LogModelOutput = logModelOutput == envTrue
	}

	if logVerbose := os.Getenv("LOG_VERBOSE"); logVerbose != "" {
		cfg.Logging.LogVerbose = logVerbose == envTrue
	}

	if debugMode := os.Getenv("DEBUG_MODE"); debugMode != "" {
		cfg.Logging.DebugMode = debugMode == envTrue
	}
}
