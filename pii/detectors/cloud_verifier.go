package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SignatureName is the prompt template registered with the cloud proxy.
const SignatureName = "pii_detection"

const (
	defaultConfigureTimeout = 30 * time.Second
	defaultPredictTimeout   = 45 * time.Second
	defaultRequestInterval  = 2 * time.Second
)

var (
	// ErrServiceSleeping marks a cloud call that hit its deadline. The
	// proxy runs on a host that sleeps when idle.
	ErrServiceSleeping = errors.New("cloud PII service is sleeping or timed out")
	// ErrCloudNotConfigured is returned when no base URL is set.
	ErrCloudNotConfigured = errors.New("cloud PII service is not configured")
)

// CloudAPIError carries a non-2xx status from the cloud proxy.
type CloudAPIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *CloudAPIError) Error() string {
	return fmt.Sprintf("cloud %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsCloudUnavailable reports whether err means the proxy is asleep,
// missing or overloaded rather than misconfigured.
func IsCloudUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServiceSleeping) {
		return true
	}
	var apiErr *CloudAPIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		body := strings.ToLower(apiErr.Body)
		return strings.Contains(body, "sleeping") || strings.Contains(body, "not found")
	}
	return false
}

// CloudConfig addresses the cloud PII proxy.
type CloudConfig struct {
	BaseURL  string `json:"baseUrl" mapstructure:"base_url"`
	APIKey   string `json:"apiKey,omitempty" mapstructure:"api_key"`
	Model    string `json:"model,omitempty" mapstructure:"model"`
	Provider string `json:"provider,omitempty" mapstructure:"provider"`
}

// CloudVerifier asks the cloud proxy for a second opinion on a
// description. It configures the proxy and registers the signature
// lazily on first use.
type CloudVerifier struct {
	// gate is held for reading by requests and for writing by
	// reconfiguration, so a new config never lands mid-request.
	gate sync.RWMutex
	cfg  CloudConfig

	// handshake serializes /configure and /register; mu only guards
	// the flags and is never held across a request
	handshake  sync.Mutex
	mu         sync.Mutex
	configured bool
	registered bool

	client           *http.Client
	limiter          *rate.Limiter
	configureTimeout time.Duration
	predictTimeout   time.Duration
}

func NewCloudVerifier(cfg CloudConfig, client *http.Client) *CloudVerifier {
	if client == nil {
		client = &http.Client{}
	}
	return &CloudVerifier{
		cfg:              cfg,
		client:           client,
		limiter:          rate.NewLimiter(rate.Every(defaultRequestInterval), 1),
		configureTimeout: defaultConfigureTimeout,
		predictTimeout:   defaultPredictTimeout,
	}
}

// SetTimeouts overrides the configure/register and predict deadlines.
func (v *CloudVerifier) SetTimeouts(configure, predict time.Duration) {
	v.gate.Lock()
	defer v.gate.Unlock()
	v.configureTimeout = configure
	v.predictTimeout = predict
}

// SetRateLimit replaces the request pacing.
func (v *CloudVerifier) SetRateLimit(limit rate.Limit, burst int) {
	v.gate.Lock()
	defer v.gate.Unlock()
	v.limiter = rate.NewLimiter(limit, burst)
}

// Configure sets provider credentials and pushes them to the proxy.
// Only unavailability is reported; other configure failures are
// treated as already configured.
func (v *CloudVerifier) Configure(ctx context.Context, provider, model, apiKey string) error {
	v.gate.Lock()
	v.cfg.Provider = provider
	v.cfg.Model = model
	v.cfg.APIKey = apiKey
	v.resetLocked()
	v.gate.Unlock()

	v.gate.RLock()
	defer v.gate.RUnlock()
	if v.cfg.BaseURL == "" {
		return ErrCloudNotConfigured
	}
	return v.ensureConfigured(ctx)
}

// Reconfigure swaps the whole config. It waits for in-flight requests
// and forces the next request to configure again.
func (v *CloudVerifier) Reconfigure(cfg CloudConfig) {
	v.gate.Lock()
	defer v.gate.Unlock()
	if cfg == v.cfg {
		return
	}
	v.cfg = cfg
	v.resetLocked()
	log.Printf("[Cloud] Reconfigured for %s", cfg.BaseURL)
}

func (v *CloudVerifier) resetLocked() {
	v.mu.Lock()
	v.configured = false
	v.registered = false
	v.mu.Unlock()
}

func (v *CloudVerifier) IsConfigured() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.configured
}

// Config returns the current config.
func (v *CloudVerifier) Config() CloudConfig {
	v.gate.RLock()
	defer v.gate.RUnlock()
	return v.cfg
}

// AnalyzeDescription returns the cloud result for description. The
// result is normalized but keeps the confidence the proxy reported.
func (v *CloudVerifier) AnalyzeDescription(ctx context.Context, description string) (PIIResult, error) {
	v.gate.RLock()
	defer v.gate.RUnlock()

	if v.cfg.BaseURL == "" {
		return PIIResult{}, ErrCloudNotConfigured
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return PIIResult{}, fmt.Errorf("cloud rate limiter: %w", err)
	}
	if err := v.ensureConfigured(ctx); err != nil {
		return PIIResult{}, err
	}

	body := map[string]interface{}{
		"signature_name": SignatureName,
		"inputs":         map[string]interface{}{"description": description},
	}
	data, err := v.post(ctx, "/predict", body, v.predictTimeout)
	if err != nil {
		return PIIResult{}, err
	}
	return negotiateCloudResponse(data, description)
}

// ensureConfigured must be called with the gate held for reading.
func (v *CloudVerifier) ensureConfigured(ctx context.Context) error {
	if v.IsConfigured() {
		return nil
	}

	v.handshake.Lock()
	defer v.handshake.Unlock()
	if v.IsConfigured() {
		return nil
	}

	body := map[string]interface{}{
		"provider": v.cfg.Provider,
		"model":    v.cfg.Model,
		"api_key":  v.cfg.APIKey,
	}
	if _, err := v.post(ctx, "/configure", body, v.configureTimeout); err != nil {
		if IsCloudUnavailable(err) {
			log.Printf("[Cloud] ⚠️  Configure failed, service unavailable: %v", err)
			return err
		}
		log.Printf("[Cloud] ⚠️  Configure failed, assuming already configured: %v", err)
	}

	v.mu.Lock()
	v.configured = true
	register := !v.registered
	v.registered = true
	v.mu.Unlock()

	if register {
		signature := map[string]interface{}{
			"name":         SignatureName,
			"signature":    "description -> pii_json",
			"instructions": cloudInstructions,
		}
		if _, err := v.post(ctx, "/register", signature, v.configureTimeout); err != nil {
			log.Printf("[Cloud] ⚠️  Signature registration failed: %v", err)
		}
	}
	return nil
}

func (v *CloudVerifier) post(ctx context.Context, endpoint string, body interface{}, timeout time.Duration) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(v.cfg.BaseURL, "/")+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", endpoint, ErrServiceSleeping)
		}
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", endpoint, ErrServiceSleeping)
		}
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CloudAPIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}

	var data interface{}
	if err := json.Unmarshal(respBody, &data); err != nil {
		// some deployments answer with bare text
		return string(respBody), nil
	}
	return data, nil
}

// negotiateCloudResponse accepts, in priority order, {pii_json},
// {answer}, {prediction} or a direct result object. String payloads go
// through the extractor and then the heuristics.
func negotiateCloudResponse(data interface{}, description string) (PIIResult, error) {
	obj, ok := data.(map[string]interface{})
	if !ok {
		return cloudPayloadResult(data, description)
	}

	for _, key := range []string{"pii_json", "answer", "prediction"} {
		if payload, ok := obj[key]; ok && payload != nil {
			return cloudPayloadResult(payload, description)
		}
	}
	if result, ok := resultFromFields(obj); ok {
		return result, nil
	}
	return PIIResult{}, fmt.Errorf("unrecognized cloud response shape")
}

func cloudPayloadResult(payload interface{}, description string) (PIIResult, error) {
	switch p := payload.(type) {
	case string:
		if result, err := ExtractJSON(p); err == nil {
			return result, nil
		}
		return HeuristicResult(cleanModelOutput(p), description), nil
	case map[string]interface{}:
		if result, ok := resultFromFields(p); ok {
			return result, nil
		}
		// nested envelope, e.g. {"prediction": {"pii_json": "..."}}
		for _, key := range []string{"pii_json", "answer"} {
			if s, ok := p[key].(string); ok {
				return cloudPayloadResult(s, description)
			}
		}
	}
	return PIIResult{}, fmt.Errorf("unrecognized cloud payload of type %T", payload)
}

const cloudInstructions = `Given a description of a photo, decide whether the photo contains personally identifiable information. ` +
	`Respond with one JSON object {"hasPII": bool, "types": [...], "count": n}. ` +
	`Allowed types: credit_card, ssn, face, address, email, phone, id_card.`
