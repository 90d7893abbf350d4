package pii

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/hannes/safeshare/providers"
)

// ErrEngineNotReady is returned when analysis is requested before the
// on-device engine has been initialized. It is a contract error and is
// never retried.
var ErrEngineNotReady = errors.New("on-device engine is not initialized")

// EngineSource hands out the on-device text model.
type EngineSource interface {
	TextCompleter() (providers.Completer, error)
}

const localMaxTokens = 512

// LocalDetector classifies a description with the on-device text model.
type LocalDetector struct {
	engine         EngineSource
	logModelOutput bool
}

func NewLocalDetector(engine EngineSource, logModelOutput bool) *LocalDetector {
	return &LocalDetector{engine: engine, logModelOutput: logModelOutput}
}

func (d *LocalDetector) GetName() string {
	return DetectorNameLLM
}

func (d *LocalDetector) Detect(ctx context.Context, input DetectorInput) (PIIResult, error) {
	return d.AnalyzeDescription(ctx, input.Description)
}

// AnalyzeDescription prompts the text model and extracts a result from
// its completion. Provider failures are absorbed into ErrorResult; only
// ErrEngineNotReady is returned.
func (d *LocalDetector) AnalyzeDescription(ctx context.Context, description string) (PIIResult, error) {
	completer, err := d.engine.TextCompleter()
	if err != nil {
		if errors.Is(err, ErrEngineNotReady) {
			return PIIResult{}, err
		}
		log.Printf("[LocalDetector] ❌ Failed to get text model: %v", err)
		return ErrorResult(), nil
	}

	resp, err := completer.Complete(ctx, providers.CompletionRequest{
		Messages:    analysisPrompt(description),
		MaxTokens:   localMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		log.Printf("[LocalDetector] ❌ Completion failed: %v", err)
		return ErrorResult(), nil
	}

	if d.logModelOutput {
		log.Printf("[LocalDetector] Model output: %q", resp.Response)
	}

	if result, err := ExtractJSON(resp.Response); err == nil {
		return result, nil
	}

	log.Printf("[LocalDetector] ⚠️  No JSON in model output, using heuristics")
	return HeuristicResult(cleanModelOutput(resp.Response), description), nil
}

func (d *LocalDetector) Close() error {
	return nil
}

const analysisSystemPrompt = `You are a privacy auditor. You decide whether a photo contains personally identifiable information (PII) based only on a written description of the photo.`

func analysisPrompt(description string) []providers.Message {
	var user strings.Builder
	user.WriteString("Image description:\n")
	user.WriteString(description)
	user.WriteString("\n\nThink step by step about what in the description could identify a person. ")
	user.WriteString("Then answer with exactly one JSON object and nothing after it:\n")
	user.WriteString(`{"hasPII": true|false, "types": [...], "count": n, "confidence": "high|medium|low"}`)
	user.WriteString("\n\nAllowed types: ")
	user.WriteString(strings.Join(KnownCategories, ", "))
	user.WriteString(".\nUse \"high\" only when the description names the PII explicitly. ")
	user.WriteString("If there is no PII, answer {\"hasPII\": false, \"types\": [], \"count\": 0, \"confidence\": \"high\"} only when the description clearly shows nothing identifying.")

	return []providers.Message{
		{Role: "system", Content: analysisSystemPrompt},
		{Role: "user", Content: user.String()},
	}
}
