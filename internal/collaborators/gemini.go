// internal/collaborators/gemini.go
package collaborators

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
	"github.com/braydenmw/bwmetadata-sub003/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const geminiSystemPrompt = `You assess strategic analysis requests. Reply with a single JSON object:
{"confidence": <number 0-100>, "hypotheses": [<short strings>]}.
Confidence reflects how well the inputs support a grounded analysis.`

// ContentGenerator is the part of the genai client used by the reasoner.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiReasoner asks a Gemini model for the deep-thinking result.
type GeminiReasoner struct {
	generator ContentGenerator
	model     string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewGeminiReasoner builds a genai client from the reasoning configuration.
func NewGeminiReasoner(ctx context.Context, cfg config.ReasoningConfig, logger *zap.Logger) (*GeminiReasoner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required for the gemini reasoning provider")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return NewGeminiReasonerWithGenerator(client.Models, cfg.Model, cfg.Timeout, logger), nil
}

// NewGeminiReasonerWithGenerator wires an explicit generator.
func NewGeminiReasonerWithGenerator(gen ContentGenerator, model string, timeout time.Duration, logger *zap.Logger) *GeminiReasoner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiReasoner{
		generator: gen,
		model:     model,
		timeout:   timeout,
		logger:    logger.Named("reasoner.gemini"),
	}
}

type geminiVerdict struct {
	Confidence float64  `json:"confidence"`
	Hypotheses []string `json:"hypotheses"`
}

// DeepThink implements schemas.Reasoner. Transport failures are retried with
// exponential backoff within the configured timeout; malformed replies are not.
func (g *GeminiReasoner) DeepThink(ctx context.Context, params schemas.AnalysisParameters, prior map[string]any) (schemas.ReasoningResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt, err := buildPrompt(params, prior)
	if err != nil {
		return schemas.ReasoningResult{}, err
	}
	temperature := float32(0.2)
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(geminiSystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = g.timeout
	b.MaxInterval = 10 * time.Second

	var verdict geminiVerdict
	operation := func() error {
		start := time.Now()
		resp, err := g.generator.GenerateContent(ctx, g.model, contents, genCfg)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			g.logger.Warn("Gemini request failed, retrying...", zap.Error(err))
			return err
		}
		text := ""
		if resp != nil {
			text = strings.TrimSpace(resp.Text())
		}
		if text == "" {
			return backoff.Permanent(fmt.Errorf("gemini returned no content"))
		}
		parsed, err := llmutil.ParseJSONResponse[geminiVerdict](text)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode gemini reply: %w", err))
		}
		verdict = *parsed
		g.logger.Info("Gemini deep thinking complete", zap.Duration("duration", time.Since(start)), zap.String("model", g.model))
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return schemas.ReasoningResult{}, fmt.Errorf("gemini reasoning failed: %w", err)
	}

	return schemas.ReasoningResult{
		Confidence: math.Max(0, math.Min(100, verdict.Confidence)),
		Hypotheses: verdict.Hypotheses,
		Context:    map[string]any{"model": g.model, "parameters": params.AsMap()},
	}, nil
}

func buildPrompt(params schemas.AnalysisParameters, prior map[string]any) (string, error) {
	body, err := json.MarshalToString(map[string]any{"parameters": params.AsMap(), "prior_context": prior})
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt: %w", err)
	}
	return "Assess this analysis request:\n" + body, nil
}

var _ schemas.Reasoner = (*GeminiReasoner)(nil)
