// File: internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/config"
	"github.com/xkilldash9x/rover/internal/llmutil"
	"github.com/xkilldash9x/rover/internal/observability"
)

const jpegMIME = "image/jpeg"

// generator is the subset of the genai models service the client uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements agent.Reasoner on the Gemini API.
type GeminiClient struct {
	models  generator
	cfg     config.LLMConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	// newBackOff builds the retry policy for one request.
	newBackOff func() backoff.BackOff
}

var _ agent.Reasoner = (*GeminiClient)(nil)

// request is one generation call.
type request struct {
	operation string
	system    string
	parts     []*genai.Part
	schema    *genai.Schema
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newGeminiClient(client.Models, cfg, logger), nil
}

func newGeminiClient(models generator, cfg config.LLMConfig, logger *zap.Logger) *GeminiClient {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	c := &GeminiClient{
		models:  models,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("llm_client.gemini"),
	}
	c.newBackOff = c.defaultBackOff
	return c
}

func (c *GeminiClient) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxElapsed
	b.MaxInterval = 30 * time.Second
	return b
}

// Plan asks for an ordered plan as structured JSON.
func (c *GeminiClient) Plan(ctx context.Context, task string, screenshot []byte) ([]string, error) {
	parts := []*genai.Part{genai.NewPartFromText(planUserPrompt(task))}
	if len(screenshot) > 0 {
		parts = append(parts, genai.NewPartFromText("This is the screenshot of the current web page:"), genai.NewPartFromBytes(screenshot, jpegMIME))
	}

	text, err := c.generate(ctx, request{
		operation: "plan",
		system:    planSystemPrompt,
		parts:     parts,
		schema:    planSchema,
	})
	if err != nil {
		return nil, err
	}

	parsed, err := llmutil.ParseJSONResponse[planResponse](text)
	if err != nil {
		return nil, fmt.Errorf("gemini plan: %w", err)
	}
	return parsed.Plan, nil
}

// Decide returns the raw "Thought: ... Action: ..." text for one iteration.
func (c *GeminiClient) Decide(ctx context.Context, in agent.DecideInput) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(decideUserPrompt(in))}
	if len(in.Observation.Image) > 0 {
		parts = append(parts, genai.NewPartFromText("Observation: Screenshot:"), genai.NewPartFromBytes(in.Observation.Image, jpegMIME))
	}
	return c.generate(ctx, request{
		operation: "decide",
		system:    decideSystemPrompt,
		parts:     parts,
	})
}

// Answer summarizes the collected notes as markdown.
func (c *GeminiClient) Answer(ctx context.Context, task string, notes []string) (string, error) {
	return c.generate(ctx, request{
		operation: "answer",
		system:    answerSystem(notes),
		parts:     []*genai.Part{genai.NewPartFromText(answerUserPrompt(task))},
	})
}

type planResponse struct {
	Plan []string `json:"plan"`
}

var planSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"plan": {
			Type:        genai.TypeArray,
			Description: "Ordered steps to accomplish the task.",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"plan"},
}

// generate sends one request with rate limiting and retries on transient
// failures.
func (c *GeminiClient) generate(ctx context.Context, req request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("gemini %s: rate limiter: %w", req.operation, err)
	}

	gc := c.generationConfig(req)
	contents := []*genai.Content{genai.NewContentFromParts(req.parts, genai.RoleUser)}

	var policy backoff.BackOff = c.newBackOff()
	if c.cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries))
	}

	var text string
	operation := func() error {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.cfg.APITimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.APITimeout)
		}
		defer cancel()

		start := time.Now()
		resp, err := c.models.GenerateContent(callCtx, c.cfg.Model, contents, gc)
		duration := time.Since(start)
		if err != nil {
			return c.classify(ctx, err)
		}

		out, err := extractText(resp)
		if err != nil {
			return err
		}

		fields := []zap.Field{zap.String("operation", req.operation), zap.Duration("duration", duration)}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)
		text = out
		return nil
	}
	notify := func(err error, next time.Duration) {
		observability.RecordRetry("llm")
		c.logger.Warn("LLM request failed, retrying...", zap.String("operation", req.operation), zap.Error(err), zap.Duration("retry_in", next))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return "", fmt.Errorf("gemini %s: %w", req.operation, err)
	}
	return text, nil
}

func (c *GeminiClient) generationConfig(req request) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.system, genai.RoleUser),
		Temperature:       genai.Ptr(c.cfg.Temperature),
	}
	if c.cfg.TopP > 0 {
		gc.TopP = genai.Ptr(c.cfg.TopP)
	}
	if c.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	if req.schema != nil {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseSchema = req.schema
	}
	return gc
}

// classify decides whether a failed call is worth retrying. Throttling,
// server errors, per-call timeouts and transport errors are transient.
func (c *GeminiClient) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	if code, ok := apiErrorCode(err); ok {
		c.logger.Error("Gemini API returned error status", zap.Int("status", code), zap.Error(err))
		switch code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	return err
}

func apiErrorCode(err error) (int, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, true
	}
	return 0, false
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", backoff.Permanent(errors.New("gemini API returned no candidates"))
	}
	if text := resp.Text(); text != "" {
		return text, nil
	}
	switch reason := resp.Candidates[0].FinishReason; reason {
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
		return "", backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", reason))
	default:
		return "", fmt.Errorf("gemini API returned empty content (Reason: %s)", reason)
	}
}
