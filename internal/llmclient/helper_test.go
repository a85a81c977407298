package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/genai"

	"github.com/xkilldash9x/rover/internal/config"
)

// MockGenerator is a mock implementation of the generator interface.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	args := m.Called(ctx, model, contents, cfg)
	resp, _ := args.Get(0).(*genai.GenerateContentResponse)
	return resp, args.Error(1)
}

// getValidLLMConfig returns a valid LLMConfig for testing purposes.
func getValidLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:    config.ProviderGemini,
		APIKey:      "test-api-key",
		Model:       "test-model",
		APITimeout:  5 * time.Second,
		Temperature: 0.7,
		MaxRetries:  3,
		MaxElapsed:  time.Minute,
	}
}

// setupClient returns a client backed by a mock generator with near-instant
// retries and a log observer.
func setupClient(t *testing.T) (*GeminiClient, *MockGenerator, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	gen := new(MockGenerator)
	c := newGeminiClient(gen, getValidLLMConfig(), zap.New(core))
	c.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	t.Cleanup(func() { gen.AssertExpectations(t) })
	return c, gen, logs
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
			TotalTokenCount:      15,
		},
	}
}

// partTexts flattens the text parts of the first content.
func partTexts(contents []*genai.Content) []string {
	var out []string
	for _, p := range contents[0].Parts {
		if p.Text != "" {
			out = append(out, p.Text)
		}
	}
	return out
}

func hasImage(contents []*genai.Content) bool {
	for _, p := range contents[0].Parts {
		if p.InlineData != nil && p.InlineData.MIMEType == jpegMIME {
			return true
		}
	}
	return false
}
