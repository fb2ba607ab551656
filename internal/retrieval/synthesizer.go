package retrieval

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/aurelia-health/emrgraph/internal/types"
)

// Synthesizer produces text from a language model given a system and user
// prompt. Used for answer synthesis and for graph-query generation.
type Synthesizer interface {
	Synthesize(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAISynthesizer calls the OpenAI chat API through langchaingo.
//
// Some models reject sampling parameters they do not support. Rather than
// failing the whole query, the call is retried exactly once with the
// temperature omitted; any other failure surfaces as SYNTHESIS_FAILED.
type OpenAISynthesizer struct {
	client      contentGenerator
	model       string
	temperature float64
	timeout     time.Duration
}

// contentGenerator is the slice of the langchaingo model API the synthesizer
// needs. Satisfied by *openai.LLM.
type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// OpenAISynthesizerConfig configures the chat model.
type OpenAISynthesizerConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	BaseURL     string

	// Timeout bounds each completion call. Zero means no bound.
	Timeout time.Duration
}

// NewOpenAISynthesizer creates a synthesizer for the configured chat model.
func NewOpenAISynthesizer(cfg OpenAISynthesizerConfig) (*OpenAISynthesizer, error) {
	if cfg.Model == "" {
		return nil, types.NewError(types.CONFIG_VALIDATION_FAILED, "chat model cannot be empty")
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, types.WrapError(types.SYNTHESIS_FAILED, "failed to create chat client", err)
	}

	return &OpenAISynthesizer{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

// Synthesize generates a completion, retrying once without the temperature
// parameter when the service rejects it. Each call is bounded by the
// configured timeout.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	resp, err := s.client.GenerateContent(ctx, messages, llms.WithTemperature(s.temperature))
	if err != nil && isParameterError(err) {
		resp, err = s.client.GenerateContent(ctx, messages)
	}
	if err != nil {
		return "", types.WrapError(types.SYNTHESIS_FAILED, "answer generation failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", types.NewError(types.SYNTHESIS_FAILED, "answer generation returned no choices")
	}

	return resp.Choices[0].Content, nil
}

// isParameterError reports whether the service rejected a sampling parameter
// rather than the request itself.
func isParameterError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "temperature") || strings.Contains(msg, "unsupported")
}

// MockSynthesizer is a scripted Synthesizer for tests. Responses are
// returned in order, the last one repeating; prompts are recorded.
type MockSynthesizer struct {
	mu        sync.Mutex
	Responses []string
	Err       error

	SystemPrompts []string
	UserPrompts   []string

	idx int
}

// NewMockSynthesizer creates a mock returning the given responses in order.
func NewMockSynthesizer(responses ...string) *MockSynthesizer {
	return &MockSynthesizer{Responses: responses}
}

// Synthesize records the prompts and returns the next scripted response.
func (m *MockSynthesizer) Synthesize(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SystemPrompts = append(m.SystemPrompts, systemPrompt)
	m.UserPrompts = append(m.UserPrompts, userPrompt)

	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", nil
	}
	i := m.idx
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	m.idx++
	return m.Responses[i], nil
}
