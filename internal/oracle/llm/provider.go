// Package llm implements the planning and synthesis oracles over an OpenAI-compatible
// chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/srinidhi621/knowledge-atlas/config"
)

var llmTracer trace.Tracer = otel.Tracer("knowledge-atlas/internal/oracle/llm")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the text and token usage of one provider call.
type Completion struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
}

// Provider generates a completion for a routed model key.
type Provider interface {
	Complete(ctx context.Context, model string, messages []Message) (Completion, error)
}

// OpenAIProvider implements Provider for OpenAI-compatible APIs
type OpenAIProvider struct {
	config config.LLMProvider
	client *http.Client
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.LLMProvider) *OpenAIProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// NewProvider returns the provider that serves model.
func NewProvider(cfg config.LLMConfig, model string) (*OpenAIProvider, error) {
	p, ok := cfg.Provider(model)
	if !ok {
		return nil, fmt.Errorf("no LLM provider declares model %q", model)
	}
	switch p.Type {
	case "", "openai":
		return NewOpenAIProvider(p), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
	}
}

// Complete calls /chat/completions and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, model string, messages []Message) (Completion, error) {
	ctx, span := llmTracer.Start(ctx, "llm.Complete", trace.WithAttributes(attribute.String("llm.model", model)))
	defer span.End()

	out, err := p.complete(ctx, model, messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Completion{}, err
	}
	span.SetAttributes(
		attribute.Int64("llm.prompt_tokens", out.PromptTokens),
		attribute.Int64("llm.completion_tokens", out.CompletionTokens),
	)
	return out, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, model string, messages []Message) (Completion, error) {
	apiKey := p.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return Completion{}, fmt.Errorf("OpenAI API key not configured")
	}

	m, ok := p.config.Models[model]
	if !ok {
		return Completion{}, fmt.Errorf("model %s not configured", model)
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}

	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}
	body, err := json.Marshal(chatReq{
		Model:       apiModel,
		Messages:    messages,
		Temperature: m.Temperature,
		MaxTokens:   m.MaxTokens,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Completion{}, fmt.Errorf("OpenAI status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return Completion{}, fmt.Errorf("no choices")
	}
	return Completion{
		Text:             out.Choices[0].Message.Content,
		PromptTokens:     int64(out.Usage.PromptTokens),
		CompletionTokens: int64(out.Usage.CompletionTokens),
	}, nil
}
