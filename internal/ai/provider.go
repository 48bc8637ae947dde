package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/leadflow/leadflow/internal/config"
)

// Request is a single-turn chat completion.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	JSON        bool
}

// Provider is a text-in, text-out language model.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// OpenAIProvider talks to any OpenAI-compatible chat endpoint: OpenRouter
// and Gemini's compatibility layer both qualify.
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
	log    *slog.Logger
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func NewOpenAIProvider(name string, cfg config.ProviderConfig, headers map[string]string, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if len(headers) > 0 {
		c.HTTPClient = &http.Client{Transport: &headerTransport{base: http.DefaultTransport, headers: headers}}
	}

	return &OpenAIProvider{
		name:   name,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(c),
		log:    logger.With("component", "ai", "provider", name),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		p.log.Warn("chat completion failed", "model", p.model, "error", err, "duration", time.Since(start))
		return "", fmt.Errorf("%s chat failed: %w", p.name, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s returned an empty response", p.name)
	}

	p.log.Debug("chat completion", "model", p.model, "tokens", resp.Usage.TotalTokens, "duration", time.Since(start))
	return resp.Choices[0].Message.Content, nil
}

// Chain tries providers in order and returns the first success.
type Chain []Provider

func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, p := range c {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}

func (c Chain) Complete(ctx context.Context, req Request) (string, error) {
	if len(c) == 0 {
		return "", errors.New("no AI provider configured")
	}
	var errs []error
	for _, p := range c {
		out, err := p.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		errs = append(errs, err)
		// no time left for a fallback
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}

// NewProvider builds the configured provider chain. It returns nil for the
// rules mode, which needs no model.
func NewProvider(cfg config.AIConfig, logger *slog.Logger) (Provider, error) {
	build := func(name string) (Provider, error) {
		switch name {
		case "openrouter":
			return NewOpenAIProvider("openrouter", cfg.OpenRouter, map[string]string{
				"HTTP-Referer": "https://github.com/leadflow/leadflow",
				"X-Title":      "leadflow",
			}, logger), nil
		case "gemini":
			return NewOpenAIProvider("gemini", cfg.Gemini, nil, logger), nil
		}
		return nil, fmt.Errorf("unknown AI provider: %s", name)
	}

	if cfg.Provider == "rules" {
		return nil, nil
	}
	primary, err := build(cfg.Provider)
	if err != nil {
		return nil, err
	}
	chain := Chain{primary}
	if cfg.Fallback != "" && cfg.Fallback != cfg.Provider {
		fb, err := build(cfg.Fallback)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fb)
	}
	return chain, nil
}
