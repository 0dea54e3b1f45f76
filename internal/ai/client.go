package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/metrics"
	"github.com/shorts-relay/pkg/logger"
	"github.com/shorts-relay/pkg/ratelimit"
)

const jsonOnlyInstruction = "\n\nIMPORTANT: Respond ONLY with valid JSON. No markdown, no explanation, just the JSON object."

// ErrEmptyResponse is returned when Claude answers without any text
var ErrEmptyResponse = errors.New("empty response from claude")

// Client wraps the Anthropic SDK client
type Client struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// NewClient creates a new Anthropic client. A nil limiter disables rate limiting.
func NewClient(cfg config.AnthropicConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)

	return &Client{
		client:      anthropic.NewClient(opts...),
		model:       anthropic.Model(cfg.Model),
		maxTokens:   int64(cfg.MaxTokens),
		rateLimiter: limiter,
		log:         log.WithComponent("ai"),
	}
}

// Complete sends one user message with a system prompt and returns the concatenated text blocks
func (c *Client) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, ratelimit.LimiterAnthropic); err != nil {
			return "", fmt.Errorf("rate limit error: %w", err)
		}
	}

	c.log.Debug().Str("model", string(c.model)).Msg("Sending request to Claude")

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Type: "text", Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	})
	if err != nil {
		metrics.RecordError("claude_api")
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var b strings.Builder
	for _, block := range message.Content {
		b.WriteString(block.AsText().Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyResponse
	}

	c.log.Debug().
		Int64("input_tokens", message.Usage.InputTokens).
		Int64("output_tokens", message.Usage.OutputTokens).
		Msg("Received Claude response")

	return b.String(), nil
}

// completeJSON asks for a bare JSON object
func (c *Client) completeJSON(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.Complete(ctx, systemPrompt+jsonOnlyInstruction, userMessage)
}
