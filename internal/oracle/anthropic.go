package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sethvargo/go-retry"
)

// Client is the Anthropic-backed Oracle. Each call forces the named tool and
// returns its arguments; transient failures retry with exponential backoff
// within the per-call budget.
type Client struct {
	client    anthropic.Client
	model     string
	timeout   time.Duration
	retries   int
	maxTokens int64
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call budget. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries sets the retry budget for transient failures and schema
// violations. Default 3.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// NewClient creates an Anthropic oracle. Credentials come from the
// environment (ANTHROPIC_API_KEY), as the SDK does by default.
func NewClient(model string, opts ...Option) *Client {
	c := &Client{
		client:    anthropic.NewClient(),
		model:     model,
		timeout:   30 * time.Second,
		retries:   3,
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallFunction implements Oracle. The returned payload has passed the
// function's structural validator.
func (c *Client) CallFunction(ctx context.Context, req Request) (json.RawMessage, error) {
	var result json.RawMessage

	backoff := retry.WithMaxRetries(uint64(c.retries), retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		raw, err := c.callOnce(ctx, req)
		if err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		if req.Function.Validate != nil {
			if verr := req.Function.Validate(raw); verr != nil {
				// Malformed payloads are retried — the model usually
				// self-corrects on a second attempt.
				return retry.RetryableError(&Error{
					Kind: KindSchemaViolation,
					Msg:  fmt.Sprintf("%s response rejected", req.Function.Name),
					Err:  verr,
				})
			}
		}
		result = raw
		return nil
	})
	if err != nil {
		return nil, categorize(err, req.Function.Name)
	}
	return result, nil
}

func (c *Client) callOnce(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(req.Function.Schema, &schema); err != nil {
		return nil, fmt.Errorf("parse schema for %s: %w", req.Function.Name, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        req.Function.Name,
				Description: anthropic.String(req.Function.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Function.Name},
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == req.Function.Name {
			return json.RawMessage(block.Input), nil
		}
	}
	return nil, &Error{
		Kind: KindSchemaViolation,
		Msg:  fmt.Sprintf("no %s tool_use block in response", req.Function.Name),
	}
}

// retryable reports whether a single-attempt failure is worth another try.
func retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTimeout, KindUnavailable:
		return true
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == 429 || apierr.StatusCode >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// categorize maps any terminal failure onto the oracle error taxonomy.
func categorize(err error, fn string) error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}

	kind := KindUnavailable
	var apierr *anthropic.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &apierr):
		switch {
		case apierr.StatusCode == 401 || apierr.StatusCode == 403:
			kind = KindAuth
		case apierr.StatusCode == 429:
			kind = KindRateLimited
		}
	}
	return &Error{Kind: kind, Msg: fn + " call failed", Err: err}
}
