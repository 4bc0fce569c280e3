// Package llm implements the LLM gateway on top of the OpenAI API.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"secretary_server/pkg/logger"
)

const DefaultModel = "gpt-4o-mini"

// defaultTimeout bounds every completion call so one slow request
// cannot stall an aggregate indefinitely.
const defaultTimeout = 60 * time.Second

// placeholderKeys are config values that mean "no real credentials".
// The gateway reports itself unconfigured for these instead of failing
// on the first call.
var placeholderKeys = map[string]bool{
	"":                 true,
	"your-api-key":     true,
	"your_api_key":     true,
	"sk-your-api-key":  true,
	"changeme":         true,
	"test-key-not-set": true,
}

// ErrNotConfigured is returned when a completion is requested from an
// unconfigured gateway.
var ErrNotConfigured = errors.New("llm gateway is not configured")

// Client wraps the OpenAI chat completion API behind a circuit breaker.
type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	configured  bool
	cb          *gobreaker.CircuitBreaker
}

// ClientConfig holds Client construction options.
type ClientConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// NewClient creates a gateway client with default options.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(ClientConfig{APIKey: apiKey})
}

// NewClientWithConfig creates a gateway client.
func NewClientWithConfig(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.3
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	cbSettings := gobreaker.Settings{
		Name:     "openai",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Client{
		client:      openai.NewClient(cfg.APIKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
		timeout:     timeout,
		configured:  !placeholderKeys[strings.TrimSpace(cfg.APIKey)],
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// IsConfigured reports whether the client has usable credentials.
func (c *Client) IsConfigured() bool {
	return c != nil && c.configured
}

// Complete returns free-form text for the prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt, nil)
}

// CompleteJSON returns a response constrained to a JSON object.
func (c *Client) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
}

func (c *Client) complete(ctx context.Context, prompt string, format *openai.ChatCompletionResponseFormat) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.cb.Execute(func() (any, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			ResponseFormat: format,
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}

// Embed returns an embedding vector for the text, for similarity
// indexing in the vector store.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.cb.Execute(func() (any, error) {
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.SmallEmbedding3,
			Input: []string{text},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, errors.New("empty embedding response")
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]float32), nil
}
