// Package llm generates short pieces of text for autonomous agent actions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Prompt is one generation request. An empty Model uses the client default.
type Prompt struct {
	System string
	User   string
	Model  string
}

// Client generates text from a prompt.
type Client interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Config configures the OpenAI-compatible client.
type Config struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	ProModel    string        `yaml:"pro_model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
}

const (
	defaultModel     = openai.GPT4oMini
	defaultTimeout   = 20 * time.Second
	defaultMaxTokens = 280
)

// ErrEmptyCompletion is returned when the API answers without any text.
var ErrEmptyCompletion = errors.New("llm: completion had no content")

// OpenAIClient talks to the OpenAI chat completions API or any server that
// implements it.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// New returns a client for cfg, or nil when no API key is configured.
func New(cfg Config) Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	return NewOpenAIClient(cfg)
}

// NewOpenAIClient builds a client, filling in defaults for unset fields.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	oc := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		oc.BaseURL = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// Generate runs one chat completion and returns the trimmed reply.
func (c *OpenAIClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if s := strings.TrimSpace(prompt.System); s != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s})
	}
	if u := strings.TrimSpace(prompt.User); u != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: u})
	}
	if len(msgs) == 0 {
		return "", errors.New("llm: empty prompt")
	}

	model := prompt.Model
	if model == "" {
		model = c.model
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
