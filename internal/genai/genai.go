// Package genai provides reply generation through the OpenAI chat completions API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned is returned when the API responds without any choice.
var ErrNoChoicesReturned = errors.New("no choices returned")

// Default generation settings.
const (
	DefaultModel       = string(openai.ChatModelGPT4oMini)
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 400
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK's completion service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	DebugMode   bool
	StateDir    string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel sets the chat model name.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// WithDebugMode writes every request and response under stateDir/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

// NewClient initializes a new GenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "base_url_set", cfg.BaseURL != "", "debug", cfg.DebugMode)
	return &Client{
		chat:        completionsAdapter{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// GeneratePromptWithContext sends a system and a user prompt and returns the reply text.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	}
	return c.generate(ctx, "GeneratePromptWithContext", messages)
}

// GenerateWithMessages sends a full message list and returns the reply text.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return c.generate(ctx, "GenerateWithMessages", messages)
}

func (c *Client) generate(ctx context.Context, method string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("Client.generate: chat completion failed", "method", method, "model", c.model, "error", err)
		c.writeDebugLog(method, params, nil, err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	c.writeDebugLog(method, params, &resp, nil)

	if len(resp.Choices) == 0 {
		slog.Warn("Client.generate: no choices returned", "method", method, "model", c.model)
		return "", ErrNoChoicesReturned
	}
	slog.Debug("Client.generate: completion received", "method", method, "model", c.model, "duration", time.Since(start))
	return resp.Choices[0].Message.Content, nil
}

// writeDebugLog stores one request/response pair as JSON. Failures are
// logged and otherwise ignored.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp *openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Client.writeDebugLog: cannot create debug directory", "dir", dir, "error", err)
		return
	}

	now := time.Now()
	entry := map[string]interface{}{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("Client.writeDebugLog: write failed", "error", err)
	}
}
