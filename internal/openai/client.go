// Package openai is an analysis and conversation adapter for OpenAI-compatible
// chat completion APIs, such as Upstage Solar.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/prompts"
)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.upstage.ai/v1/solar"
	DefaultModel   = "solar-pro"
	DefaultTimeout = 180 * time.Second
)

// Sampling parameters per request kind.
const (
	analysisTemperature = 0.3
	analysisMaxTokens   = 4096
	chatTemperature     = 0.7
	chatMaxTokens       = 2048
	draftTemperature    = 0.3
	draftMaxTokens      = 4096
)

// Config holds configuration for the client.
type Config struct {
	// APIKey is sent as a bearer token (required).
	APIKey string
	// BaseURL is the API root; /chat/completions is appended.
	BaseURL string
	Model   string
	// Timeout bounds each HTTP request; callers usually set a shorter context deadline.
	Timeout time.Duration
}

// Client calls the /chat/completions endpoint.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// New creates a client, applying defaults to unset fields.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}, nil
}

// Analyze requests a JSON risk assessment of the contract text. The reply is
// returned untouched for schema repair.
func (c *Client) Analyze(ctx context.Context, text string) (models.RawAnalysis, error) {
	content, err := c.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: prompts.AnalysisSystem},
			{Role: "user", Content: prompts.AnalysisUser + text},
		},
		MaxTokens:   analysisMaxTokens,
		Temperature: analysisTemperature,
	})
	if err != nil {
		return models.RawAnalysis{}, err
	}
	if strings.TrimSpace(content) == "" {
		return models.RawAnalysis{}, fmt.Errorf("openai: empty analysis response")
	}
	return models.RawAnalysis{Source: "openai:" + c.model, Body: content}, nil
}

// Complete answers userMessage with the grounding block as system prompt and
// the prior turns in order.
func (c *Client) Complete(ctx context.Context, grounding string, history []models.ChatTurn, userMessage string) (string, error) {
	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: grounding})
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userMessage})

	return c.complete(ctx, chatRequest{
		Messages:    messages,
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
	})
}

// Draft writes a document from a system and a user prompt.
func (c *Client) Draft(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   draftMaxTokens,
		Temperature: draftTemperature,
	})
}

func (c *Client) complete(ctx context.Context, reqBody chatRequest) (string, error) {
	reqBody.Model = c.model
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai: API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("openai: %s", chatResp.Error.Message)
	}
	// No choices is an empty reply; callers decide whether that is an error.
	if len(chatResp.Choices) == 0 {
		return "", nil
	}
	return chatResp.Choices[0].Message.Content, nil
}

// ModelName returns the configured model.
func (c *Client) ModelName() string { return c.model }
