// Package ai provides a minimal client for OpenAI-compatible
// chat-completion endpoints.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config configures the chat client.
type Config struct {
	Endpoint    string // base URL, e.g. "https://api.openai.com/v1"
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // hard cap on one completion call
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System and user role labels.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a chat client. The config timeout bounds every call;
// zero means 20 seconds.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("component", "ai_client"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the messages and returns the assistant reply content.
// jsonMode requests a JSON object response on endpoints that support it.
func (c *Client) Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	payload := completionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if jsonMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	var result completionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("completion failed (%s): %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion failed: status %d", resp.StatusCode)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}

	c.logger.Debug("completion done",
		"model", c.cfg.Model,
		"elapsed", time.Since(start),
	)
	return result.Choices[0].Message.Content, nil
}

// CompleteJSON sends the messages in JSON mode and decodes the object in
// the reply into out. Replies wrapped in prose still decode as long as they
// contain one balanced JSON object.
func (c *Client) CompleteJSON(ctx context.Context, messages []Message, out any) error {
	reply, err := c.Complete(ctx, messages, true)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(ExtractJSON(reply)), out)
}

// ExtractJSON returns the first balanced JSON object in s, or "{}".
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return "{}"
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return "{}"
}
