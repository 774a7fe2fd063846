// Package enhance rewrites raw transcriptions with an Anthropic-compatible
// language model.
package enhance

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

const (
	anthropicVersion = "2023-06-01"
	maxTokens        = 4096
)

// KeyFunc resolves the provider API key at call time.
type KeyFunc func() (string, error)

// Client is a minimal /messages client.
type Client struct {
	baseURL    string
	apiKey     KeyFunc
	promptsDir string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns an enhancement client. promptsDir points at the user
// prompt overrides (~/.vaani/prompts); it may be empty.
func NewClient(baseURL string, apiKey KeyFunc, promptsDir string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		promptsDir: promptsDir,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Enhance rewrites text according to the mode's system prompt.
func (c *Client) Enhance(ctx context.Context, text string, mode string, model string) (string, error) {
	key, err := c.apiKey()
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(messageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    BuildSystemPrompt(c.promptsDir, mode),
		Messages:  []message{{Role: "user", Content: text}},
	})
	if err != nil {
		return "", fmt.Errorf("encode enhancement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build enhancement request: %w", err)
	}
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("enhancement request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read enhancement response: %w", err)
	}

	var parsed messageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode enhancement response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error.Message != "" {
			return "", fmt.Errorf("enhancement failed: %s (status %d)", parsed.Error.Message, resp.StatusCode)
		}
		return "", fmt.Errorf("enhancement failed with status %d", resp.StatusCode)
	}

	var b strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	enhanced := strings.TrimSpace(b.String())
	if enhanced == "" {
		return "", fmt.Errorf("enhancement returned no text")
	}

	if c.logger != nil {
		c.logger.Info("enhancement complete",
			"mode", mode,
			"model", model,
			"input_chars", len(text),
			"output_chars", len(enhanced),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return enhanced, nil
}
