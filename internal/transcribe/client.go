// Package transcribe sends captured audio to an OpenAI-compatible
// speech-to-text endpoint.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// KeyFunc resolves the provider API key at call time so credential changes
// take effect without restarting the daemon.
type KeyFunc func() (string, error)

// Client is a minimal /audio/transcriptions client.
type Client struct {
	baseURL    string
	apiKey     KeyFunc
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a transcription client for baseURL (including the
// version prefix, e.g. https://api.openai.com/v1).
func NewClient(baseURL string, apiKey KeyFunc, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Transcribe uploads WAV audio and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, wav []byte, model string) (string, error) {
	key, err := c.apiKey()
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("model", model); err != nil {
		return "", fmt.Errorf("encode model field: %w", err)
	}
	part, err := form.CreateFormFile("file", "recording.wav")
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", form.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", providerError("transcription", resp)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}

	text := strings.TrimSpace(parsed.Text)
	if c.logger != nil {
		c.logger.Info("transcription complete",
			"model", model,
			"chars", len(text),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return text, nil
}

// providerError extracts the provider's error message from a non-2xx response.
func providerError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Errorf("%s failed: %s (status %d)", operation, parsed.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("%s failed with status %d", operation, resp.StatusCode)
}
