package card

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abelbrown/econpulse/internal/logging"
)

const (
	DefaultModel      = "gemini-2.5-flash"
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 2

	geminiBaseURL  = "https://generativelanguage.googleapis.com"
	defaultBackoff = time.Second
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("gemini: API key not configured")

// Attempt describes one HTTP call made while generating.
type Attempt struct {
	HTTPStatus int // 0 when no response was received
	Latency    time.Duration
	Err        error
}

// Response is the outcome of Generate. Attempts is populated even when
// Generate returns an error.
type Response struct {
	Content  string
	Model    string
	Attempts []Attempt
}

// Generator produces card JSON from a prompt.
type Generator interface {
	Model() string
	Generate(ctx context.Context, prompt string) (Response, error)
}

// GeminiOptions configures a GeminiClient. Zero values use defaults.
type GeminiOptions struct {
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	BaseURL    string
}

// GeminiClient calls the Gemini generateContent API in JSON mode.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	maxRetries int
	backoff    time.Duration
	client     *http.Client
}

// NewGeminiClient creates a GeminiClient.
func NewGeminiClient(opts GeminiOptions) *GeminiClient {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseURL == "" {
		opts.BaseURL = geminiBaseURL
	}
	return &GeminiClient{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		maxRetries: opts.MaxRetries,
		backoff:    defaultBackoff,
		client:     &http.Client{Timeout: opts.Timeout},
	}
}

func (g *GeminiClient) Model() string { return g.model }

// Available returns true if an API key is configured.
func (g *GeminiClient) Available() bool { return g.apiKey != "" }

// statusError is a non-200 reply from the API.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.status, e.body)
}

// retryable reports whether another attempt may succeed. Only 4xx
// replies other than 429 are final.
func retryable(a Attempt) bool {
	if a.HTTPStatus == http.StatusTooManyRequests {
		return true
	}
	return a.HTTPStatus < 400 || a.HTTPStatus >= 500
}

// Generate sends prompt and returns the JSON text of the first candidate.
// Failed attempts are retried up to MaxRetries times with linear backoff.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (Response, error) {
	resp := Response{Model: g.model}
	if !g.Available() {
		logging.Warn("gemini: provider not configured")
		return resp, ErrNotConfigured
	}

	body, err := json.Marshal(map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
			"responseSchema":   responseSchema,
		},
	})
	if err != nil {
		return resp, fmt.Errorf("failed to marshal request: %w", err)
	}

	logging.Info("gemini: request starting", "model", g.model, "prompt_length", len([]rune(prompt)))

	maxAttempts := g.maxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		content, status, err := g.do(ctx, body)
		a := Attempt{HTTPStatus: status, Latency: time.Since(start), Err: err}
		resp.Attempts = append(resp.Attempts, a)

		if err == nil {
			logging.Info("gemini: request successful",
				"attempt", attempt,
				"latency", a.Latency.Round(time.Millisecond),
				"content_length", len(content))
			resp.Content = content
			return resp, nil
		}
		if ctx.Err() != nil {
			return resp, ctx.Err()
		}
		if !retryable(a) {
			logging.Warn("gemini: client error, not retrying", "status", status, "error", err)
			return resp, err
		}
		if attempt < maxAttempts {
			logging.Info("gemini: retrying", "attempt", attempt, "status", status)
			select {
			case <-ctx.Done():
				return resp, ctx.Err()
			case <-time.After(g.backoff * time.Duration(attempt)):
			}
		}
	}

	last := resp.Attempts[len(resp.Attempts)-1]
	logging.Error("gemini: all attempts failed", "attempts", maxAttempts, "error", last.Err)
	return resp, last.Err
}

// do performs one call and returns the candidate text and HTTP status.
func (g *GeminiClient) do(ctx context.Context, body []byte) (string, int, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		logging.Error("gemini: API error", "status", resp.StatusCode, "body", string(respBody))
		return "", resp.StatusCode, &statusError{status: resp.StatusCode, body: string(respBody)}
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}

	var sb strings.Builder
	if len(result.Candidates) > 0 {
		for _, p := range result.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		if result.Candidates[0].FinishReason == "MAX_TOKENS" {
			logging.Warn("gemini: response truncated due to max tokens", "model", g.model)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", resp.StatusCode, errors.New("empty response")
	}
	return sb.String(), resp.StatusCode, nil
}
