// Package gemini generates dish preview images from text prompts.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pantryline/pantryline/internal/config"
)

// ErrGenerationFailed indicates every configured model failed to produce
// an image.
var ErrGenerationFailed = errors.New("gemini: image generation failed")

// defaultModels is the fallback chain tried in order when the config
// names none.
var defaultModels = []string{
	"gemini-2.5-flash-image-preview",
	"gemini-2.5-flash-image",
	"gemini-2.0-flash-exp-image-generation-001",
}

type Client struct {
	apiKey     string
	baseURL    string
	models     []string
	httpClient *http.Client
	logger     *slog.Logger
	sleep      func(time.Duration)
}

func NewClient(log *slog.Logger, cfg config.GeminiConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	base := cfg.APIBase
	if base == "" {
		base = config.DefaultGeminiAPIBase
	}
	models := cfg.Models
	if len(models) == 0 {
		models = defaultModels
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(base, "/"),
		models:     models,
		httpClient: &http.Client{Timeout: time.Minute},
		logger:     log.With(slog.String("service", "gemini")),
		sleep:      time.Sleep,
	}
}

// Enabled reports whether an API key is configured. Without one the recipe
// flow answers with text only.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// GenerateImage renders prompt as a 1:1 image. Models are tried in order;
// a 429 is retried once per model after honoring Retry-After. Returns the
// decoded image bytes.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w: no api key configured", ErrGenerationFailed)
	}

	var lastErr error
	for _, model := range c.models {
		data, err := c.generateWithModel(ctx, model, prompt)
		if err == nil {
			return data, nil
		}
		lastErr = err
		c.logger.Warn("model failed, trying next",
			slog.String("model", model), slog.String("error", err.Error()))
	}
	return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
}

func (c *Client) generateWithModel(ctx context.Context, model, prompt string) ([]byte, error) {
	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":        1.0,
			"maxOutputTokens":    4096,
			"responseModalities": []string{"IMAGE"},
			"imageConfig":        map[string]any{"aspectRatio": "1:1"},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	resp, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		c.logger.Warn("rate limited, retrying once",
			slog.String("model", model), slog.Duration("wait", wait))
		c.sleep(wait)
		resp, err = c.post(ctx, url, body)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("model %s: unexpected status %d", model, resp.StatusCode)
	}

	var decoded struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					InlineData *struct {
						MimeType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	for _, cand := range decoded.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			img, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decode image data: %w", err)
			}
			return img, nil
		}
	}
	return nil, fmt.Errorf("model %s: response carried no image data", model)
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	return resp, nil
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 5 * time.Second
}
