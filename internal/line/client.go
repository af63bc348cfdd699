package line

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

	"github.com/pantryline/pantryline/internal/config"
)

// Client talks to the LINE Messaging API. Send failures are returned as
// errors; callers treat them as log-only and never fail the session over
// them.
type Client struct {
	accessToken string
	apiBase     string
	dataAPIBase string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewClient(log *slog.Logger, cfg config.LineConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = config.DefaultLineAPIBase
	}
	dataAPIBase := cfg.DataAPIBase
	if dataAPIBase == "" {
		dataAPIBase = config.DefaultLineDataAPIBase
	}
	return &Client{
		accessToken: cfg.ChannelAccessToken,
		apiBase:     strings.TrimRight(apiBase, "/"),
		dataAPIBase: strings.TrimRight(dataAPIBase, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      log.With(slog.String("service", "line")),
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateMessage struct {
	Type     string           `json:"type"`
	AltText  string           `json:"altText"`
	Template carouselTemplate `json:"template"`
}

type carouselTemplate struct {
	Type    string           `json:"type"`
	Columns []CarouselColumn `json:"columns"`
}

// Reply answers an event using its one-shot reply token.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, "/v2/bot/message/reply", payload)
}

// Push sends a message outside the reply window.
func (c *Client) Push(ctx context.Context, userID, text string) error {
	payload := map[string]any{
		"to":       userID,
		"messages": []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, "/v2/bot/message/push", payload)
}

// ReplyImageCarousel answers with an image carousel template.
func (c *Client) ReplyImageCarousel(ctx context.Context, replyToken, altText string, columns []CarouselColumn) error {
	if len(columns) == 0 {
		return fmt.Errorf("carousel needs at least one column")
	}
	payload := map[string]any{
		"replyToken": replyToken,
		"messages": []templateMessage{{
			Type:     "template",
			AltText:  altText,
			Template: carouselTemplate{Type: "image_carousel", Columns: columns},
		}},
	}
	return c.post(ctx, "/v2/bot/message/reply", payload)
}

// PushImageCarousel sends an image carousel outside the reply window.
func (c *Client) PushImageCarousel(ctx context.Context, userID, altText string, columns []CarouselColumn) error {
	if len(columns) == 0 {
		return fmt.Errorf("carousel needs at least one column")
	}
	payload := map[string]any{
		"to": userID,
		"messages": []templateMessage{{
			Type:     "template",
			AltText:  altText,
			Template: carouselTemplate{Type: "image_carousel", Columns: columns},
		}},
	}
	return c.post(ctx, "/v2/bot/message/push", payload)
}

// DownloadContent fetches the binary content behind a message id from the
// data API host.
func (c *Client) DownloadContent(ctx context.Context, messageID string) ([]byte, error) {
	url := fmt.Sprintf("%s/v2/bot/message/%s/content", c.dataAPIBase, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download content: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return data, nil
}

// Profile fetches a user's display profile. Used for rendering only.
func (c *Client) Profile(ctx context.Context, userID string) (Profile, error) {
	url := fmt.Sprintf("%s/v2/bot/profile/%s", c.apiBase, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("get profile: unexpected status %d", resp.StatusCode)
	}
	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return profile, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("messaging api rejected request",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(detail)))
		return fmt.Errorf("send message: unexpected status %d", resp.StatusCode)
	}
	return nil
}
