// Package dify calls the analysis workflow that turns food photos into
// structured text fields.
package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pantryline/pantryline/internal/config"
)

// ErrWorkflowFailed wraps any upload or run failure; callers reply with a
// generic retry-later message.
var ErrWorkflowFailed = errors.New("dify: workflow failed")

// Outputs are the named string fields the workflow returns. Pictures hold
// generation prompts and Dishes the matching recipe bodies, index-aligned.
type Outputs struct {
	Text     string
	Pictures []string
	Dishes   []string
}

// SubmitInput describes one workflow run over a batch of images.
type SubmitInput struct {
	UserID string
	Images [][]byte
	Query  string
	// FreshRecord switches the workflow into its ingestion branch that
	// answers with a plain name/quantity listing.
	FreshRecord bool
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(log *slog.Logger, cfg config.DifyConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	base := cfg.APIBase
	if base == "" {
		base = config.DefaultDifyAPIBase
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     log.With(slog.String("service", "dify")),
	}
}

// Submit uploads every image, then runs the workflow blocking until its
// outputs are ready. Uploads run in parallel; output order follows input
// order.
func (c *Client) Submit(ctx context.Context, input SubmitInput) (Outputs, error) {
	if len(input.Images) == 0 {
		return Outputs{}, fmt.Errorf("%w: no images", ErrWorkflowFailed)
	}

	fileIDs := make([]string, len(input.Images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range input.Images {
		g.Go(func() error {
			id, err := c.uploadFile(gctx, img, input.UserID)
			if err != nil {
				return err
			}
			fileIDs[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outputs{}, fmt.Errorf("%w: %v", ErrWorkflowFailed, err)
	}

	outputs, err := c.runWorkflow(ctx, input, fileIDs)
	if err != nil {
		return Outputs{}, fmt.Errorf("%w: %v", ErrWorkflowFailed, err)
	}
	return outputs, nil
}

type fileRef struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	UploadFileID   string `json:"upload_file_id"`
}

func (c *Client) runWorkflow(ctx context.Context, input SubmitInput, fileIDs []string) (Outputs, error) {
	refs := make([]fileRef, 0, len(fileIDs))
	for _, id := range fileIDs {
		refs = append(refs, fileRef{Type: "image", TransferMethod: "local_file", UploadFileID: id})
	}

	inputs := map[string]any{
		"User":      input.UserID,
		"foodphoto": refs,
	}
	if input.Query != "" {
		inputs["text"] = input.Query
	}
	if input.FreshRecord {
		inputs["freshrecord"] = "True"
	}

	payload := map[string]any{
		"inputs":        inputs,
		"response_mode": "blocking",
		"user":          input.UserID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Outputs{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/workflows/run", bytes.NewReader(body))
	if err != nil {
		return Outputs{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outputs{}, fmt.Errorf("run workflow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("workflow run rejected",
			slog.Int("status", resp.StatusCode), slog.String("body", string(detail)))
		return Outputs{}, fmt.Errorf("run workflow: unexpected status %d", resp.StatusCode)
	}

	var decoded struct {
		Data struct {
			Outputs struct {
				Text     string `json:"text"`
				Picture1 string `json:"picture_1"`
				Picture2 string `json:"picture_2"`
				Picture3 string `json:"picture_3"`
				Dish1    string `json:"dish_1"`
				Dish2    string `json:"dish_2"`
				Dish3    string `json:"dish_3"`
			} `json:"outputs"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Outputs{}, fmt.Errorf("decode response: %w", err)
	}

	out := decoded.Data.Outputs
	// Workflow answers sometimes carry literal \n sequences.
	text := strings.ReplaceAll(out.Text, `\n`, "\n")
	return Outputs{
		Text:     text,
		Pictures: []string{out.Picture1, out.Picture2, out.Picture3},
		Dishes:   []string{out.Dish1, out.Dish2, out.Dish3},
	}, nil
}

func (c *Client) uploadFile(ctx context.Context, data []byte, userID string) (string, error) {
	filename, mimeType := "image.jpg", "image/jpeg"
	if bytes.HasPrefix(data, []byte("\x89PNG")) {
		filename, mimeType = "image.png", "image/png"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("user", userID); err != nil {
		return "", fmt.Errorf("write field: %w", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload file: unexpected status %d", resp.StatusCode)
	}
	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if decoded.ID == "" {
		return "", fmt.Errorf("upload file: response carried no id")
	}
	return decoded.ID, nil
}
