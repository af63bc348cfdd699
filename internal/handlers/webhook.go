package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pantryline/pantryline/internal/line"
)

// Dispatcher routes verified webhook events.
type Dispatcher interface {
	HandleText(ctx context.Context, userID, text, replyToken string)
	HandleImage(ctx context.Context, userID, messageID, replyToken string, groupTotal int)
	HandlePostback(ctx context.Context, userID, data string)
	HandleUnsupported(ctx context.Context, userID, replyToken string)
}

type WebhookHandler struct {
	channelSecret string
	dispatcher    Dispatcher
	logger        *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, channelSecret string, dispatcher Dispatcher) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		channelSecret: channelSecret,
		dispatcher:    dispatcher,
		logger:        log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook", h.Receive)
}

// Receive verifies the platform signature and fans the events out. The
// endpoint answers 200 as soon as dispatch finished; slow work (image
// batches) continues asynchronously behind the aggregators.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "cannot read body")
	}

	signature := c.Request().Header.Get("X-Line-Signature")
	if signature == "" {
		return c.String(http.StatusBadRequest, "missing signature")
	}
	if !line.ValidateSignature(h.channelSecret, body, signature) {
		h.logger.Warn("rejected webhook with invalid signature")
		return c.String(http.StatusUnauthorized, "invalid signature")
	}

	var req line.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.String(http.StatusBadRequest, "malformed payload")
	}

	ctx := c.Request().Context()
	for _, event := range req.Events {
		h.dispatch(ctx, event)
	}
	return c.String(http.StatusOK, "OK")
}

func (h *WebhookHandler) dispatch(ctx context.Context, event line.Event) {
	userID := event.Source.UserID
	if userID == "" {
		return
	}

	switch event.Type {
	case "postback":
		if event.Postback != nil {
			h.dispatcher.HandlePostback(ctx, userID, event.Postback.Data)
		}
	case "message":
		if event.Message == nil {
			return
		}
		switch event.Message.Type {
		case "text":
			h.dispatcher.HandleText(ctx, userID, event.Message.Text, event.ReplyToken)
		case "image":
			groupTotal := 0
			if event.Message.ImageSet != nil {
				groupTotal = event.Message.ImageSet.Total
			}
			h.dispatcher.HandleImage(ctx, userID, event.Message.ID, event.ReplyToken, groupTotal)
		case "video", "file", "audio":
			h.dispatcher.HandleUnsupported(ctx, userID, event.ReplyToken)
		default:
			h.logger.Debug("ignoring message type",
				slog.String("type", event.Message.Type))
		}
	}
}
