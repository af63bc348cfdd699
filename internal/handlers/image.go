package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pantryline/pantryline/internal/imagestore"
)

// ImageHandler serves generated carousel previews from the in-memory
// store.
type ImageHandler struct {
	store  *imagestore.Store
	logger *slog.Logger
}

func NewImageHandler(log *slog.Logger, store *imagestore.Store) *ImageHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ImageHandler{
		store:  store,
		logger: log.With(slog.String("handler", "image")),
	}
}

func (h *ImageHandler) Register(e *echo.Echo) {
	e.GET("/temp_image/:id", h.Serve)
}

// Serve returns the stored image, or a transparent placeholder for
// expired ids. The placeholder is marked immutable so the platform's CDN
// never refetches a dead link.
func (h *ImageHandler) Serve(c echo.Context) error {
	id := c.Param("id")
	data, ok := h.store.Get(id)
	if !ok {
		h.logger.Debug("serving placeholder for unknown image", slog.String("id", id))
		c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		return c.Blob(http.StatusOK, "image/png", imagestore.EmptyPNG())
	}
	return c.Blob(http.StatusOK, "image/png", data)
}
