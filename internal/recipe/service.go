// Package recipe runs the dish suggestion flow: analyze a batch of food
// photos, generate preview images, answer with a selectable carousel and
// serve the full recipe on tap.
package recipe

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pantryline/pantryline/internal/aggregate"
	"github.com/pantryline/pantryline/internal/dify"
	"github.com/pantryline/pantryline/internal/line"
)

const (
	msgInvalidImage    = "上傳格式錯誤，請重新上傳。"
	msgProcessingError = "處理圖片時發生錯誤，請稍後再試。"
	msgRecipeExpired   = "食譜數據已過期，請重新上傳圖片"
	msgPostbackError   = "處理請求時發生錯誤，請重新上傳圖片"
	carouselAltText    = "食譜選擇"
	carouselLabel      = "查看更多"
)

// headerPattern strips leading markdown heading markers so recipe bodies
// read as plain chat text.
var headerPattern = regexp.MustCompile(`(?m)^#+\s*`)

type Gateway interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, userID, text string) error
	ReplyImageCarousel(ctx context.Context, replyToken, altText string, columns []line.CarouselColumn) error
	PushImageCarousel(ctx context.Context, userID, altText string, columns []line.CarouselColumn) error
	DownloadContent(ctx context.Context, messageID string) ([]byte, error)
}

type Analyzer interface {
	Submit(ctx context.Context, input dify.SubmitInput) (dify.Outputs, error)
}

type ImageGenerator interface {
	Enabled() bool
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// ImageCache stores generated previews and hands back fetchable links.
type ImageCache interface {
	Put(data []byte) string
	URL(id string) string
}

type Service struct {
	gateway   Gateway
	analyzer  Analyzer
	generator ImageGenerator
	images    ImageCache
	store     *Store
	logger    *slog.Logger
	// generationGap spaces out consecutive image generations to stay
	// under the model's burst limits.
	generationGap time.Duration
	sleep         func(time.Duration)
}

func NewService(log *slog.Logger, gateway Gateway, analyzer Analyzer, generator ImageGenerator, images ImageCache, store *Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		gateway:       gateway,
		analyzer:      analyzer,
		generator:     generator,
		images:        images,
		store:         store,
		logger:        log.With(slog.String("service", "recipe")),
		generationGap: 2 * time.Second,
		sleep:         time.Sleep,
	}
}

// Process handles one flushed photo batch end to end. Send failures are
// logged, not propagated; the batch is spent either way.
func (s *Service) Process(ctx context.Context, batch aggregate.Batch) {
	replyToken := lastReplyToken(batch)

	images, err := s.download(ctx, batch)
	if err != nil {
		s.logger.Error("download batch failed",
			slog.String("user_id", batch.UserID), slog.String("error", err.Error()))
		s.send(ctx, batch.UserID, replyToken, msgProcessingError)
		return
	}
	for _, img := range images {
		if !line.ValidImageData(img) {
			s.send(ctx, batch.UserID, replyToken, msgInvalidImage)
			return
		}
	}

	out, err := s.analyzer.Submit(ctx, dify.SubmitInput{
		UserID: batch.UserID,
		Images: images,
	})
	if err != nil {
		s.logger.Error("analysis failed",
			slog.String("user_id", batch.UserID), slog.String("error", err.Error()))
		s.send(ctx, batch.UserID, replyToken, msgProcessingError)
		return
	}

	s.store.Put(batch.UserID, out.Text, out.Dishes)

	columns := s.buildCarousel(ctx, out)
	if len(columns) == 0 {
		s.send(ctx, batch.UserID, replyToken, out.Text)
		return
	}
	if err := s.gateway.ReplyImageCarousel(ctx, replyToken, carouselAltText, columns); err != nil {
		s.logger.Warn("carousel reply failed, pushing instead",
			slog.String("user_id", batch.UserID), slog.String("error", err.Error()))
		if err := s.gateway.PushImageCarousel(ctx, batch.UserID, carouselAltText, columns); err != nil {
			s.logger.Error("carousel push failed",
				slog.String("user_id", batch.UserID), slog.String("error", err.Error()))
			s.send(ctx, batch.UserID, replyToken, out.Text)
		}
	}
}

// HandlePostback resolves a carousel tap into the stored recipe body and
// pushes it. The reply token was spent on the carousel itself.
func (s *Service) HandlePostback(ctx context.Context, userID, data string) {
	raw := strings.TrimPrefix(data, "recipe_select=")
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn("malformed postback data",
			slog.String("user_id", userID), slog.String("data", data))
		s.push(ctx, userID, msgPostbackError)
		return
	}

	dish, text, ok := s.store.Dish(userID, n)
	if !ok {
		s.push(ctx, userID, msgRecipeExpired)
		return
	}
	if dish == "" {
		s.push(ctx, userID, fmt.Sprintf("找不到編號 %d 的食譜", n))
		return
	}

	cleaned := headerPattern.ReplaceAllString(dish, "")
	message := cleaned
	if text != "" {
		message = text + "\n" + strings.Repeat("=", 25) + "\n" + cleaned
	}
	s.push(ctx, userID, message)
}

func (s *Service) download(ctx context.Context, batch aggregate.Batch) ([][]byte, error) {
	images := make([][]byte, len(batch.Items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range batch.Items {
		g.Go(func() error {
			data, err := s.gateway.DownloadContent(gctx, item.MediaRef)
			if err != nil {
				return err
			}
			images[i] = line.ShrinkOversized(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// buildCarousel generates a preview per dish that has both a prompt and a
// body, spacing out the calls. Failed generations drop the column rather
// than the whole carousel.
func (s *Service) buildCarousel(ctx context.Context, out dify.Outputs) []line.CarouselColumn {
	if s.generator == nil || !s.generator.Enabled() {
		return nil
	}

	var columns []line.CarouselColumn
	generated := 0
	for i, prompt := range out.Pictures {
		if prompt == "" || i >= len(out.Dishes) || out.Dishes[i] == "" {
			continue
		}
		if generated > 0 {
			s.sleep(s.generationGap)
		}
		generated++
		img, err := s.generator.GenerateImage(ctx, prompt)
		if err != nil {
			s.logger.Warn("preview generation failed",
				slog.Int("dish", i+1), slog.String("error", err.Error()))
			continue
		}
		id := s.images.Put(img)
		columns = append(columns, line.NewPostbackColumn(
			s.images.URL(id),
			carouselLabel,
			fmt.Sprintf("recipe_select=%d", i+1),
		))
	}
	return columns
}

func (s *Service) send(ctx context.Context, userID, replyToken, text string) {
	if replyToken != "" {
		if err := s.gateway.Reply(ctx, replyToken, text); err == nil {
			return
		}
	}
	s.push(ctx, userID, text)
}

func (s *Service) push(ctx context.Context, userID, text string) {
	if err := s.gateway.Push(ctx, userID, text); err != nil {
		s.logger.Error("push failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

func lastReplyToken(batch aggregate.Batch) string {
	for i := len(batch.Items) - 1; i >= 0; i-- {
		if batch.Items[i].ReplyToken != "" {
			return batch.Items[i].ReplyToken
		}
	}
	return ""
}
