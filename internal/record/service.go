// Package record runs the pantry ingestion flow: analyze a batch of food
// photos, parse the recognized items and write them into the ledger.
package record

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pantryline/pantryline/internal/aggregate"
	"github.com/pantryline/pantryline/internal/dify"
	"github.com/pantryline/pantryline/internal/inventory"
	"github.com/pantryline/pantryline/internal/line"
)

const (
	msgInvalidImage    = "上傳格式錯誤，請重新上傳。"
	msgProcessingError = "處理圖片時發生錯誤，請稍後再試。"
	// msgNoFoodFound is the analysis workflow's own answer when a photo
	// holds no recognizable food. It is forwarded verbatim and nothing is
	// written to the ledger.
	msgNoFoodFound = "此圖片中找不到食材，請換一張圖片再嘗試。"

	fallbackDisplayName = "未知用戶"
	defaultQuantity     = 1.0
)

type Gateway interface {
	Push(ctx context.Context, userID, text string) error
	DownloadContent(ctx context.Context, messageID string) ([]byte, error)
	Profile(ctx context.Context, userID string) (line.Profile, error)
}

type Analyzer interface {
	Submit(ctx context.Context, input dify.SubmitInput) (dify.Outputs, error)
}

// Inventory is the slice of the ledger the ingestion flow needs.
type Inventory interface {
	Insert(ctx context.Context, rec inventory.FoodRecord) (inventory.FoodRecord, error)
}

type Service struct {
	gateway  Gateway
	analyzer Analyzer
	ledger   Inventory
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(log *slog.Logger, gateway Gateway, analyzer Analyzer, ledger Inventory) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		gateway:  gateway,
		analyzer: analyzer,
		ledger:   ledger,
		logger:   log.With(slog.String("service", "record")),
		now:      time.Now,
	}
}

// Process handles one flushed photo batch: download, analyze, parse and
// insert. Results arrive as a push because the flush runs after the reply
// window. Records are owned by the platform user id; the display name is
// rendering only.
func (s *Service) Process(ctx context.Context, batch aggregate.Batch) {
	displayName := fallbackDisplayName
	if profile, err := s.gateway.Profile(ctx, batch.UserID); err == nil && profile.DisplayName != "" {
		displayName = profile.DisplayName
	}

	images, err := s.download(ctx, batch)
	if err != nil {
		s.logger.Error("download batch failed",
			slog.String("user_id", batch.UserID), slog.String("error", err.Error()))
		s.push(ctx, batch.UserID, msgProcessingError)
		return
	}
	for _, img := range images {
		if !line.ValidImageData(img) {
			s.push(ctx, batch.UserID, msgInvalidImage)
			return
		}
	}

	out, err := s.analyzer.Submit(ctx, dify.SubmitInput{
		UserID:      batch.UserID,
		Images:      images,
		FreshRecord: true,
	})
	if err != nil {
		s.logger.Error("analysis failed",
			slog.String("user_id", batch.UserID), slog.String("error", err.Error()))
		s.push(ctx, batch.UserID, msgProcessingError)
		return
	}

	if strings.Contains(out.Text, msgNoFoodFound) {
		s.push(ctx, batch.UserID, msgNoFoodFound)
		return
	}

	items := ParseItems(out.Text)
	if len(items) == 0 {
		s.push(ctx, batch.UserID, msgProcessingError)
		return
	}

	storedAt := s.now()
	inserted := 0
	for i := range items {
		qty := defaultQuantity
		if items[i].Quantity != nil {
			qty = *items[i].Quantity
		} else {
			items[i].Quantity = &qty
		}
		_, err := s.ledger.Insert(ctx, inventory.FoodRecord{
			Owner:    batch.UserID,
			Name:     items[i].Name,
			Quantity: &qty,
			StoredAt: storedAt,
		})
		if err != nil {
			s.logger.Error("insert failed",
				slog.String("user_id", batch.UserID),
				slog.String("name", items[i].Name),
				slog.String("error", err.Error()))
			continue
		}
		inserted++
	}
	if inserted == 0 {
		s.push(ctx, batch.UserID, msgProcessingError)
		return
	}

	s.push(ctx, batch.UserID, confirmation(items, storedAt, displayName))
	s.logger.Info("recorded items",
		slog.String("user_id", batch.UserID),
		slog.Int("items", inserted),
		slog.Int("images", len(images)))
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

func confirmation(items []Item, storedAt time.Time, displayName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ 已記錄 %d 項食品！\n\n", len(items))
	for i, item := range items {
		qty := defaultQuantity
		if item.Quantity != nil {
			qty = *item.Quantity
		}
		fmt.Fprintf(&b, "%d. %s - 數量: %v\n", i+1, item.Name, qty)
	}
	fmt.Fprintf(&b, "\n⏰ 記錄時間：%s\n", storedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "👤 使用者：%s", displayName)
	return b.String()
}

func (s *Service) push(ctx context.Context, userID, text string) {
	if err := s.gateway.Push(ctx, userID, text); err != nil {
		s.logger.Error("push failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}
