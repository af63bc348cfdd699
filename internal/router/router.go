// Package router turns incoming chat events into function calls: keyword
// detection, the per-user mode machine and the delete-mode consumption
// pipeline.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pantryline/pantryline/internal/aggregate"
	"github.com/pantryline/pantryline/internal/consume"
	"github.com/pantryline/pantryline/internal/inventory"
	"github.com/pantryline/pantryline/internal/line"
	"github.com/pantryline/pantryline/internal/session"
)

const fallbackDisplayName = "未知用戶"

type Gateway interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, userID, text string) error
	Profile(ctx context.Context, userID string) (line.Profile, error)
}

// Inventory is the slice of the ledger the router needs.
type Inventory interface {
	ListByOwner(ctx context.Context, owner string) ([]inventory.FoodRecord, error)
	Deduct(ctx context.Context, owner, name string, amount float64) (inventory.DeductResult, error)
	DeleteByID(ctx context.Context, id string) (inventory.RecordSnapshot, error)
	SetQuantity(ctx context.Context, id string, quantity float64) error
}

// Ingestor accepts one image into a debounced per-user batch.
type Ingestor interface {
	Ingest(userID string, item aggregate.Item, groupTotal int)
}

// PostbackHandler resolves carousel taps.
type PostbackHandler interface {
	HandlePostback(ctx context.Context, userID, data string)
}

type Router struct {
	gateway  Gateway
	ledger   Inventory
	sessions *session.Store
	ordinals *inventory.OrdinalIndex
	recipes  Ingestor
	records  Ingestor
	postback PostbackHandler
	logger   *slog.Logger
	now      func() time.Time
}

func New(log *slog.Logger, gateway Gateway, ledger Inventory, sessions *session.Store, ordinals *inventory.OrdinalIndex, recipes, records Ingestor, postback PostbackHandler) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		gateway:  gateway,
		ledger:   ledger,
		sessions: sessions,
		ordinals: ordinals,
		recipes:  recipes,
		records:  records,
		postback: postback,
		logger:   log.With(slog.String("service", "router")),
		now:      time.Now,
	}
}

// HandleText routes one text message. Exit always wins; a detected keyword
// enters (or re-enters) its function; otherwise the text goes to the active
// mode, delete mode being the only one that consumes free text.
func (r *Router) HandleText(ctx context.Context, userID, text, replyToken string) {
	fn, detected := Detect(text)

	if detected && fn == FunctionExit {
		r.handleExit(ctx, userID, replyToken)
		return
	}

	if detected {
		switch fn {
		case FunctionRecipe:
			r.enterMode(ctx, userID, session.ModeRecipe, replyToken, recipeGuide)
		case FunctionRecord:
			r.enterMode(ctx, userID, session.ModeRecord, replyToken, recordGuide)
		case FunctionView:
			r.runView(ctx, userID, replyToken)
		case FunctionDelete:
			r.enterDelete(ctx, userID, replyToken)
		case FunctionHelp:
			r.send(ctx, userID, replyToken, helpMessage)
		}
		return
	}

	switch r.sessions.Mode(userID) {
	case session.ModeDelete:
		r.handleConsumption(ctx, userID, text, replyToken)
	case session.ModeRecipe, session.ModeRecord:
		r.send(ctx, userID, replyToken, modeGuide(r.sessions.Mode(userID)))
	default:
		r.send(ctx, userID, replyToken, unknownMessage)
	}
}

// HandleImage feeds one image into the aggregator of the active mode.
// groupTotal is the declared size of a multi-image send, zero when absent.
func (r *Router) HandleImage(ctx context.Context, userID, messageID, replyToken string, groupTotal int) {
	item := aggregate.Item{
		MediaRef:   messageID,
		ReplyToken: replyToken,
		ReceivedAt: r.now(),
	}

	switch r.sessions.Mode(userID) {
	case session.ModeRecipe:
		if r.sessions.ShouldSendWaitNotice(userID) {
			r.push(ctx, userID, waitMessage)
		}
		r.recipes.Ingest(userID, item, groupTotal)
	case session.ModeRecord:
		if r.sessions.ShouldSendWaitNotice(userID) {
			r.push(ctx, userID, waitMessage)
		}
		r.records.Ingest(userID, item, groupTotal)
	default:
		r.send(ctx, userID, replyToken, imageGuideMessage)
	}
}

// HandlePostback delegates carousel taps to the recipe flow.
func (r *Router) HandlePostback(ctx context.Context, userID, data string) {
	r.postback.HandlePostback(ctx, userID, data)
}

// HandleUnsupported answers message types the bot cannot process.
func (r *Router) HandleUnsupported(ctx context.Context, userID, replyToken string) {
	r.send(ctx, userID, replyToken, unsupportedMessage)
}

func (r *Router) handleExit(ctx context.Context, userID, replyToken string) {
	prior := r.sessions.Clear(userID)
	if prior == session.ModeDelete {
		r.ordinals.Clear(userID)
	}
	r.send(ctx, userID, replyToken, exitMessage(prior))
}

// enterMode switches modes. Leaving delete mode invalidates the numbered
// listing so stale ordinals can never hit the wrong record.
func (r *Router) enterMode(ctx context.Context, userID string, mode session.Mode, replyToken, guide string) {
	if r.sessions.Mode(userID) == session.ModeDelete && mode != session.ModeDelete {
		r.ordinals.Clear(userID)
	}
	r.sessions.SetMode(userID, mode)
	r.send(ctx, userID, replyToken, guide)
}

// runView renders the user's records. The mode is cleared on success and
// on failure alike; view never stays active.
func (r *Router) runView(ctx context.Context, userID, replyToken string) {
	defer func() {
		if r.sessions.Clear(userID) == session.ModeDelete {
			r.ordinals.Clear(userID)
		}
	}()

	records, err := r.ledger.ListByOwner(ctx, userID)
	if err != nil {
		r.logger.Error("view query failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
		r.send(ctx, userID, replyToken, viewErrorMessage)
		return
	}
	r.send(ctx, userID, replyToken, renderView(r.displayName(ctx, userID), records, r.now()))
}

// enterDelete switches into delete mode and rebuilds the numbered listing
// the follow-up ordinal input refers to.
func (r *Router) enterDelete(ctx context.Context, userID, replyToken string) {
	records, err := r.ledger.ListByOwner(ctx, userID)
	if err != nil {
		r.logger.Error("delete listing query failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
		r.send(ctx, userID, replyToken, deleteEntryError)
		return
	}

	r.sessions.SetMode(userID, session.ModeDelete)
	snapshots := r.ordinals.Build(userID, records)
	r.send(ctx, userID, replyToken, renderDeleteList(r.displayName(ctx, userID), snapshots))
}

func (r *Router) handleConsumption(ctx context.Context, userID, text, replyToken string) {
	requests, skipped, err := consume.Parse(text)
	if err != nil {
		r.send(ctx, userID, replyToken, unparsableConsumption)
		return
	}
	for _, raw := range skipped {
		r.logger.Debug("skipped unparsable consumption line",
			slog.String("user_id", userID), slog.String("line", raw))
	}

	if len(requests) == 1 && requests[0].Kind == consume.KindOrdinal {
		r.deleteByOrdinal(ctx, userID, requests[0], replyToken)
		return
	}
	r.deductByName(ctx, userID, requests, replyToken)
}

func (r *Router) deleteByOrdinal(ctx context.Context, userID string, req consume.Request, replyToken string) {
	snap, err := r.ordinals.Resolve(userID, req.Ordinal)
	if err != nil {
		r.send(ctx, userID, replyToken, fmt.Sprintf(
			"❌ 找不到編號 %d 的記錄。\n\n請重新輸入「刪除功能」查看記錄列表。", req.Ordinal))
		return
	}

	// Partial deduction only when an amount below the current quantity was
	// given; otherwise the whole record goes.
	if req.Amount != nil && snap.Quantity != nil && *req.Amount < *snap.Quantity {
		newQuantity := *snap.Quantity - *req.Amount
		if err := r.ledger.SetQuantity(ctx, snap.ID, newQuantity); err != nil {
			r.logger.Error("partial deduction failed",
				slog.String("user_id", userID), slog.String("id", snap.ID),
				slog.String("error", err.Error()))
			r.send(ctx, userID, replyToken, consumptionError)
			return
		}
		r.ordinals.UpdateQuantity(userID, req.Ordinal, newQuantity)
		r.send(ctx, userID, replyToken, fmt.Sprintf(
			"✅ 已更新編號 %d 的記錄：%s\n   數量：%s -> %s (扣除 %s)",
			req.Ordinal, snap.Name,
			formatQuantity(snap.Quantity), formatFloat(newQuantity), formatFloat(*req.Amount)))
		return
	}

	if _, err := r.ledger.DeleteByID(ctx, snap.ID); err != nil {
		r.logger.Error("ordinal delete failed",
			slog.String("user_id", userID), slog.String("id", snap.ID),
			slog.String("error", err.Error()))
		r.send(ctx, userID, replyToken, consumptionError)
		return
	}
	r.ordinals.Remove(userID, req.Ordinal)
	r.send(ctx, userID, replyToken, fmt.Sprintf("✅ 已刪除編號 %d 的記錄：%s", req.Ordinal, snap.Name))
}

func (r *Router) deductByName(ctx context.Context, userID string, requests []consume.Request, replyToken string) {
	var results []string
	allSuccess := true

	for _, req := range requests {
		result, err := r.ledger.Deduct(ctx, userID, req.Name, req.Quantity)
		if err != nil {
			allSuccess = false
			if errors.Is(err, inventory.ErrRecordNotFound) {
				results = append(results, fmt.Sprintf("❌ %s - 找不到 %s 的記錄\n", req.Name, req.Name))
			} else {
				r.logger.Error("deduction failed",
					slog.String("user_id", userID), slog.String("name", req.Name),
					slog.String("error", err.Error()))
				results = append(results, fmt.Sprintf("❌ %s - 處理失敗\n", req.Name))
			}
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "✅ %s - 扣除 %s\n", req.Name, formatFloat(req.Quantity))
		for _, rec := range result.Updated {
			fmt.Fprintf(&b, "  更新：記錄 ID %s (%s -> %s)\n",
				rec.ID, formatFloat(rec.OldQuantity), formatFloat(rec.NewQuantity))
		}
		for _, rec := range result.Deleted {
			fmt.Fprintf(&b, "  刪除：記錄 ID %s (數量: %s)\n", rec.ID, formatFloat(rec.Quantity))
		}
		if result.Remaining > 0 {
			fmt.Fprintf(&b, "  ⚠️ 警告：還需要扣除 %s，但庫存不足\n", formatFloat(result.Remaining))
			allSuccess = false
		}
		results = append(results, b.String())
	}

	header := "✅ 消耗記錄完成！\n\n"
	if !allSuccess {
		header = "⚠️ 消耗記錄處理完成（部分項目可能有問題）\n\n"
	}
	r.send(ctx, userID, replyToken, header+strings.Join(results, "\n")+consumptionCheckFooter)
}

func (r *Router) displayName(ctx context.Context, userID string) string {
	profile, err := r.gateway.Profile(ctx, userID)
	if err != nil || profile.DisplayName == "" {
		return fallbackDisplayName
	}
	return profile.DisplayName
}

// send prefers the one-shot reply token and falls back to push.
func (r *Router) send(ctx context.Context, userID, replyToken, text string) {
	if replyToken != "" {
		if err := r.gateway.Reply(ctx, replyToken, text); err == nil {
			return
		}
	}
	r.push(ctx, userID, text)
}

func (r *Router) push(ctx context.Context, userID, text string) {
	if err := r.gateway.Push(ctx, userID, text); err != nil {
		r.logger.Error("push failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}
