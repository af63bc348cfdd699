package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantryline/pantryline/internal/aggregate"
	"github.com/pantryline/pantryline/internal/inventory"
	"github.com/pantryline/pantryline/internal/line"
	"github.com/pantryline/pantryline/internal/session"
)

type fakeGateway struct {
	replies []string
	pushes  []string
}

func (g *fakeGateway) Reply(_ context.Context, _, text string) error {
	g.replies = append(g.replies, text)
	return nil
}

func (g *fakeGateway) Push(_ context.Context, _, text string) error {
	g.pushes = append(g.pushes, text)
	return nil
}

func (g *fakeGateway) Profile(context.Context, string) (line.Profile, error) {
	return line.Profile{UserID: "u1", DisplayName: "小明"}, nil
}

func (g *fakeGateway) lastMessage(t *testing.T) string {
	t.Helper()
	if len(g.replies) > 0 {
		return g.replies[len(g.replies)-1]
	}
	require.NotEmpty(t, g.pushes)
	return g.pushes[len(g.pushes)-1]
}

type fakeLedger struct {
	records      []inventory.FoodRecord
	listErr      error
	deductResult inventory.DeductResult
	deductErr    error
	deducted     []string
	deletedIDs   []string
	deleteErr    error
	quantities   map[string]float64
}

func (l *fakeLedger) ListByOwner(context.Context, string) ([]inventory.FoodRecord, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	return l.records, nil
}

func (l *fakeLedger) Deduct(_ context.Context, _, name string, _ float64) (inventory.DeductResult, error) {
	l.deducted = append(l.deducted, name)
	if l.deductErr != nil {
		return inventory.DeductResult{}, l.deductErr
	}
	return l.deductResult, nil
}

func (l *fakeLedger) DeleteByID(_ context.Context, id string) (inventory.RecordSnapshot, error) {
	if l.deleteErr != nil {
		return inventory.RecordSnapshot{}, l.deleteErr
	}
	l.deletedIDs = append(l.deletedIDs, id)
	return inventory.RecordSnapshot{ID: id}, nil
}

func (l *fakeLedger) SetQuantity(_ context.Context, id string, quantity float64) error {
	if l.quantities == nil {
		l.quantities = make(map[string]float64)
	}
	l.quantities[id] = quantity
	return nil
}

type fakeIngestor struct {
	items  []aggregate.Item
	totals []int
}

func (f *fakeIngestor) Ingest(_ string, item aggregate.Item, groupTotal int) {
	f.items = append(f.items, item)
	f.totals = append(f.totals, groupTotal)
}

type fakePostback struct {
	data []string
}

func (f *fakePostback) HandlePostback(_ context.Context, _, data string) {
	f.data = append(f.data, data)
}

type fixture struct {
	router   *Router
	gateway  *fakeGateway
	ledger   *fakeLedger
	sessions *session.Store
	ordinals *inventory.OrdinalIndex
	recipes  *fakeIngestor
	records  *fakeIngestor
	postback *fakePostback
}

func newFixture() *fixture {
	f := &fixture{
		gateway:  &fakeGateway{},
		ledger:   &fakeLedger{},
		sessions: session.NewStore(),
		ordinals: inventory.NewOrdinalIndex(),
		recipes:  &fakeIngestor{},
		records:  &fakeIngestor{},
		postback: &fakePostback{},
	}
	f.router = New(nil, f.gateway, f.ledger, f.sessions, f.ordinals, f.recipes, f.records, f.postback)
	return f
}

func qty(v float64) *float64 { return &v }

func sampleRecords() []inventory.FoodRecord {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return []inventory.FoodRecord{
		{ID: "a1", Owner: "u1", Name: "蘋果", Quantity: qty(2), StoredAt: base},
		{ID: "a2", Owner: "u1", Name: "橘子", Quantity: qty(3), StoredAt: base.Add(time.Hour)},
	}
}

func TestDetect(t *testing.T) {
	cases := []struct {
		text string
		fn   Function
		ok   bool
	}{
		{"食譜功能", FunctionRecipe, true},
		{"RECIPE", FunctionRecipe, true},
		{"我要用記錄功能", FunctionRecord, true},
		{"查看", FunctionView, true},
		{"刪除", FunctionDelete, true},
		{"消耗", FunctionDelete, true},
		{"幫助", FunctionHelp, true},
		{"EXIT", FunctionExit, true},
		{"取消", FunctionExit, true},
		{"嗯嗯嗯", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		fn, ok := Detect(tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
		assert.Equal(t, tc.fn, fn, tc.text)
	}
}

func TestDetectFirstFunctionWins(t *testing.T) {
	// 刪除記錄 carries both a record and a delete keyword; the earlier
	// function in the table wins.
	fn, ok := Detect("刪除記錄")
	require.True(t, ok)
	assert.Equal(t, FunctionRecord, fn)
}

func TestKeywordEntersMode(t *testing.T) {
	f := newFixture()

	f.router.HandleText(context.Background(), "u1", "食譜功能", "tok")
	assert.Equal(t, session.ModeRecipe, f.sessions.Mode("u1"))
	assert.Equal(t, recipeGuide, f.gateway.lastMessage(t))

	f.router.HandleText(context.Background(), "u1", "記錄", "tok")
	assert.Equal(t, session.ModeRecord, f.sessions.Mode("u1"))
	assert.Equal(t, recordGuide, f.gateway.lastMessage(t))
}

func TestExitClearsModeWithFarewell(t *testing.T) {
	f := newFixture()
	f.sessions.SetMode("u1", session.ModeRecipe)

	f.router.HandleText(context.Background(), "u1", "退出", "tok")

	assert.Equal(t, session.ModeNone, f.sessions.Mode("u1"))
	assert.Equal(t, "已退出 食譜 功能模式。\n\n輸入「幫助」查看可用功能。", f.gateway.lastMessage(t))
}

func TestExitWithoutModeAnswersNeutrally(t *testing.T) {
	f := newFixture()

	f.router.HandleText(context.Background(), "u1", "exit", "tok")

	assert.Equal(t, noModeExitMessage, f.gateway.lastMessage(t))
}

func TestExitFromDeleteDropsOrdinals(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")
	_, err := f.ordinals.Resolve("u1", 1)
	require.NoError(t, err)

	f.router.HandleText(context.Background(), "u1", "退出", "tok")

	_, err = f.ordinals.Resolve("u1", 1)
	assert.ErrorIs(t, err, inventory.ErrOrdinalNotFound)
}

func TestViewRendersAndClearsMode(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.sessions.SetMode("u1", session.ModeRecipe)

	f.router.HandleText(context.Background(), "u1", "查看功能", "tok")

	msg := f.gateway.lastMessage(t)
	assert.Contains(t, msg, "📋 小明 的記錄")
	assert.Contains(t, msg, "共 2 筆記錄：")
	assert.Contains(t, msg, "1. 蘋果")
	assert.Contains(t, msg, "數量: 2")
	assert.Contains(t, msg, "購買時間: 2026-08-20 10:00:00")
	assert.Equal(t, session.ModeNone, f.sessions.Mode("u1"))
}

func TestViewClearsModeOnFailureToo(t *testing.T) {
	f := newFixture()
	f.ledger.listErr = errors.New("db down")
	f.sessions.SetMode("u1", session.ModeRecord)

	f.router.HandleText(context.Background(), "u1", "查看", "tok")

	assert.Equal(t, viewErrorMessage, f.gateway.lastMessage(t))
	assert.Equal(t, session.ModeNone, f.sessions.Mode("u1"))
}

func TestViewWithoutRecords(t *testing.T) {
	f := newFixture()

	f.router.HandleText(context.Background(), "u1", "查看", "tok")

	msg := f.gateway.lastMessage(t)
	assert.Contains(t, msg, "目前沒有任何記錄。")
	assert.Contains(t, msg, "使用「記錄功能」來記錄食物吧！")
}

func TestDeleteEntryBuildsNumberedListing(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()

	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")

	assert.Equal(t, session.ModeDelete, f.sessions.Mode("u1"))
	msg := f.gateway.lastMessage(t)
	assert.Contains(t, msg, "🗑️ 刪除功能已啟用！")
	assert.Contains(t, msg, "1. 蘋果 - 數量: 2 - 時間: 2026-08-20 10:00:00")
	assert.Contains(t, msg, "2. 橘子 - 數量: 3")
	assert.Contains(t, msg, "1️⃣ 按編號刪除")

	snap, err := f.ordinals.Resolve("u1", 2)
	require.NoError(t, err)
	assert.Equal(t, "橘子", snap.Name)
}

func TestSwitchingOutOfDeleteDropsOrdinals(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")

	f.router.HandleText(context.Background(), "u1", "食譜功能", "tok")

	assert.Equal(t, session.ModeRecipe, f.sessions.Mode("u1"))
	_, err := f.ordinals.Resolve("u1", 1)
	assert.ErrorIs(t, err, inventory.ErrOrdinalNotFound)
}

func TestOrdinalDeleteWholeRecord(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")

	f.router.HandleText(context.Background(), "u1", "1", "tok")

	assert.Equal(t, []string{"a1"}, f.ledger.deletedIDs)
	assert.Equal(t, "✅ 已刪除編號 1 的記錄：蘋果", f.gateway.lastMessage(t))

	// The freed ordinal is gone; its neighbor keeps its number.
	_, err := f.ordinals.Resolve("u1", 1)
	assert.ErrorIs(t, err, inventory.ErrOrdinalNotFound)
	_, err = f.ordinals.Resolve("u1", 2)
	assert.NoError(t, err)
}

func TestOrdinalDeleteWithLargeAmountRemovesRecord(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")

	f.router.HandleText(context.Background(), "u1", "1 5", "tok")

	assert.Equal(t, []string{"a1"}, f.ledger.deletedIDs)
	assert.Equal(t, "✅ 已刪除編號 1 的記錄：蘋果", f.gateway.lastMessage(t))
}

func TestOrdinalPartialDeduction(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")

	f.router.HandleText(context.Background(), "u1", "2 1", "tok")

	assert.Empty(t, f.ledger.deletedIDs)
	assert.Equal(t, 2.0, f.ledger.quantities["a2"])
	assert.Equal(t, "✅ 已更新編號 2 的記錄：橘子\n   數量：3 -> 2 (扣除 1)", f.gateway.lastMessage(t))

	snap, err := f.ordinals.Resolve("u1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, *snap.Quantity)
}

func TestOrdinalNotFound(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")

	f.router.HandleText(context.Background(), "u1", "9", "tok")

	assert.Equal(t, "❌ 找不到編號 9 的記錄。\n\n請重新輸入「刪除功能」查看記錄列表。", f.gateway.lastMessage(t))
}

func TestOrdinalDeleteFailureAnswersConsumptionError(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")
	f.ledger.deleteErr = errors.New("connection reset")

	f.router.HandleText(context.Background(), "u1", "1", "tok")

	assert.Equal(t, consumptionError, f.gateway.lastMessage(t))
}

func TestNameDeductionRendersPerItemResults(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")
	f.ledger.deductResult = inventory.DeductResult{
		Deleted: []inventory.DeletedRecord{{ID: "a1", Name: "蘋果", Quantity: 2}},
		Updated: []inventory.UpdatedRecord{{ID: "a2", Name: "蘋果", OldQuantity: 3, NewQuantity: 1, Deducted: 2}},
	}

	f.router.HandleText(context.Background(), "u1", "蘋果 4個", "tok")

	assert.Equal(t, []string{"蘋果"}, f.ledger.deducted)
	msg := f.gateway.lastMessage(t)
	assert.Contains(t, msg, "✅ 消耗記錄完成！")
	assert.Contains(t, msg, "✅ 蘋果 - 扣除 4")
	assert.Contains(t, msg, "刪除：記錄 ID a1 (數量: 2)")
	assert.Contains(t, msg, "更新：記錄 ID a2 (3 -> 1)")
	assert.Contains(t, msg, "輸入「查看功能」查看更新後的記錄。")
}

func TestNameDeductionReportsShortfall(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")
	f.ledger.deductResult = inventory.DeductResult{
		Deleted:   []inventory.DeletedRecord{{ID: "a1", Name: "蘋果", Quantity: 2}},
		Remaining: 3,
	}

	f.router.HandleText(context.Background(), "u1", "蘋果 5個", "tok")

	msg := f.gateway.lastMessage(t)
	assert.Contains(t, msg, "⚠️ 消耗記錄處理完成（部分項目可能有問題）")
	assert.Contains(t, msg, "⚠️ 警告：還需要扣除 3，但庫存不足")
}

func TestNameDeductionUnknownFood(t *testing.T) {
	f := newFixture()
	f.ledger.records = sampleRecords()
	f.router.HandleText(context.Background(), "u1", "刪除功能", "tok")
	f.ledger.deductErr = inventory.ErrRecordNotFound

	f.router.HandleText(context.Background(), "u1", "榴槤 1個", "tok")

	msg := f.gateway.lastMessage(t)
	assert.Contains(t, msg, "❌ 榴槤 - 找不到 榴槤 的記錄")
}

func TestUnparsableConsumption(t *testing.T) {
	f := newFixture()
	f.sessions.SetMode("u1", session.ModeDelete)

	f.router.HandleText(context.Background(), "u1", "嗯嗯嗯", "tok")

	assert.Equal(t, unparsableConsumption, f.gateway.lastMessage(t))
}

func TestFreeTextInRecipeModePromptsForImages(t *testing.T) {
	f := newFixture()
	f.sessions.SetMode("u1", session.ModeRecipe)

	f.router.HandleText(context.Background(), "u1", "嗯嗯嗯", "tok")

	assert.Contains(t, f.gateway.lastMessage(t), "您目前在「食譜」模式下。")
}

func TestUnknownCommandWithoutMode(t *testing.T) {
	f := newFixture()

	f.router.HandleText(context.Background(), "u1", "嗯嗯嗯", "tok")

	assert.Equal(t, unknownMessage, f.gateway.lastMessage(t))
}

func TestHelpKeepsCurrentMode(t *testing.T) {
	f := newFixture()
	f.sessions.SetMode("u1", session.ModeRecord)

	f.router.HandleText(context.Background(), "u1", "幫助", "tok")

	assert.Equal(t, helpMessage, f.gateway.lastMessage(t))
	assert.Equal(t, session.ModeRecord, f.sessions.Mode("u1"))
}

func TestImageRoutedByMode(t *testing.T) {
	f := newFixture()
	f.sessions.SetMode("u1", session.ModeRecipe)

	f.router.HandleImage(context.Background(), "u1", "m1", "tok", 3)
	f.router.HandleImage(context.Background(), "u1", "m2", "tok", 3)

	require.Len(t, f.recipes.items, 2)
	assert.Equal(t, "m1", f.recipes.items[0].MediaRef)
	assert.Equal(t, []int{3, 3}, f.recipes.totals)
	assert.Empty(t, f.records.items)

	// Wait notice goes out once per burst, not per image.
	assert.Equal(t, []string{waitMessage}, f.gateway.pushes)
}

func TestImageInRecordMode(t *testing.T) {
	f := newFixture()
	f.sessions.SetMode("u1", session.ModeRecord)

	f.router.HandleImage(context.Background(), "u1", "m1", "tok", 0)

	require.Len(t, f.records.items, 1)
	assert.Empty(t, f.recipes.items)
}

func TestImageWithoutModeGetsGuide(t *testing.T) {
	f := newFixture()

	f.router.HandleImage(context.Background(), "u1", "m1", "tok", 0)

	assert.Empty(t, f.recipes.items)
	assert.Empty(t, f.records.items)
	assert.Equal(t, imageGuideMessage, f.gateway.lastMessage(t))
}

func TestPostbackDelegated(t *testing.T) {
	f := newFixture()

	f.router.HandlePostback(context.Background(), "u1", "recipe_select=2")

	assert.Equal(t, []string{"recipe_select=2"}, f.postback.data)
}

func TestUnsupportedMessageType(t *testing.T) {
	f := newFixture()

	f.router.HandleUnsupported(context.Background(), "u1", "tok")

	assert.Equal(t, unsupportedMessage, f.gateway.lastMessage(t))
}
