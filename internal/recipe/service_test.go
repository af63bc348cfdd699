package recipe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantryline/pantryline/internal/aggregate"
	"github.com/pantryline/pantryline/internal/dify"
	"github.com/pantryline/pantryline/internal/line"
)

type fakeGateway struct {
	content      map[string][]byte
	downloadErr  error
	replyErr     error
	carouselErr  error
	replies      []string
	pushes       []string
	carousels    [][]line.CarouselColumn
	pushCarousel [][]line.CarouselColumn
}

func (g *fakeGateway) Reply(_ context.Context, _, text string) error {
	if g.replyErr != nil {
		return g.replyErr
	}
	g.replies = append(g.replies, text)
	return nil
}

func (g *fakeGateway) Push(_ context.Context, _, text string) error {
	g.pushes = append(g.pushes, text)
	return nil
}

func (g *fakeGateway) ReplyImageCarousel(_ context.Context, _, _ string, columns []line.CarouselColumn) error {
	if g.carouselErr != nil {
		return g.carouselErr
	}
	g.carousels = append(g.carousels, columns)
	return nil
}

func (g *fakeGateway) PushImageCarousel(_ context.Context, _, _ string, columns []line.CarouselColumn) error {
	g.pushCarousel = append(g.pushCarousel, columns)
	return nil
}

func (g *fakeGateway) DownloadContent(_ context.Context, messageID string) ([]byte, error) {
	if g.downloadErr != nil {
		return nil, g.downloadErr
	}
	return g.content[messageID], nil
}

type fakeAnalyzer struct {
	out    dify.Outputs
	err    error
	inputs []dify.SubmitInput
}

func (a *fakeAnalyzer) Submit(_ context.Context, input dify.SubmitInput) (dify.Outputs, error) {
	a.inputs = append(a.inputs, input)
	if a.err != nil {
		return dify.Outputs{}, a.err
	}
	return a.out, nil
}

type fakeGenerator struct {
	enabled bool
	err     error
	prompts []string
}

func (g *fakeGenerator) Enabled() bool { return g.enabled }

func (g *fakeGenerator) GenerateImage(_ context.Context, prompt string) ([]byte, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return nil, g.err
	}
	return []byte("img-" + prompt), nil
}

type fakeCache struct {
	puts int
}

func (c *fakeCache) Put([]byte) string { c.puts++; return "id1" }

func (c *fakeCache) URL(id string) string { return "https://bot.example.com/temp_image/" + id }

func newTestService(gw *fakeGateway, an *fakeAnalyzer, gen *fakeGenerator) (*Service, *Store) {
	store := NewStore(30 * time.Minute)
	svc := NewService(nil, gw, an, gen, &fakeCache{}, store)
	svc.sleep = func(time.Duration) {}
	return svc, store
}

func photoBatch(refs ...string) aggregate.Batch {
	batch := aggregate.Batch{UserID: "u1"}
	for _, ref := range refs {
		batch.Items = append(batch.Items, aggregate.Item{MediaRef: ref, ReplyToken: "tok-" + ref})
	}
	return batch
}

func TestProcessSendsCarouselAndStoresRecipes(t *testing.T) {
	gw := &fakeGateway{content: map[string][]byte{
		"m1": []byte("\x89PNGdata"),
		"m2": {0xff, 0xd8, 0xff, 0x01},
	}}
	an := &fakeAnalyzer{out: dify.Outputs{
		Text:     "碳足跡分析",
		Pictures: []string{"p1", "p2", "p3"},
		Dishes:   []string{"d1", "d2", "d3"},
	}}
	gen := &fakeGenerator{enabled: true}
	svc, store := newTestService(gw, an, gen)

	svc.Process(context.Background(), photoBatch("m1", "m2"))

	require.Len(t, an.inputs, 1)
	assert.Len(t, an.inputs[0].Images, 2)
	assert.False(t, an.inputs[0].FreshRecord)

	require.Len(t, gw.carousels, 1)
	columns := gw.carousels[0]
	require.Len(t, columns, 3)
	assert.Equal(t, "recipe_select=1", columns[0].Action.Data)
	assert.Equal(t, "recipe_select=3", columns[2].Action.Data)
	assert.Equal(t, []string{"p1", "p2", "p3"}, gen.prompts)

	dish, text, ok := store.Dish("u1", 2)
	require.True(t, ok)
	assert.Equal(t, "d2", dish)
	assert.Equal(t, "碳足跡分析", text)
}

func TestProcessRejectsInvalidImage(t *testing.T) {
	gw := &fakeGateway{content: map[string][]byte{"m1": []byte("not an image")}}
	an := &fakeAnalyzer{}
	svc, _ := newTestService(gw, an, &fakeGenerator{enabled: true})

	svc.Process(context.Background(), photoBatch("m1"))

	assert.Empty(t, an.inputs)
	require.Len(t, gw.replies, 1)
	assert.Equal(t, msgInvalidImage, gw.replies[0])
}

func TestProcessAnalysisFailure(t *testing.T) {
	gw := &fakeGateway{content: map[string][]byte{"m1": []byte("\x89PNGdata")}}
	an := &fakeAnalyzer{err: errors.New("boom")}
	svc, _ := newTestService(gw, an, &fakeGenerator{enabled: true})

	svc.Process(context.Background(), photoBatch("m1"))

	require.Len(t, gw.replies, 1)
	assert.Equal(t, msgProcessingError, gw.replies[0])
}

func TestProcessFallsBackToTextWhenGenerationDisabled(t *testing.T) {
	gw := &fakeGateway{content: map[string][]byte{"m1": []byte("\x89PNGdata")}}
	an := &fakeAnalyzer{out: dify.Outputs{
		Text:     "分析結果",
		Pictures: []string{"p1", "", ""},
		Dishes:   []string{"d1", "", ""},
	}}
	svc, _ := newTestService(gw, an, &fakeGenerator{enabled: false})

	svc.Process(context.Background(), photoBatch("m1"))

	assert.Empty(t, gw.carousels)
	require.Len(t, gw.replies, 1)
	assert.Equal(t, "分析結果", gw.replies[0])
}

func TestProcessPushesCarouselWhenReplyTokenSpent(t *testing.T) {
	gw := &fakeGateway{
		content:     map[string][]byte{"m1": []byte("\x89PNGdata")},
		carouselErr: errors.New("invalid reply token"),
	}
	an := &fakeAnalyzer{out: dify.Outputs{
		Text:     "t",
		Pictures: []string{"p1", "", ""},
		Dishes:   []string{"d1", "", ""},
	}}
	svc, _ := newTestService(gw, an, &fakeGenerator{enabled: true})

	svc.Process(context.Background(), photoBatch("m1"))

	require.Len(t, gw.pushCarousel, 1)
	assert.Len(t, gw.pushCarousel[0], 1)
}

func TestHandlePostbackPushesCleanedRecipe(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newTestService(gw, &fakeAnalyzer{}, &fakeGenerator{})
	store.Put("u1", "碳足跡分析", []string{"### 菜餚名稱：番茄炒蛋\n## 步驟\n炒", "", ""})

	svc.HandlePostback(context.Background(), "u1", "recipe_select=1")

	require.Len(t, gw.pushes, 1)
	msg := gw.pushes[0]
	assert.True(t, strings.HasPrefix(msg, "碳足跡分析\n"+strings.Repeat("=", 25)+"\n"))
	assert.NotContains(t, msg, "#")
	assert.Contains(t, msg, "菜餚名稱：番茄炒蛋")
	assert.Contains(t, msg, "步驟")
}

func TestHandlePostbackExpired(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(gw, &fakeAnalyzer{}, &fakeGenerator{})

	svc.HandlePostback(context.Background(), "u1", "recipe_select=1")

	require.Len(t, gw.pushes, 1)
	assert.Equal(t, msgRecipeExpired, gw.pushes[0])
}

func TestHandlePostbackMissingDish(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newTestService(gw, &fakeAnalyzer{}, &fakeGenerator{})
	store.Put("u1", "t", []string{"d1", "", ""})

	svc.HandlePostback(context.Background(), "u1", "recipe_select=2")

	require.Len(t, gw.pushes, 1)
	assert.Equal(t, "找不到編號 2 的食譜", gw.pushes[0])
}

func TestHandlePostbackMalformedData(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(gw, &fakeAnalyzer{}, &fakeGenerator{})

	svc.HandlePostback(context.Background(), "u1", "recipe_select=abc")

	require.Len(t, gw.pushes, 1)
	assert.Equal(t, msgPostbackError, gw.pushes[0])
}

func TestStoreSweepAndExpiry(t *testing.T) {
	store := NewStore(30 * time.Minute)
	base := time.Now()
	store.now = func() time.Time { return base }
	store.Put("u1", "t", []string{"d1"})

	store.now = func() time.Time { return base.Add(31 * time.Minute) }
	_, _, ok := store.Dish("u1", 1)
	assert.False(t, ok)
	assert.Equal(t, 1, store.Sweep())
}
