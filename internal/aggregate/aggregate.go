// Package aggregate coalesces bursts of image events arriving as separate
// webhook deliveries into one batch per user.
package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Item is one buffered image reference. MediaRef is the platform message
// id the content is downloaded by later.
type Item struct {
	MediaRef   string
	ReplyToken string
	ReceivedAt time.Time
}

// Batch is the ordered result of one flush.
type Batch struct {
	UserID string
	Items  []Item
}

// FlushFunc receives a flushed batch on a worker goroutine. It must not be
// nil.
type FlushFunc func(ctx context.Context, batch Batch)

type pending struct {
	items []Item
	timer *time.Timer
	gen   uint64
}

// Aggregator buffers items per user and flushes a batch either when the
// debounce window elapses after the last item, or immediately once a
// platform group hint's declared total is reached. Each burst flushes
// exactly once, in arrival order; flush work runs on a bounded worker pool
// so Ingest never blocks on downstream processing.
type Aggregator struct {
	mu     sync.Mutex
	users  map[string]*pending
	window time.Duration
	flush  FlushFunc
	tasks  chan Batch
	quit   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New builds an aggregator with the given debounce window and starts its
// worker pool.
func New(log *slog.Logger, name string, window time.Duration, workers int, flush FlushFunc) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	a := &Aggregator{
		users:  make(map[string]*pending),
		window: window,
		flush:  flush,
		tasks:  make(chan Batch, workers*4),
		quit:   make(chan struct{}),
		logger: log.With(slog.String("service", "aggregate"), slog.String("name", name)),
	}
	a.startWorkers(workers)
	return a
}

func (a *Aggregator) startWorkers(n int) {
	for i := 0; i < n; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for {
				select {
				case batch := <-a.tasks:
					a.flush(context.Background(), batch)
				case <-a.quit:
					return
				}
			}
		}()
	}
}

// Ingest appends an item to the user's pending batch. groupTotal is the
// platform-declared size of the media group, 0 when absent; reaching it
// pre-empts the debounce timer. Never blocks on flush processing.
func (a *Aggregator) Ingest(userID string, item Item, groupTotal int) {
	if item.ReceivedAt.IsZero() {
		item.ReceivedAt = time.Now()
	}

	a.mu.Lock()
	p, ok := a.users[userID]
	if !ok {
		p = &pending{}
		a.users[userID] = p
	}
	p.items = append(p.items, item)
	p.gen++

	if groupTotal > 0 && len(p.items) >= groupTotal {
		if p.timer != nil {
			p.timer.Stop()
		}
		batch := a.takeLocked(userID, p)
		a.mu.Unlock()
		a.logger.Debug("group complete, flushing early",
			slog.String("user_id", userID), slog.Int("items", len(batch.Items)))
		a.dispatch(batch)
		return
	}

	// Last scheduling wins: every new item resets the window.
	if p.timer != nil {
		p.timer.Stop()
	}
	gen := p.gen
	p.timer = time.AfterFunc(a.window, func() { a.expire(userID, p, gen) })
	a.mu.Unlock()
}

// expire fires when a debounce timer elapses. Stop does not cancel an
// AfterFunc goroutine already running, so a callback can arrive here after
// its burst flushed and a new one started. The pointer check drops
// callbacks from a flushed burst (each burst allocates a fresh pending);
// the generation check drops timers reset within the current burst.
func (a *Aggregator) expire(userID string, p *pending, gen uint64) {
	a.mu.Lock()
	if cur, ok := a.users[userID]; !ok || cur != p || p.gen != gen || len(p.items) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.takeLocked(userID, p)
	a.mu.Unlock()
	a.dispatch(batch)
}

func (a *Aggregator) takeLocked(userID string, p *pending) Batch {
	items := p.items
	delete(a.users, userID)
	return Batch{UserID: userID, Items: items}
}

func (a *Aggregator) dispatch(batch Batch) {
	select {
	case a.tasks <- batch:
	case <-a.quit:
		a.logger.Warn("dropping batch, aggregator stopped",
			slog.String("user_id", batch.UserID), slog.Int("items", len(batch.Items)))
	}
}

// Pending reports how many items are buffered for a user. Test hook.
func (a *Aggregator) Pending(userID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.users[userID]; ok {
		return len(p.items)
	}
	return 0
}

// Stop cancels pending timers and shuts the worker pool down. Buffered
// batches not yet picked up are dropped.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	for userID, p := range a.users {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(a.users, userID)
	}
	a.mu.Unlock()
	close(a.quit)
	a.wg.Wait()
}
