package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

// Inserter persists one reading.
type Inserter interface {
	Insert(ctx context.Context, r *entities.Reading) error
}

// Mirror receives a copy of every persisted reading. It must not block.
type Mirror interface {
	Mirror(r entities.Reading)
}

// Writer persists accepted readings off the caller's goroutine and tracks the last
// write error for /healthz and /readyz.
type Writer struct {
	store   Inserter
	workers int
	timeout time.Duration
	log     *zap.Logger

	queue  chan entities.Reading
	wg     sync.WaitGroup
	mirror []Mirror

	mu     sync.RWMutex // guards closed and the queue close
	closed bool

	statsMu sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

func NewWriter(store Inserter, queueSize, workers int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		store:   store,
		workers: workers,
		timeout: 5 * time.Second,
		log:     log,
		queue:   make(chan entities.Reading, queueSize),
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
	}
}

// AddMirror registers m. Call before Start.
func (w *Writer) AddMirror(m Mirror) {
	w.mirror = append(w.mirror, m)
}

func (w *Writer) Start() {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
}

// Submit queues r without blocking. A full queue drops the reading.
func (w *Writer) Submit(r entities.Reading) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- r:
		return true
	default:
	}
	w.log.Error("persistence queue full, reading dropped",
		zap.String("channel", r.Channel), zap.String("device_id", r.DeviceID))
	w.markError("dropped")
	return false
}

// Close stops accepting readings and waits for the queue to drain.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for r := range w.queue {
		w.persist(r)
	}
}

func (w *Writer) persist(r entities.Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	_ = w.Persist(ctx, &r)
}

// Persist stores r on the caller's goroutine and fans it out to the mirrors.
// r.ID is set on success.
func (w *Writer) Persist(ctx context.Context, r *entities.Reading) error {
	if err := w.store.Insert(ctx, r); err != nil {
		w.log.Error("persistence: write error",
			zap.String("channel", r.Channel), zap.String("device_id", r.DeviceID), zap.Error(err))
		w.markError("failed")
		return err
	}
	w.mark("persisted")
	for _, m := range w.mirror {
		m.Mirror(*r)
	}
	return nil
}

func (w *Writer) markError(kind string) {
	w.statsMu.Lock()
	w.lastErr = time.Now()
	w.counts[kind]++
	w.statsMu.Unlock()
}

func (w *Writer) mark(kind string) {
	w.statsMu.Lock()
	w.counts[kind]++
	w.statsMu.Unlock()
}

// LastErrorAge reports how long ago the last write failed.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.statsMu.RLock()
	t := w.lastErr
	w.statsMu.RUnlock()
	return time.Since(t)
}

// Count returns how many readings ended as kind: persisted, failed or dropped.
func (w *Writer) Count(kind string) int64 {
	if w == nil {
		return 0
	}
	w.statsMu.RLock()
	c := w.counts[kind]
	w.statsMu.RUnlock()
	return c
}

// MirrorFunc adapts a function to Mirror.
type MirrorFunc func(r entities.Reading)

func (f MirrorFunc) Mirror(r entities.Reading) { f(r) }
