package tracking

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const writerBatchSize = 32

// Writer decouples request handling from log persistence. Enqueue never
// blocks: when the queue is full the log is dropped and counted rather than
// stalling a chat response.
type Writer struct {
	store  Store
	logger *slog.Logger
	queue  chan *Log
	wg     sync.WaitGroup

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	queueMu  sync.RWMutex

	acceptedTotal atomic.Int64
	droppedTotal  atomic.Int64
	failedTotal   atomic.Int64

	hooks WriterHooks
}

// WriterHooks are optional callbacks invoked at pipeline loss points, used to
// feed external metrics. Set them before Start.
type WriterHooks struct {
	OnDrop         func()
	OnWriteFailure func(count int)
}

func (w *Writer) SetHooks(hooks WriterHooks) {
	w.hooks = hooks
}

func NewWriter(store Store, bufferSize int, logger *slog.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:  store,
		logger: logger,
		queue:  make(chan *Log, bufferSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		for {
			select {
			case <-ctx.Done():
				w.drainRemaining()
				return
			case log, ok := <-w.queue:
				if !ok {
					return
				}

				batch := make([]*Log, 0, writerBatchSize)
				if log != nil {
					batch = append(batch, log)
				}
			fill:
				for len(batch) < writerBatchSize {
					select {
					case next, ok := <-w.queue:
						if !ok {
							w.flush(context.Background(), batch)
							return
						}
						if next != nil {
							batch = append(batch, next)
						}
					default:
						break fill
					}
				}
				w.flush(ctx, batch)
			}
		}
	}()
}

// Enqueue offers a log to the background writer. It reports false when the
// writer is stopped or the queue is full.
func (w *Writer) Enqueue(log *Log) bool {
	if log == nil || w.stopped.Load() {
		return false
	}
	w.queueMu.RLock()
	defer w.queueMu.RUnlock()
	if w.stopped.Load() {
		return false
	}

	select {
	case w.queue <- log:
		w.acceptedTotal.Add(1)
		return true
	default:
		w.droppedTotal.Add(1)
		w.logger.Warn("tracking queue full, dropping chat log", "id", log.ID)
		if w.hooks.OnDrop != nil {
			w.hooks.OnDrop()
		}
		return false
	}
}

// Shutdown stops accepting logs, flushes what is queued, and waits for the
// worker up to the context deadline.
func (w *Writer) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		w.queueMu.Lock()
		close(w.queue)
		w.queueMu.Unlock()
		if !w.started.Load() {
			w.drainRemaining()
		}
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports accepted, dropped, and failed log counts since startup.
func (w *Writer) Stats() (accepted, dropped, failed int64) {
	return w.acceptedTotal.Load(), w.droppedTotal.Load(), w.failedTotal.Load()
}

func (w *Writer) drainRemaining() {
	batch := make([]*Log, 0, writerBatchSize)
	for {
		select {
		case log, ok := <-w.queue:
			if !ok {
				w.flush(context.Background(), batch)
				return
			}
			if log != nil {
				batch = append(batch, log)
			}
			if len(batch) >= writerBatchSize {
				w.flush(context.Background(), batch)
				batch = batch[:0]
			}
		default:
			w.flush(context.Background(), batch)
			return
		}
	}
}

func (w *Writer) flush(ctx context.Context, batch []*Log) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()
	failures := 0
	for _, log := range batch {
		if err := w.store.WriteLog(ctx, log); err != nil {
			failures++
			w.logger.Error("write chat log failed", "id", log.ID, "error", err)
		}
	}
	if failures > 0 {
		w.failedTotal.Add(int64(failures))
		if w.hooks.OnWriteFailure != nil {
			w.hooks.OnWriteFailure(failures)
		}
	}
	w.logger.Debug("flushed chat logs", "count", len(batch), "duration", time.Since(start))
}
