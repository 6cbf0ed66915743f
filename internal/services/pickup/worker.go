package pickup

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Worker runs RunOnce periodically and on demand.
type Worker struct {
	engine   *Engine
	interval time.Duration
	limit    int

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalProcessed      atomic.Int64
	totalSent           atomic.Int64
	totalErrors         atomic.Int64
	running             atomic.Bool
	lastErrorMu         sync.Mutex
	lastError           string
}

func NewWorker(engine *Engine) *Worker {
	return &Worker{
		engine:            engine,
		interval:          5 * time.Minute,
		limit:             DefaultBatchLimit,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (w *Worker) WithSettings(interval time.Duration, limit int) *Worker {
	if interval > 0 {
		w.interval = interval
	}
	if limit > 0 {
		w.limit = limit
	}
	return w
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (w *Worker) Trigger() {
	w.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCycles    int64      `json:"totalCycles"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalSent      int64      `json:"totalSent"`
	TotalErrors    int64      `json:"totalErrors"`
	Running        bool       `json:"running"`
	LastError      string     `json:"lastError,omitempty"`
}

func (w *Worker) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, w.startedAtUnixNano).UTC(),
		TotalCycles:    w.totalCycles.Load(),
		TotalProcessed: w.totalProcessed.Load(),
		TotalSent:      w.totalSent.Load(),
		TotalErrors:    w.totalErrors.Load(),
		Running:        w.running.Load(),
	}
	if n := w.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := w.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	w.lastErrorMu.Lock()
	st.LastError = w.lastError
	w.lastErrorMu.Unlock()
	return st
}

func (w *Worker) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.cycle(ctx)
		case <-w.triggerCh:
			w.cycle(ctx)
		}
	}
}

func (w *Worker) cycle(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)
	w.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())
	w.totalCycles.Add(1)

	res, err := w.engine.RunOnce(ctx, w.limit)
	if err != nil {
		w.totalErrors.Add(1)
		w.setLastError(err.Error())
		slog.Error("pickup run", "error", err.Error())
	}
	if res == nil {
		return
	}
	w.totalProcessed.Add(int64(res.Processed))
	w.totalSent.Add(int64(res.Sent))
	w.totalErrors.Add(int64(len(res.Errors)))
	if n := len(res.Errors); n > 0 {
		w.setLastError(res.Errors[n-1].Message)
	}
}

func (w *Worker) setLastError(msg string) {
	w.lastErrorMu.Lock()
	w.lastError = msg
	w.lastErrorMu.Unlock()
}
