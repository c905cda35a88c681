// Package worker owns the single goroutine with write authority over the
// usage store. Callers talk to it exclusively through asynchronous command
// and result messages; commands from one caller are processed strictly in
// arrival order, so a later query always observes an earlier update.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/runnerr0/tally/internal/engine"
	"github.com/runnerr0/tally/internal/query"
	"github.com/runnerr0/tally/internal/storage"
)

// DefaultQueueSize is the command buffer size when none is configured.
const DefaultQueueSize = 64

// ErrQueueFull is returned when a command cannot be enqueued without
// blocking. Updates are fire-and-forget by policy: a dropped update
// under-counts a day, it never blocks the caller.
var ErrQueueFull = errors.New("worker queue full")

// Worker drains commands one at a time. A command's full read-modify-write
// completes before the next command starts, which rules out lost updates
// between commands.
type Worker struct {
	engine  *engine.Engine
	queries *query.Service
	log     zerolog.Logger

	cmds    chan Command
	results chan Result
	ready   chan struct{}
	done    chan struct{}

	readyOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	seq       atomic.Uint64
}

// Option configures a Worker.
type Option func(*Worker) error

// WithLogger sets the worker's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Worker) error {
		w.log = log
		return nil
	}
}

// WithQueueSize sets the command buffer size.
func WithQueueSize(n int) Option {
	return func(w *Worker) error {
		if n <= 0 {
			return fmt.Errorf("queue size must be positive, got %d", n)
		}
		w.cmds = make(chan Command, n)
		w.results = make(chan Result, n)
		return nil
	}
}

// New creates a Worker over an engine and query service sharing one store.
// Commands may be enqueued before Start; they sit in the buffer until the
// worker is running.
func New(eng *engine.Engine, queries *query.Service, opts ...Option) (*Worker, error) {
	w := &Worker{
		engine:  eng,
		queries: queries,
		log:     zerolog.Nop(),
		cmds:    make(chan Command, DefaultQueueSize),
		results: make(chan Result, DefaultQueueSize),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Start verifies the store is reachable, signals readiness exactly once, and
// begins draining commands. It returns an error without starting when the
// store cannot be read, so a broken store surfaces at startup rather than as
// a stream of failed commands. Calling Start again on a running worker is a
// no-op; there is only ever one drain goroutine.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.queries.GetAll(ctx); err != nil {
		return fmt.Errorf("store not ready: %w", err)
	}

	w.readyOnce.Do(func() { close(w.ready) })

	if !w.started.CompareAndSwap(false, true) {
		return nil
	}
	w.log.Debug().Msg("worker ready")

	go w.run(ctx)
	return nil
}

// Ready is closed once the worker's store connection has been verified.
func (w *Worker) Ready() <-chan struct{} { return w.ready }

// Done is closed after the drain loop exits.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Results delivers acks and query results. The channel is buffered; when a
// caller stops reading, further results are dropped with a log line rather
// than wedging the worker.
func (w *Worker) Results() <-chan Result { return w.results }

// Stop closes the command queue. Buffered commands are still drained in
// order before Done closes.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.cmds) })
}

// SendUpdate enqueues an update command without blocking. It returns the
// command's sequence number and false when the queue is full.
func (w *Worker) SendUpdate(ev engine.Event) (uint64, bool) {
	seq := w.seq.Add(1)
	select {
	case w.cmds <- UpdateCommand{Seq: seq, Event: ev}:
		return seq, true
	default:
		w.log.Warn().Uint64("seq", seq).Str("entity", ev.EntityID).
			Msg("queue full, dropping update")
		return seq, false
	}
}

// SendQuery enqueues a query command without blocking.
func (w *Worker) SendQuery(scope QueryScope, dateKey string) (uint64, bool) {
	seq := w.seq.Add(1)
	select {
	case w.cmds <- QueryCommand{Seq: seq, Scope: scope, DateKey: dateKey}:
		return seq, true
	default:
		w.log.Warn().Uint64("seq", seq).Stringer("scope", scope).
			Msg("queue full, dropping query")
		return seq, false
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.log.Debug().Msg("worker stopping")
			return
		case cmd, ok := <-w.cmds:
			if !ok {
				return
			}
			w.handle(ctx, cmd)
		}
	}
}

func (w *Worker) handle(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case UpdateCommand:
		err := w.engine.RecordEvent(ctx, c.Event)
		w.emit(Ack{Seq: c.Seq, Err: err})

	case QueryCommand:
		res := QueryResult{Seq: c.Seq, Scope: c.Scope, DateKey: c.DateKey}
		switch c.Scope {
		case ScopeAll:
			res.Records, res.Err = w.queries.GetAll(ctx)
		case ScopeByDate:
			res.Day, res.Err = w.queries.GetByDate(ctx, c.DateKey)
		default:
			res.Err = fmt.Errorf("unknown query scope %d", c.Scope)
		}
		w.emit(res)

	default:
		w.log.Error().Msgf("unhandled command type %T", cmd)
	}
}

func (w *Worker) emit(res Result) {
	select {
	case w.results <- res:
	default:
		w.log.Warn().Msgf("result channel full, dropping %T", res)
	}
}

// Dispatcher is the caller-side half of the bridge: it pairs a command with
// its result by sequence number. One dispatcher serializes its callers, which
// matches the single-caller deployment the ordering guarantee assumes.
type Dispatcher struct {
	worker *Worker
	mu     sync.Mutex
}

// NewDispatcher wraps a worker with request/response correlation.
func NewDispatcher(w *Worker) *Dispatcher {
	return &Dispatcher{worker: w}
}

// Update dispatches one event and waits for its ack. The returned error is
// the engine's failure for this one event, or ErrQueueFull / ctx.Err().
func (d *Dispatcher) Update(ctx context.Context, ev engine.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	seq, ok := d.worker.SendUpdate(ev)
	if !ok {
		return ErrQueueFull
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-d.worker.Results():
			if ack, ok := res.(Ack); ok && ack.Seq == seq {
				return ack.Err
			}
		}
	}
}

// QueryAll dispatches a ScopeAll query and waits for its result.
func (d *Dispatcher) QueryAll(ctx context.Context) ([]storage.CounterRecord, error) {
	res, err := d.query(ctx, ScopeAll, "")
	if err != nil {
		return nil, err
	}
	return res.Records, res.Err
}

// QueryByDate dispatches a ScopeByDate query and waits for its result.
func (d *Dispatcher) QueryByDate(ctx context.Context, dateKey string) ([]query.DayUsage, error) {
	res, err := d.query(ctx, ScopeByDate, dateKey)
	if err != nil {
		return nil, err
	}
	return res.Day, res.Err
}

func (d *Dispatcher) query(ctx context.Context, scope QueryScope, dateKey string) (QueryResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seq, ok := d.worker.SendQuery(scope, dateKey)
	if !ok {
		return QueryResult{}, ErrQueueFull
	}

	for {
		select {
		case <-ctx.Done():
			return QueryResult{}, ctx.Err()
		case res := <-d.worker.Results():
			if qr, ok := res.(QueryResult); ok && qr.Seq == seq {
				return qr, nil
			}
		}
	}
}
