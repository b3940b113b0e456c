package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"lendfarm/core/events"
	corestate "lendfarm/core/state"
	"lendfarm/core/types"
	nativecommon "lendfarm/native/common"
	"lendfarm/native/flywheel"
	"lendfarm/native/lending"
	"lendfarm/observability"
	"lendfarm/observability/metrics"
	"lendfarm/storage"
)

var heightKey = []byte("executor/height")

// ErrExecutorClosed is returned once Close has been called.
var ErrExecutorClosed = errors.New("executor: closed")

var failureReasons = map[error]string{
	flywheel.ErrUnauthorized:     "unauthorized",
	flywheel.ErrOverflow:         "overflow",
	flywheel.ErrLengthMismatch:   "invalid_params",
	flywheel.ErrInvalidStream:    "invalid_stream",
	nativecommon.ErrModulePaused: "paused",
	lending.ErrUnauthorized:      "unauthorized",
	lending.ErrInvalidAmount:     "invalid_params",
}

// Engines bundles the collaborators an action runs against. Every field
// shares the same staged write set.
type Engines struct {
	Flywheel *flywheel.Engine
	Ledger   *lending.Engine
	State    *corestate.Manager
}

// Executor serializes actions against the store. Each action runs on a
// write overlay; its writes commit atomically and its events are delivered
// only if it returns nil.
type Executor struct {
	mu      sync.Mutex
	db      storage.Database
	cfg     flywheel.Config
	height  uint64
	logger  *slog.Logger
	metrics *metrics.FlywheelMetrics
	pauses  nativecommon.PauseView
	sinks   events.Fanout
	meters  *actionInstruments
	closed  bool
}

// NewExecutor opens an executor over db, resuming the block height stored by
// a previous run.
func NewExecutor(db storage.Database, cfg flywheel.Config) (*Executor, error) {
	if db == nil {
		return nil, fmt.Errorf("executor: database required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var height uint64
	if _, err := corestate.NewManager(db).KVGet(heightKey, &height); err != nil {
		return nil, fmt.Errorf("executor: load height: %w", err)
	}
	return &Executor{
		db:     db,
		cfg:    cfg,
		height: height,
		logger: slog.Default(),
		meters: newActionInstruments(nil),
	}, nil
}

func (x *Executor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.logger = logger.With(slog.String("component", "executor"))
}

func (x *Executor) SetMetrics(m *metrics.FlywheelMetrics) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.metrics = m
	x.metrics.SetHeight(x.height)
}

// SetMeterProvider replaces the global OTLP meter provider for action
// instruments.
func (x *Executor) SetMeterProvider(provider metric.MeterProvider) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.meters = newActionInstruments(provider)
}

func (x *Executor) SetPauses(p nativecommon.PauseView) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.pauses = p
}

// AddSink registers an emitter that receives committed events, stamped with
// the height they committed at.
func (x *Executor) AddSink(sink events.Emitter) {
	if sink == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.sinks = append(x.sinks, sink)
}

// Height returns the current logical block.
func (x *Executor) Height() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.height
}

// Config returns the reward engine identities.
func (x *Executor) Config() flywheel.Config {
	return x.cfg
}

// AdvanceBlock moves the clock forward by n blocks and persists it.
func (x *Executor) AdvanceBlock(n uint64) (uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return x.height, ErrExecutorClosed
	}
	next := x.height + n
	if next < x.height {
		return x.height, fmt.Errorf("executor: height overflow")
	}
	if err := corestate.NewManager(x.db).KVPut(heightKey, next); err != nil {
		return x.height, err
	}
	x.height = next
	x.metrics.SetHeight(next)
	return next, nil
}

// Apply runs fn as one atomic action at the current height.
func (x *Executor) Apply(ctx context.Context, name string, fn func(*Engines) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	var meters *actionInstruments
	defer func() {
		if !errors.Is(err, ErrExecutorClosed) {
			elapsed := time.Since(start)
			observability.Actions().Observe(name, err, elapsed, failureReasons)
			meters.record(ctx, name, err, elapsed)
		}
	}()
	_, span := otel.Tracer("lendfarm/core").Start(ctx, "executor.apply")
	span.SetAttributes(attribute.String("action", name))
	defer span.End()

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrExecutorClosed
	}
	meters = x.meters
	span.SetAttributes(attribute.Int64("height", int64(x.height)))

	overlay := storage.NewOverlay(x.db)
	buffer := &events.Buffer{}
	engines := x.engines(overlay, buffer)

	if err := fn(engines); err != nil {
		overlay.Discard()
		dropped := len(buffer.Drain())
		observability.Events().RecordDiscarded(dropped)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		x.logger.Debug("action rolled back",
			slog.String("action", name),
			slog.Int("events", dropped),
			slog.Any("error", err))
		return err
	}
	writes := overlay.Pending()
	if err := overlay.Commit(); err != nil {
		observability.Events().RecordDiscarded(len(buffer.Drain()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		x.logger.Error("action commit failed", slog.String("action", name), slog.Any("error", err))
		return fmt.Errorf("executor: commit %s: %w", name, err)
	}
	delivered := x.deliver(buffer.Drain())
	x.logger.Debug("action committed",
		slog.String("action", name),
		slog.Uint64("height", x.height),
		slog.Int("writes", writes),
		slog.Int("events", delivered))
	return nil
}

// View runs fn against a throwaway overlay. Writes and events are dropped, so
// projections that lazily touch state never persist.
func (x *Executor) View(fn func(*Engines) error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrExecutorClosed
	}
	overlay := storage.NewOverlay(x.db)
	defer overlay.Discard()
	return fn(x.engines(overlay, &events.Buffer{}))
}

// Close rejects further actions. The database stays owned by the caller.
func (x *Executor) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
}

func (x *Executor) engines(db storage.Database, buffer *events.Buffer) *Engines {
	manager := corestate.NewManager(db)

	ledger := lending.NewEngine(x.cfg.Factory)
	ledger.SetState(manager)
	ledger.SetPauses(x.pauses)

	rewards := flywheel.NewEngine(x.cfg)
	rewards.SetState(manager)
	rewards.SetLedger(ledger)
	rewards.SetBank(manager)
	rewards.SetEmitter(buffer)
	rewards.SetPauses(x.pauses)
	rewards.SetLogger(x.logger)
	rewards.SetMetrics(x.metrics)
	rewards.SetBlockHeight(x.height)

	ledger.SetRewards(rewards)
	return &Engines{Flywheel: rewards, Ledger: ledger, State: manager}
}

// committedEvent is an event stamped with the height its action committed at.
type committedEvent struct {
	evt *types.Event
}

func (c committedEvent) EventType() string   { return c.evt.Type }
func (c committedEvent) Event() *types.Event { return c.evt }

func (x *Executor) deliver(pending []events.Event) int {
	for _, evt := range pending {
		payload := events.PayloadOf(evt).Clone()
		payload.Height = x.height
		observability.Events().RecordCommitted(payload.Type)
		x.sinks.Emit(committedEvent{evt: payload})
	}
	return len(pending)
}
