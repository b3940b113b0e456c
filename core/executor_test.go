package core

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"lendfarm/core/events"
	"lendfarm/crypto"
	nativecommon "lendfarm/native/common"
	"lendfarm/native/flywheel"
	"lendfarm/storage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

type executorFixture struct {
	exec   *Executor
	db     *storage.MemDB
	sink   *recordingSink
	cfg    flywheel.Config
	pool   crypto.Address
	market crypto.Address
	admin  crypto.Address
	alice  crypto.Address
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	f := &executorFixture{
		db:     storage.NewMemDB(),
		sink:   &recordingSink{},
		pool:   crypto.AddressFromSeed(crypto.PoolPrefix, "pool"),
		market: crypto.AddressFromSeed(crypto.MarketPrefix, "market"),
		admin:  crypto.AddressFromSeed(crypto.AccountPrefix, "admin"),
		alice:  crypto.AddressFromSeed(crypto.AccountPrefix, "alice"),
	}
	t.Cleanup(f.db.Close)
	f.cfg = flywheel.Config{
		NativeToken: crypto.AddressFromSeed(crypto.TokenPrefix, "native"),
		Reserve:     crypto.AddressFromSeed(crypto.AccountPrefix, "reserve"),
		Admin:       f.admin,
		Factory:     crypto.AddressFromSeed(crypto.AccountPrefix, "factory"),
	}
	exec, err := NewExecutor(f.db, f.cfg)
	require.NoError(t, err)
	exec.AddSink(f.sink)
	f.exec = exec
	return f
}

func (f *executorFixture) bootstrap(t *testing.T) {
	t.Helper()
	err := f.exec.Apply(context.Background(), "bootstrap", func(e *Engines) error {
		if err := e.State.RegisterToken(f.cfg.NativeToken, "LF", "Lendfarm", 18); err != nil {
			return err
		}
		if err := e.Ledger.CreatePool(f.cfg.Factory, f.pool, f.admin); err != nil {
			return err
		}
		if err := e.Ledger.ListMarket(f.admin, f.pool, f.market); err != nil {
			return err
		}
		if err := e.Flywheel.SetNativeSpeed(f.admin, big.NewInt(1_000)); err != nil {
			return err
		}
		return e.Flywheel.SetWeights(f.admin, f.pool, []crypto.Address{f.market}, []*big.Int{big.NewInt(1)})
	})
	require.NoError(t, err)
}

func TestExecutorCommitsAndStampsEvents(t *testing.T) {
	f := newExecutorFixture(t)
	_, err := f.exec.AdvanceBlock(10)
	require.NoError(t, err)
	f.bootstrap(t)

	require.Contains(t, f.sink.types(), flywheel.EventTypeMarketRegistered)
	for _, evt := range f.sink.events {
		payload := events.PayloadOf(evt)
		require.Equal(t, uint64(10), payload.Height)
	}

	err = f.exec.View(func(e *Engines) error {
		ok, err := e.Flywheel.IsNativeMarket(f.pool, f.market)
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestExecutorRollsBackFailedAction(t *testing.T) {
	f := newExecutorFixture(t)
	f.bootstrap(t)
	delivered := len(f.sink.types())

	boom := errors.New("boom")
	err := f.exec.Apply(context.Background(), "mint-then-fail", func(e *Engines) error {
		if err := e.Ledger.Mint(f.pool, f.market, f.alice, big.NewInt(500)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Len(t, f.sink.types(), delivered, "events of a failed action must be dropped")

	err = f.exec.View(func(e *Engines) error {
		balance, err := e.Ledger.SupplyBalance(f.pool, f.market, f.alice)
		require.NoError(t, err)
		require.Equal(t, 0, balance.Sign())
		return nil
	})
	require.NoError(t, err)
}

func TestExecutorAccruesAcrossBlocks(t *testing.T) {
	f := newExecutorFixture(t)
	f.bootstrap(t)
	ctx := context.Background()

	require.NoError(t, f.exec.Apply(ctx, "mint", func(e *Engines) error {
		return e.Ledger.Mint(f.pool, f.market, f.alice, big.NewInt(1_000))
	}))
	_, err := f.exec.AdvanceBlock(5)
	require.NoError(t, err)

	var projected flywheel.Projection
	require.NoError(t, f.exec.View(func(e *Engines) error {
		var err error
		projected, err = e.Flywheel.PendingAmount(f.alice, e.Flywheel.NativeStreamID(), nil, true, false)
		return err
	}))
	require.Equal(t, int64(5_000), projected.Total.Int64())

	require.NoError(t, f.exec.Apply(ctx, "fund", func(e *Engines) error {
		return e.State.SetBalance(f.cfg.NativeToken, f.cfg.Reserve, big.NewInt(1_000_000))
	}))

	var results []flywheel.ClaimResult
	require.NoError(t, f.exec.Apply(ctx, "claim", func(e *Engines) error {
		var err error
		results, err = e.Flywheel.Claim(flywheel.ClaimRequest{
			Caller:  f.alice,
			Account: f.alice,
			Streams: []flywheel.StreamID{e.Flywheel.NativeStreamID()},
			Supply:  true,
		})
		return err
	}))
	require.Len(t, results, 1)
	require.Equal(t, int64(5_000), results[0].Claimed.Int64())

	require.NoError(t, f.exec.View(func(e *Engines) error {
		balance, err := e.State.Balance(f.cfg.NativeToken, f.alice)
		require.NoError(t, err)
		require.Equal(t, int64(5_000), balance.Int64())
		return nil
	}))
}

func TestExecutorResumesHeight(t *testing.T) {
	f := newExecutorFixture(t)
	height, err := f.exec.AdvanceBlock(42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), height)

	reopened, err := NewExecutor(f.db, f.cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(42), reopened.Height())

	reopened.Close()
	err = reopened.Apply(context.Background(), "noop", func(*Engines) error { return nil })
	require.ErrorIs(t, err, ErrExecutorClosed)
}

func TestProjectionMatchesSameBlockClaim(t *testing.T) {
	f := newExecutorFixture(t)
	f.bootstrap(t)
	ctx := context.Background()
	guest := crypto.AddressFromSeed(crypto.TokenPrefix, "guest")
	bob := crypto.AddressFromSeed(crypto.AccountPrefix, "bob")

	require.NoError(t, f.exec.Apply(ctx, "setup", func(e *Engines) error {
		if err := e.State.RegisterToken(guest, "GST", "Guest", 18); err != nil {
			return err
		}
		if err := e.Ledger.UpgradeToLending(f.cfg.Factory, f.pool); err != nil {
			return err
		}
		if err := e.Flywheel.SetTokenFarm(f.admin, f.pool, guest, 0, 1_000); err != nil {
			return err
		}
		if err := e.Flywheel.SetSpeeds(f.admin, f.pool, guest, []crypto.Address{f.market}, []*big.Int{big.NewInt(700)}); err != nil {
			return err
		}
		if err := e.State.SetBalance(f.cfg.NativeToken, f.cfg.Reserve, big.NewInt(1_000_000_000)); err != nil {
			return err
		}
		return e.State.SetBalance(guest, f.pool, big.NewInt(1_000_000_000))
	}))

	require.NoError(t, f.exec.Apply(ctx, "positions", func(e *Engines) error {
		if err := e.Ledger.Mint(f.pool, f.market, f.alice, big.NewInt(3_000)); err != nil {
			return err
		}
		if err := e.Ledger.Mint(f.pool, f.market, bob, big.NewInt(1_300)); err != nil {
			return err
		}
		if err := e.Ledger.Borrow(f.pool, f.market, f.alice, big.NewInt(700)); err != nil {
			return err
		}
		return e.Ledger.Borrow(f.pool, f.market, bob, big.NewInt(900))
	}))
	_, err := f.exec.AdvanceBlock(7)
	require.NoError(t, err)

	require.NoError(t, f.exec.Apply(ctx, "interest", func(e *Engines) error {
		return e.Ledger.AccrueInterest(f.admin, f.pool, f.market, big.NewInt(1_130_000_000_000_000_000))
	}))
	_, err = f.exec.AdvanceBlock(4)
	require.NoError(t, err)
	require.NoError(t, f.exec.Apply(ctx, "more", func(e *Engines) error {
		if err := e.Ledger.Borrow(f.pool, f.market, bob, big.NewInt(250)); err != nil {
			return err
		}
		return e.Ledger.AccrueInterest(f.admin, f.pool, f.market, big.NewInt(1_210_000_000_000_000_000))
	}))
	_, err = f.exec.AdvanceBlock(9)
	require.NoError(t, err)

	streams := []flywheel.StreamID{flywheel.NativeStream(f.cfg.NativeToken), flywheel.GuestStream(f.pool, guest)}
	projected := make(map[flywheel.StreamID]*big.Int, len(streams))
	require.NoError(t, f.exec.View(func(e *Engines) error {
		for _, stream := range streams {
			p, err := e.Flywheel.PendingAmount(f.alice, stream, nil, true, true)
			if err != nil {
				return err
			}
			projected[stream] = p.Total
		}
		return nil
	}))

	var results []flywheel.ClaimResult
	require.NoError(t, f.exec.Apply(ctx, "claim", func(e *Engines) error {
		var err error
		results, err = e.Flywheel.Claim(flywheel.ClaimRequest{
			Caller:  f.alice,
			Account: f.alice,
			Streams: streams,
			Supply:  true,
			Borrow:  true,
		})
		return err
	}))
	require.Len(t, results, len(streams))
	for _, result := range results {
		want, ok := projected[result.Stream]
		if !ok {
			t.Fatalf("unexpected stream %s in claim results", result.Stream)
		}
		if want.Sign() <= 0 {
			t.Fatalf("stream %s: expected a positive projection", result.Stream)
		}
		if result.Claimed.Cmp(want) != 0 {
			t.Fatalf("stream %s: projected %s, claimed %s", result.Stream, want, result.Claimed)
		}
		require.Equal(t, 0, result.NotClaimed.Sign())
	}

	require.NoError(t, f.exec.View(func(e *Engines) error {
		for _, stream := range streams {
			balance, err := e.State.Balance(stream.Token, f.alice)
			require.NoError(t, err)
			require.Equal(t, projected[stream].String(), balance.String())
		}
		return nil
	}))
}

func TestLendingUpgradeRunsWhileFlywheelPaused(t *testing.T) {
	f := newExecutorFixture(t)
	f.bootstrap(t)
	pauses := nativecommon.NewPauseSet(flywheel.ModuleName)
	f.exec.SetPauses(pauses)
	_, err := f.exec.AdvanceBlock(3)
	require.NoError(t, err)

	require.NoError(t, f.exec.Apply(context.Background(), "upgrade", func(e *Engines) error {
		return e.Ledger.UpgradeToLending(f.cfg.Factory, f.pool)
	}))
	require.NoError(t, f.exec.View(func(e *Engines) error {
		state, err := e.Flywheel.MarketState(e.Flywheel.NativeStreamID(), f.pool, f.market)
		require.NoError(t, err)
		require.Equal(t, uint64(3), state.BorrowBlock)
		return nil
	}))

	err = f.exec.Apply(context.Background(), "speed", func(e *Engines) error {
		return e.Flywheel.SetNativeSpeed(f.admin, big.NewInt(1))
	})
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestExecutorRecordsActionInstruments(t *testing.T) {
	f := newExecutorFixture(t)
	reader := sdkmetric.NewManualReader()
	f.exec.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	f.bootstrap(t)
	ctx := context.Background()
	err := f.exec.Apply(ctx, "fail", func(*Engines) error { return errors.New("boom") })
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	counts := make(map[string]int64)
	var histograms int
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name != "lendfarm.executor.actions" {
					continue
				}
				for _, dp := range data.DataPoints {
					action, _ := dp.Attributes.Value("action")
					outcome, _ := dp.Attributes.Value("outcome")
					counts[action.AsString()+"/"+outcome.AsString()] += dp.Value
				}
			case metricdata.Histogram[float64]:
				if m.Name == "lendfarm.executor.action_duration" {
					histograms += len(data.DataPoints)
				}
			}
		}
	}
	require.Equal(t, int64(1), counts["bootstrap/ok"])
	require.Equal(t, int64(1), counts["fail/error"])
	if histograms != 2 {
		t.Fatalf("expected two duration series, got %d", histograms)
	}
}
