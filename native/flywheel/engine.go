package flywheel

import (
	"log/slog"
	"math/big"

	"lendfarm/core/events"
	"lendfarm/core/types"
	"lendfarm/crypto"
	nativecommon "lendfarm/native/common"
	"lendfarm/observability/metrics"
)

const moduleName = "flywheel"

// ModuleName is the pause key guarding the engine's mutations.
const ModuleName = moduleName

type engineState interface {
	GetNative() (*NativeState, error)
	PutNative(native *NativeState) error
	GetPool(pool crypto.Address) (*PoolRecord, error)
	PutPool(pool crypto.Address, record *PoolRecord) error
	GetPoolTokens(pool crypto.Address) ([]crypto.Address, error)
	PutPoolTokens(pool crypto.Address, tokens []crypto.Address) error
	GetTokenFarm(pool, token crypto.Address) (*TokenFarm, error)
	PutTokenFarm(pool, token crypto.Address, farm *TokenFarm) error
	GetMarketState(key MarketKey) (*MarketState, error)
	PutMarketState(key MarketKey, state *MarketState) error
	GetCheckpoint(key CheckpointKey) (*big.Int, error)
	PutCheckpoint(key CheckpointKey, index *big.Int) error
	GetPending(stream StreamID, account crypto.Address) (*big.Int, error)
	PutPending(stream StreamID, account crypto.Address, amount *big.Int) error
	GetDelegate(account crypto.Address) (bool, error)
	PutDelegate(account crypto.Address, allowed bool) error
}

// PoolLedger is the pool and market layer the engine reads balances from.
// BorrowBalanceStored includes interest up to the market's current borrow
// index; the engine normalizes it back to principal.
type PoolLedger interface {
	IsParticipatingPool(pool crypto.Address) bool
	IsLendingEnabled(pool crypto.Address) bool
	IsMarketListed(pool, market crypto.Address) bool
	PoolAdmin(pool crypto.Address) crypto.Address
	TotalSupply(pool, market crypto.Address) (*big.Int, error)
	TotalBorrows(pool, market crypto.Address) (*big.Int, error)
	BorrowIndex(pool, market crypto.Address) (*big.Int, error)
	SupplyBalance(pool, market, account crypto.Address) (*big.Int, error)
	BorrowBalanceStored(pool, market, account crypto.Address) (*big.Int, error)
}

// Bank moves reward-token balances.
type Bank interface {
	Balance(token, holder crypto.Address) (*big.Int, error)
	Transfer(token, from, to crypto.Address, amount *big.Int) error
}

// Engine lazily accrues and distributes reward streams across pools and
// markets. It is not safe for concurrent use; the host serializes actions.
type Engine struct {
	state       engineState
	ledger      PoolLedger
	bank        Bank
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	logger      *slog.Logger
	metrics     *metrics.FlywheelMetrics
	cfg         Config
	blockHeight uint64
}

// NewEngine constructs an engine trusting the configured identities.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetLedger wires the pool and market collaborator.
func (e *Engine) SetLedger(ledger PoolLedger) {
	if e == nil {
		return
	}
	e.ledger = ledger
}

// SetBank wires the reward-token balance mover.
func (e *Engine) SetBank(bank Bank) {
	if e == nil {
		return
	}
	e.bank = bank
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With(slog.String("module", moduleName))
}

func (e *Engine) SetMetrics(m *metrics.FlywheelMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// SetBlockHeight records the logical clock used for every accrual delta.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

// BlockHeight returns the current logical clock.
func (e *Engine) BlockHeight() uint64 {
	if e == nil {
		return 0
	}
	return e.blockHeight
}

// Config returns the identities the engine trusts.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.cfg
}

// NativeStreamID returns the identifier of the weighted stream.
func (e *Engine) NativeStreamID() StreamID {
	return NativeStream(e.cfg.NativeToken)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.ledger == nil {
		return ErrNilLedger
	}
	return nil
}

func (e *Engine) guard() error {
	if err := e.ready(); err != nil {
		return err
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

type flywheelEvent struct {
	evt *types.Event
}

func (f flywheelEvent) EventType() string {
	if f.evt == nil {
		return ""
	}
	return f.evt.Type
}

func (f flywheelEvent) Event() *types.Event {
	return f.evt
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(flywheelEvent{evt: event})
}

// distributor returns the account that funds payouts of the stream.
func (e *Engine) distributor(stream StreamID) crypto.Address {
	if stream.IsNative() {
		return e.cfg.Reserve
	}
	return stream.Pool
}

// streamAdmin returns the account allowed to administer the stream.
func (e *Engine) streamAdmin(stream StreamID) crypto.Address {
	if stream.IsNative() {
		return e.cfg.Admin
	}
	return e.ledger.PoolAdmin(stream.Pool)
}

func (e *Engine) validStream(stream StreamID) error {
	switch stream.Kind {
	case StreamNative:
		if stream.Token != e.cfg.NativeToken {
			return ErrInvalidStream
		}
		return nil
	case StreamGuest:
		farm, err := e.state.GetTokenFarm(stream.Pool, stream.Token)
		if err != nil {
			return err
		}
		if farm == nil {
			return ErrTokenNotAdded
		}
		return nil
	default:
		return ErrInvalidStream
	}
}

func (e *Engine) loadNative() (*NativeState, error) {
	native, err := e.state.GetNative()
	if err != nil {
		return nil, err
	}
	return native.Clone(), nil
}

func (e *Engine) loadPool(pool crypto.Address) (*PoolRecord, error) {
	record, err := e.state.GetPool(pool)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (e *Engine) loadPending(stream StreamID, account crypto.Address) (*big.Int, error) {
	pending, err := e.state.GetPending(stream, account)
	if err != nil {
		return nil, err
	}
	return copyBigInt(pending), nil
}
