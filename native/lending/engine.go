package lending

import (
	"errors"
	"math/big"

	"lendfarm/crypto"
	nativecommon "lendfarm/native/common"
)

var (
	ErrNilState            = errors.New("lending engine: state not configured")
	ErrUnauthorized        = errors.New("lending engine: caller not authorized")
	ErrPoolExists          = errors.New("lending engine: pool already exists")
	ErrPoolNotFound        = errors.New("lending engine: pool not found")
	ErrAlreadyLending      = errors.New("lending engine: pool already lending")
	ErrMarketListed        = errors.New("lending engine: market already listed")
	ErrMarketNotListed     = errors.New("lending engine: market not listed")
	ErrInvalidAmount       = errors.New("lending engine: amount must be positive")
	ErrInvalidIndex        = errors.New("lending engine: borrow index may not decrease")
	ErrInsufficientBalance = errors.New("lending engine: insufficient balance")
	ErrBorrowDisabled      = errors.New("lending engine: pool is not a lending pool")
	ErrRepayExceedsDebt    = errors.New("lending engine: repay exceeds outstanding debt")
)

const moduleName = "lending"

// ModuleName is the pause key of the ledger.
const ModuleName = moduleName

type engineState interface {
	GetLendingPool(pool crypto.Address) (*Pool, error)
	PutLendingPool(pool crypto.Address, record *Pool) error
	GetLendingMarket(pool, market crypto.Address) (*Market, error)
	PutLendingMarket(pool, market crypto.Address, record *Market) error
	GetSupplyBalance(pool, market, account crypto.Address) (*big.Int, error)
	PutSupplyBalance(pool, market, account crypto.Address, amount *big.Int) error
	GetBorrowSnapshot(pool, market, account crypto.Address) (*BorrowSnapshot, error)
	PutBorrowSnapshot(pool, market, account crypto.Address, snapshot *BorrowSnapshot) error
}

// RewardHooks is the reward engine the ledger notifies before every balance
// mutation.
type RewardHooks interface {
	NotifySupplyChanged(pool, market crypto.Address, accounts ...crypto.Address) error
	NotifyBorrowChanged(pool, market, account crypto.Address, marketBorrowIndex *big.Int) error
	NotifyLendingUpgraded(pool crypto.Address) error
}

// Engine keeps the supply and borrow books of every pool and market.
// Interest-rate models live elsewhere; the pool admin pushes new borrow
// indexes through AccrueInterest.
type Engine struct {
	state   engineState
	rewards RewardHooks
	factory crypto.Address
	pauses  nativecommon.PauseView
}

// NewEngine constructs a ledger that trusts factory to create and upgrade
// pools.
func NewEngine(factory crypto.Address) *Engine {
	return &Engine{factory: factory}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRewards wires the reward engine notified on balance changes.
func (e *Engine) SetRewards(hooks RewardHooks) {
	if e == nil {
		return
	}
	e.rewards = hooks
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// CreatePool registers a new pool owned by admin.
func (e *Engine) CreatePool(caller, pool, admin crypto.Address) error {
	if err := e.guard(); err != nil {
		return err
	}
	if caller != e.factory {
		return ErrUnauthorized
	}
	existing, err := e.state.GetLendingPool(pool)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrPoolExists
	}
	return e.state.PutLendingPool(pool, &Pool{Admin: admin})
}

// UpgradeToLending enables borrowing in the pool and opens the borrow side of
// its reward markets.
func (e *Engine) UpgradeToLending(caller, pool crypto.Address) error {
	if err := e.guard(); err != nil {
		return err
	}
	if caller != e.factory {
		return ErrUnauthorized
	}
	record, err := e.loadPool(pool)
	if err != nil {
		return err
	}
	if record.Lending {
		return ErrAlreadyLending
	}
	record.Lending = true
	if err := e.state.PutLendingPool(pool, record); err != nil {
		return err
	}
	if e.rewards != nil {
		return e.rewards.NotifyLendingUpgraded(pool)
	}
	return nil
}

// ListMarket adds a market to the pool with a unit borrow index.
func (e *Engine) ListMarket(caller, pool, market crypto.Address) error {
	if err := e.guard(); err != nil {
		return err
	}
	record, err := e.loadPool(pool)
	if err != nil {
		return err
	}
	if caller != record.Admin {
		return ErrUnauthorized
	}
	existing, err := e.state.GetLendingMarket(pool, market)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrMarketListed
	}
	if err := e.state.PutLendingMarket(pool, market, &Market{
		TotalSupply:  big.NewInt(0),
		TotalBorrows: big.NewInt(0),
		BorrowIndex:  copyBigInt(expScale),
	}); err != nil {
		return err
	}
	record.Markets = append(record.Markets, market)
	return e.state.PutLendingPool(pool, record)
}

// AccrueInterest moves the market to a new borrow index and grows total
// borrows by the same factor.
func (e *Engine) AccrueInterest(caller, pool, market crypto.Address, newIndex *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	record, err := e.loadPool(pool)
	if err != nil {
		return err
	}
	if caller != record.Admin {
		return ErrUnauthorized
	}
	state, err := e.loadMarket(pool, market)
	if err != nil {
		return err
	}
	if newIndex == nil || newIndex.Cmp(state.BorrowIndex) < 0 {
		return ErrInvalidIndex
	}
	state.TotalBorrows = scaleByIndex(state.TotalBorrows, newIndex, state.BorrowIndex)
	state.BorrowIndex = copyBigInt(newIndex)
	return e.state.PutLendingMarket(pool, market, state)
}

// Mint credits supply to the account.
func (e *Engine) Mint(pool, market, account crypto.Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if !positive(amount) {
		return ErrInvalidAmount
	}
	state, err := e.loadMarket(pool, market)
	if err != nil {
		return err
	}
	if err := e.notifySupply(pool, market, account); err != nil {
		return err
	}
	balance, err := e.supplyBalance(pool, market, account)
	if err != nil {
		return err
	}
	state.TotalSupply = new(big.Int).Add(state.TotalSupply, amount)
	if err := e.state.PutSupplyBalance(pool, market, account, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	return e.state.PutLendingMarket(pool, market, state)
}

// Redeem burns supply from the account.
func (e *Engine) Redeem(pool, market, account crypto.Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if !positive(amount) {
		return ErrInvalidAmount
	}
	state, err := e.loadMarket(pool, market)
	if err != nil {
		return err
	}
	balance, err := e.supplyBalance(pool, market, account)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.notifySupply(pool, market, account); err != nil {
		return err
	}
	state.TotalSupply = new(big.Int).Sub(state.TotalSupply, amount)
	if err := e.state.PutSupplyBalance(pool, market, account, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return e.state.PutLendingMarket(pool, market, state)
}

// Transfer moves supply between accounts. Both holders are settled against
// their balances before the move.
func (e *Engine) Transfer(pool, market, from, to crypto.Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if !positive(amount) {
		return ErrInvalidAmount
	}
	if _, err := e.loadMarket(pool, market); err != nil {
		return err
	}
	fromBalance, err := e.supplyBalance(pool, market, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.notifySupply(pool, market, from, to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	toBalance, err := e.supplyBalance(pool, market, to)
	if err != nil {
		return err
	}
	if err := e.state.PutSupplyBalance(pool, market, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return e.state.PutSupplyBalance(pool, market, to, new(big.Int).Add(toBalance, amount))
}

// Borrow adds debt to the account at the market's current index.
func (e *Engine) Borrow(pool, market, account crypto.Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if !positive(amount) {
		return ErrInvalidAmount
	}
	record, err := e.loadPool(pool)
	if err != nil {
		return err
	}
	if !record.Lending {
		return ErrBorrowDisabled
	}
	state, err := e.loadMarket(pool, market)
	if err != nil {
		return err
	}
	if err := e.notifyBorrow(pool, market, account, state.BorrowIndex); err != nil {
		return err
	}
	stored, err := e.BorrowBalanceStored(pool, market, account)
	if err != nil {
		return err
	}
	snapshot := &BorrowSnapshot{
		Principal:     new(big.Int).Add(stored, amount),
		InterestIndex: copyBigInt(state.BorrowIndex),
	}
	state.TotalBorrows = new(big.Int).Add(state.TotalBorrows, amount)
	if err := e.state.PutBorrowSnapshot(pool, market, account, snapshot); err != nil {
		return err
	}
	return e.state.PutLendingMarket(pool, market, state)
}

// Repay reduces the account's debt.
func (e *Engine) Repay(pool, market, account crypto.Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if !positive(amount) {
		return ErrInvalidAmount
	}
	state, err := e.loadMarket(pool, market)
	if err != nil {
		return err
	}
	stored, err := e.BorrowBalanceStored(pool, market, account)
	if err != nil {
		return err
	}
	if stored.Cmp(amount) < 0 {
		return ErrRepayExceedsDebt
	}
	if err := e.notifyBorrow(pool, market, account, state.BorrowIndex); err != nil {
		return err
	}
	snapshot := &BorrowSnapshot{
		Principal:     new(big.Int).Sub(stored, amount),
		InterestIndex: copyBigInt(state.BorrowIndex),
	}
	state.TotalBorrows = new(big.Int).Sub(state.TotalBorrows, amount)
	if state.TotalBorrows.Sign() < 0 {
		state.TotalBorrows = big.NewInt(0)
	}
	if err := e.state.PutBorrowSnapshot(pool, market, account, snapshot); err != nil {
		return err
	}
	return e.state.PutLendingMarket(pool, market, state)
}

// SetSupplyBalance overwrites an account's supply without notifying the
// reward engine. Bootstrap only: balances seeded this way earn nothing until
// the account is first settled.
func (e *Engine) SetSupplyBalance(pool, market, account crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	state, err := e.loadMarket(pool, market)
	if err != nil {
		return err
	}
	old, err := e.supplyBalance(pool, market, account)
	if err != nil {
		return err
	}
	state.TotalSupply = new(big.Int).Add(new(big.Int).Sub(state.TotalSupply, old), amount)
	if err := e.state.PutSupplyBalance(pool, market, account, copyBigInt(amount)); err != nil {
		return err
	}
	return e.state.PutLendingMarket(pool, market, state)
}

func (e *Engine) notifySupply(pool, market crypto.Address, accounts ...crypto.Address) error {
	if e.rewards == nil {
		return nil
	}
	return e.rewards.NotifySupplyChanged(pool, market, accounts...)
}

func (e *Engine) notifyBorrow(pool, market, account crypto.Address, index *big.Int) error {
	if e.rewards == nil {
		return nil
	}
	return e.rewards.NotifyBorrowChanged(pool, market, account, index)
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) loadPool(pool crypto.Address) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	record, err := e.state.GetLendingPool(pool)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPoolNotFound
	}
	return record.Clone(), nil
}

func (e *Engine) loadMarket(pool, market crypto.Address) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	state, err := e.state.GetLendingMarket(pool, market)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrMarketNotListed
	}
	state = state.Clone()
	if state.BorrowIndex.Sign() == 0 {
		state.BorrowIndex = copyBigInt(expScale)
	}
	return state, nil
}

func (e *Engine) supplyBalance(pool, market, account crypto.Address) (*big.Int, error) {
	balance, err := e.state.GetSupplyBalance(pool, market, account)
	if err != nil {
		return nil, err
	}
	return copyBigInt(balance), nil
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}
