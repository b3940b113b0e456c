package flywheel

import (
	"math/big"

	"lendfarm/crypto"
)

// registerNativeMarket creates the market state for the weighted stream. The
// borrow clock only starts once the pool can lend.
func (e *Engine) registerNativeMarket(pool, market crypto.Address, record *PoolRecord, weight *big.Int) error {
	now := e.blockHeight
	state := &MarketState{
		Rate:        copyBigInt(weight),
		SupplyIndex: InitialIndex(),
		SupplyBlock: now,
		BorrowIndex: InitialIndex(),
	}
	if record.Lending {
		state.BorrowBlock = now
	}
	stream := e.NativeStreamID()
	if err := e.state.PutMarketState(MarketKey{Stream: stream, Pool: pool, Market: market}, state); err != nil {
		return err
	}
	record.Markets = append(record.Markets, market)
	e.emit(NewMarketRegisteredEvent(stream, pool, market))
	return nil
}

// registerTokenMarket creates the market state for a guest stream. Both
// clocks start at the later of now and the window start.
func (e *Engine) registerTokenMarket(stream StreamID, market crypto.Address, farm *TokenFarm, speed *big.Int) error {
	start := e.blockHeight
	if farm.StartBlock > start {
		start = farm.StartBlock
	}
	state := &MarketState{
		Rate:        copyBigInt(speed),
		SupplyIndex: InitialIndex(),
		SupplyBlock: start,
		BorrowIndex: InitialIndex(),
		BorrowBlock: start,
	}
	if err := e.state.PutMarketState(MarketKey{Stream: stream, Pool: stream.Pool, Market: market}, state); err != nil {
		return err
	}
	farm.Markets = append(farm.Markets, market)
	e.emit(NewMarketRegisteredEvent(stream, stream.Pool, market))
	return nil
}

// Pools returns the pools registered in the weighted stream in registration
// order.
func (e *Engine) Pools() ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	native, err := e.loadNative()
	if err != nil {
		return nil, err
	}
	return native.Pools, nil
}

// PoolCount returns the number of pools in the weighted stream.
func (e *Engine) PoolCount() (int, error) {
	pools, err := e.Pools()
	return len(pools), err
}

// MarketCount returns the number of markets in the weighted stream across all
// pools.
func (e *Engine) MarketCount() (int, error) {
	pools, err := e.Pools()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, pool := range pools {
		record, err := e.loadPool(pool)
		if err != nil {
			return 0, err
		}
		count += len(record.Markets)
	}
	return count, nil
}

// Markets returns the markets registered to the stream in the pool.
func (e *Engine) Markets(stream StreamID, pool crypto.Address) ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if stream.IsNative() {
		record, err := e.loadPool(pool)
		if err != nil {
			return nil, err
		}
		return record.Markets, nil
	}
	farm, err := e.state.GetTokenFarm(stream.Pool, stream.Token)
	if err != nil {
		return nil, err
	}
	if farm == nil || farm.Markets == nil {
		return []crypto.Address{}, nil
	}
	return append([]crypto.Address(nil), farm.Markets...), nil
}

// IsNativeMarket reports whether the market joined the weighted stream.
func (e *Engine) IsNativeMarket(pool, market crypto.Address) (bool, error) {
	state, err := e.MarketState(e.NativeStreamID(), pool, market)
	return state != nil, err
}

// IsNativePool reports whether the pool joined the weighted stream.
func (e *Engine) IsNativePool(pool crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	record, err := e.loadPool(pool)
	if err != nil {
		return false, err
	}
	return record.Registered, nil
}

// IsLendingPool reports whether the factory upgraded the pool to lending.
func (e *Engine) IsLendingPool(pool crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	record, err := e.loadPool(pool)
	if err != nil {
		return false, err
	}
	return record.Lending, nil
}

// Tokens returns the guest tokens farmed in the pool.
func (e *Engine) Tokens(pool crypto.Address) ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	tokens, err := e.state.GetPoolTokens(pool)
	if err != nil {
		return nil, err
	}
	return append([]crypto.Address{}, tokens...), nil
}

// TokenFarm returns the window of a guest token, or nil when never set.
func (e *Engine) TokenFarm(pool, token crypto.Address) (*TokenFarm, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	farm, err := e.state.GetTokenFarm(pool, token)
	if err != nil {
		return nil, err
	}
	return farm.Clone(), nil
}

// MarketState returns a copy of the market's reward state, or nil when the
// market never joined the stream.
func (e *Engine) MarketState(stream StreamID, pool, market crypto.Address) (*MarketState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	state, err := e.state.GetMarketState(MarketKey{Stream: stream, Pool: pool, Market: market})
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// NativeSpeed returns the weighted stream's emission per block.
func (e *Engine) NativeSpeed() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	native, err := e.loadNative()
	if err != nil {
		return nil, err
	}
	return native.Speed, nil
}

// TotalWeight returns the live sum of every native market weight.
func (e *Engine) TotalWeight() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	native, err := e.loadNative()
	if err != nil {
		return nil, err
	}
	return native.TotalWeight, nil
}

// MarketRate returns the market's current emission per block in the stream.
// Non-members emit nothing.
func (e *Engine) MarketRate(stream StreamID, pool, market crypto.Address) (*big.Int, error) {
	state, err := e.MarketState(stream, pool, market)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return big.NewInt(0), nil
	}
	return e.marketRate(stream, state)
}

// Pending returns the stored claimable balance of the account.
func (e *Engine) Pending(stream StreamID, account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadPending(stream, account)
}

// Checkpoint returns the index the account last settled against. Zero means
// never settled.
func (e *Engine) Checkpoint(stream StreamID, pool, market crypto.Address, side Side, account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	key := CheckpointKey{MarketKey: MarketKey{Stream: stream, Pool: pool, Market: market}, Side: side, Account: account}
	index, err := e.state.GetCheckpoint(key)
	if err != nil {
		return nil, err
	}
	return copyBigInt(index), nil
}

// IsDelegate reports whether the account may claim on behalf of others.
func (e *Engine) IsDelegate(account crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	return e.state.GetDelegate(account)
}
