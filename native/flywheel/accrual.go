package flywheel

import (
	"fmt"
	"math/big"

	"lendfarm/crypto"
)

// accrue brings one side of a market's index up to the current block. A
// market that never joined the stream is left alone.
func (e *Engine) accrue(stream StreamID, pool, market crypto.Address, side Side) error {
	return e.accrueAt(stream, pool, market, side, nil)
}

// accrueAt is accrue with the market borrow index supplied by the caller. A
// nil index is read from the ledger.
func (e *Engine) accrueAt(stream StreamID, pool, market crypto.Address, side Side, borrowIndex *big.Int) error {
	key := MarketKey{Stream: stream, Pool: pool, Market: market}
	current, err := e.state.GetMarketState(key)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	next, changed, err := e.projectAccrual(key, current, side, borrowIndex)
	if err != nil {
		return fmt.Errorf("accrue %s %s: %w", stream, side, err)
	}
	if !changed {
		e.metrics.ObserveAccrual(stream.Kind.String(), side.String(), "skipped")
		return nil
	}
	if err := e.state.PutMarketState(key, next); err != nil {
		return err
	}
	e.metrics.ObserveAccrual(stream.Kind.String(), side.String(), "advanced")
	return nil
}

// accrueMarket flushes both sides of a market.
func (e *Engine) accrueMarket(stream StreamID, pool, market crypto.Address) error {
	for _, side := range Sides(true, true) {
		if err := e.accrue(stream, pool, market, side); err != nil {
			return err
		}
	}
	return nil
}

// accrueAllNative flushes every market of every pool in the weighted stream.
// Any change to the speed or to a weight moves every market's share, so all
// of them settle under the old rates first.
func (e *Engine) accrueAllNative() error {
	native, err := e.loadNative()
	if err != nil {
		return err
	}
	stream := e.NativeStreamID()
	for _, pool := range native.Pools {
		record, err := e.loadPool(pool)
		if err != nil {
			return err
		}
		for _, market := range record.Markets {
			if err := e.accrueMarket(stream, pool, market); err != nil {
				return err
			}
		}
	}
	return nil
}

// projectAccrual computes the state one accrual step would produce without
// writing it. The boolean reports whether anything moved.
func (e *Engine) projectAccrual(key MarketKey, current *MarketState, side Side, borrowIndex *big.Int) (*MarketState, bool, error) {
	if side == SideBorrow {
		enabled, err := e.borrowEnabled(key.Stream, key.Pool)
		if err != nil || !enabled {
			return current, false, err
		}
	}
	upto, open, err := e.horizon(key.Stream)
	if err != nil || !open {
		return current, false, err
	}
	last := current.Block(side)
	if upto <= last {
		return current, false, nil
	}
	rate, err := e.marketRate(key.Stream, current)
	if err != nil {
		return current, false, err
	}
	if rate.Sign() == 0 {
		return current, false, nil
	}
	total, ok, err := e.totalUnits(key.Pool, key.Market, side, borrowIndex)
	if err != nil || !ok {
		return current, false, err
	}
	next := current.Clone()
	if total.Sign() == 0 {
		next.set(side, current.Index(side), upto)
		return next, true, nil
	}
	delta, err := accruedIndexDelta(upto-last, rate, total)
	if err != nil {
		return current, false, err
	}
	index, err := addIndex(current.Index(side), delta)
	if err != nil {
		return current, false, err
	}
	next.set(side, index, upto)
	return next, true, nil
}

// horizon returns the block accrual may advance to and whether the stream is
// emitting at all right now.
func (e *Engine) horizon(stream StreamID) (uint64, bool, error) {
	now := e.blockHeight
	if stream.IsNative() {
		return now, true, nil
	}
	farm, err := e.state.GetTokenFarm(stream.Pool, stream.Token)
	if err != nil {
		return 0, false, err
	}
	if farm == nil || now < farm.StartBlock {
		return 0, false, nil
	}
	if now > farm.EndBlock {
		return farm.EndBlock, true, nil
	}
	return now, true, nil
}

func (e *Engine) borrowEnabled(stream StreamID, pool crypto.Address) (bool, error) {
	if stream.IsNative() {
		record, err := e.loadPool(pool)
		if err != nil {
			return false, err
		}
		return record.Lending, nil
	}
	return e.ledger.IsLendingEnabled(pool), nil
}

// marketRate returns the per-block emission of the market in the stream.
func (e *Engine) marketRate(stream StreamID, current *MarketState) (*big.Int, error) {
	if !stream.IsNative() {
		return copyBigInt(current.Rate), nil
	}
	native, err := e.loadNative()
	if err != nil {
		return nil, err
	}
	return weightedRate(native.Speed, current.Rate, native.TotalWeight)
}

// totalUnits returns the accrual denominator. Borrows are normalized to
// principal by the market interest index; a zero index means the market has
// no borrow accounting yet and accrual is skipped.
func (e *Engine) totalUnits(pool, market crypto.Address, side Side, borrowIndex *big.Int) (*big.Int, bool, error) {
	if side == SideSupply {
		total, err := e.ledger.TotalSupply(pool, market)
		if err != nil {
			return nil, false, err
		}
		return copyBigInt(total), true, nil
	}
	index, err := e.marketBorrowIndex(pool, market, borrowIndex)
	if err != nil {
		return nil, false, err
	}
	if index == nil || index.Sign() == 0 {
		return nil, false, nil
	}
	borrows, err := e.ledger.TotalBorrows(pool, market)
	if err != nil {
		return nil, false, err
	}
	units, err := principalUnits(borrows, index)
	if err != nil {
		return nil, false, err
	}
	return units, true, nil
}

func (e *Engine) marketBorrowIndex(pool, market crypto.Address, override *big.Int) (*big.Int, error) {
	if override != nil {
		return copyBigInt(override), nil
	}
	return e.ledger.BorrowIndex(pool, market)
}
