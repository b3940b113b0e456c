package lending

import (
	"math/big"

	"lendfarm/crypto"
)

// IsParticipatingPool reports whether the factory created the pool.
func (e *Engine) IsParticipatingPool(pool crypto.Address) bool {
	record, err := e.loadPool(pool)
	return err == nil && record != nil
}

// IsLendingEnabled reports whether the pool accepts borrows.
func (e *Engine) IsLendingEnabled(pool crypto.Address) bool {
	record, err := e.loadPool(pool)
	return err == nil && record.Lending
}

// IsMarketListed reports whether the market belongs to the pool.
func (e *Engine) IsMarketListed(pool, market crypto.Address) bool {
	_, err := e.loadMarket(pool, market)
	return err == nil
}

// PoolAdmin returns the pool's admin, or the zero address for unknown pools.
func (e *Engine) PoolAdmin(pool crypto.Address) crypto.Address {
	record, err := e.loadPool(pool)
	if err != nil {
		return crypto.Address{}
	}
	return record.Admin
}

// Pool returns a copy of the pool record.
func (e *Engine) Pool(pool crypto.Address) (*Pool, error) {
	return e.loadPool(pool)
}

// Market returns a copy of the market totals.
func (e *Engine) Market(pool, market crypto.Address) (*Market, error) {
	return e.loadMarket(pool, market)
}

func (e *Engine) TotalSupply(pool, market crypto.Address) (*big.Int, error) {
	state, err := e.loadMarket(pool, market)
	if err != nil {
		return nil, err
	}
	return state.TotalSupply, nil
}

func (e *Engine) TotalBorrows(pool, market crypto.Address) (*big.Int, error) {
	state, err := e.loadMarket(pool, market)
	if err != nil {
		return nil, err
	}
	return state.TotalBorrows, nil
}

func (e *Engine) BorrowIndex(pool, market crypto.Address) (*big.Int, error) {
	state, err := e.loadMarket(pool, market)
	if err != nil {
		return nil, err
	}
	return state.BorrowIndex, nil
}

func (e *Engine) SupplyBalance(pool, market, account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.supplyBalance(pool, market, account)
}

// BorrowBalanceStored returns the account's debt grown to the market's current
// borrow index: principal * marketIndex / accountIndex.
func (e *Engine) BorrowBalanceStored(pool, market, account crypto.Address) (*big.Int, error) {
	state, err := e.loadMarket(pool, market)
	if err != nil {
		return nil, err
	}
	snapshot, err := e.state.GetBorrowSnapshot(pool, market, account)
	if err != nil {
		return nil, err
	}
	if snapshot == nil || snapshot.Principal == nil || snapshot.Principal.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return scaleByIndex(snapshot.Principal, state.BorrowIndex, snapshot.InterestIndex), nil
}
