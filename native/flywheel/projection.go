package flywheel

import (
	"math/big"

	"lendfarm/crypto"
)

// Undistributed returns what settling the market for the account would add to
// its pending balance right now. Nothing is written.
func (e *Engine) Undistributed(account crypto.Address, stream StreamID, pool, market crypto.Address, supply, borrow bool) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	key := MarketKey{Stream: stream, Pool: pool, Market: market}
	current, err := e.state.GetMarketState(key)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	if current == nil {
		return total, nil
	}
	for _, side := range Sides(supply, borrow) {
		projected, _, err := e.projectAccrual(key, current, side, nil)
		if err != nil {
			return nil, err
		}
		result, err := e.projectDistribution(key, projected, side, account, nil)
		if err != nil {
			return nil, err
		}
		if !result.apply {
			continue
		}
		if total, err = checkedAdd(total, result.credit); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// UndistributedByPool returns one projection per market registered to the
// stream in the pool, in registry order.
func (e *Engine) UndistributedByPool(account crypto.Address, stream StreamID, pool crypto.Address, supply, borrow bool) ([]*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	markets, err := e.Markets(stream, pool)
	if err != nil {
		return nil, err
	}
	out := make([]*big.Int, 0, len(markets))
	for _, market := range markets {
		amount, err := e.Undistributed(account, stream, pool, market, supply, borrow)
		if err != nil {
			return nil, err
		}
		out = append(out, amount)
	}
	return out, nil
}

// PendingAmount returns the stored pending balance plus everything a claim
// over the same scopes would distribute in this block.
func (e *Engine) PendingAmount(account crypto.Address, stream StreamID, scopes []ClaimScope, supply, borrow bool) (Projection, error) {
	if err := e.ready(); err != nil {
		return Projection{}, err
	}
	if err := e.validStream(stream); err != nil {
		return Projection{}, err
	}
	stored, err := e.loadPending(stream, account)
	if err != nil {
		return Projection{}, err
	}
	undistributed := big.NewInt(0)
	if supply || borrow {
		targets, err := e.claimTargets(stream, scopes)
		if err != nil {
			return Projection{}, err
		}
		for _, target := range targets {
			amount, err := e.Undistributed(account, stream, target.Pool, target.Market, supply, borrow)
			if err != nil {
				return Projection{}, err
			}
			if undistributed, err = checkedAdd(undistributed, amount); err != nil {
				return Projection{}, err
			}
		}
	}
	total, err := checkedAdd(stored, undistributed)
	if err != nil {
		return Projection{}, err
	}
	return Projection{
		Stream:        stream,
		Stored:        stored,
		Undistributed: undistributed,
		Total:         total,
	}, nil
}
