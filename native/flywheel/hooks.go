package flywheel

import (
	"math/big"

	"lendfarm/crypto"
)

// NotifySupplyChanged settles the supply side of a market for every listed
// account in every stream the market belongs to. The pool layer calls it
// before mutating supply balances; a transfer lists both holders.
func (e *Engine) NotifySupplyChanged(pool, market crypto.Address, accounts ...crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	streams, err := e.poolStreams(pool)
	if err != nil {
		return err
	}
	for _, stream := range streams {
		if err := e.accrue(stream, pool, market, SideSupply); err != nil {
			return err
		}
		seen := make(map[crypto.Address]struct{}, len(accounts))
		for _, account := range accounts {
			if _, dup := seen[account]; dup {
				continue
			}
			seen[account] = struct{}{}
			if _, err := e.distribute(stream, pool, market, SideSupply, account, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// NotifyBorrowChanged settles the borrow side of a market for one account
// using the market interest index the pool layer just accrued to.
func (e *Engine) NotifyBorrowChanged(pool, market, account crypto.Address, marketBorrowIndex *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	streams, err := e.poolStreams(pool)
	if err != nil {
		return err
	}
	for _, stream := range streams {
		if err := e.accrueAt(stream, pool, market, SideBorrow, marketBorrowIndex); err != nil {
			return err
		}
		if _, err := e.distribute(stream, pool, market, SideBorrow, account, marketBorrowIndex); err != nil {
			return err
		}
	}
	return nil
}

// NotifyLendingUpgraded opens the borrow side of the pool's native markets
// after the pool layer enabled borrowing. Like the balance hooks it ignores
// the pause switch, and the pool layer has already checked the factory.
func (e *Engine) NotifyLendingUpgraded(pool crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.upgradeLending(pool)
}

// poolStreams lists the native stream followed by every guest stream of the
// pool.
func (e *Engine) poolStreams(pool crypto.Address) ([]StreamID, error) {
	tokens, err := e.state.GetPoolTokens(pool)
	if err != nil {
		return nil, err
	}
	streams := make([]StreamID, 0, len(tokens)+1)
	streams = append(streams, e.NativeStreamID())
	for _, token := range tokens {
		streams = append(streams, GuestStream(pool, token))
	}
	return streams, nil
}
