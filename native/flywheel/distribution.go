package flywheel

import (
	"math/big"

	"lendfarm/crypto"
)

// settlement is the outcome of distributing one side of one market to one
// account.
type settlement struct {
	apply  bool
	index  *big.Int
	credit *big.Int
	units  *big.Int
}

// distribute credits the account with its share of the index growth since its
// checkpoint and moves the checkpoint to the market index. The first
// settlement of an account only records the checkpoint.
func (e *Engine) distribute(stream StreamID, pool, market crypto.Address, side Side, account crypto.Address, borrowIndex *big.Int) (*big.Int, error) {
	key := MarketKey{Stream: stream, Pool: pool, Market: market}
	current, err := e.state.GetMarketState(key)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return big.NewInt(0), nil
	}
	result, err := e.projectDistribution(key, current, side, account, borrowIndex)
	if err != nil {
		return nil, err
	}
	if !result.apply {
		return big.NewInt(0), nil
	}
	checkpoint := CheckpointKey{MarketKey: key, Side: side, Account: account}
	if err := e.state.PutCheckpoint(checkpoint, result.index); err != nil {
		return nil, err
	}
	if result.credit.Sign() > 0 {
		pending, err := e.loadPending(stream, account)
		if err != nil {
			return nil, err
		}
		pending, err = checkedAdd(pending, result.credit)
		if err != nil {
			return nil, err
		}
		if err := e.state.PutPending(stream, account, pending); err != nil {
			return nil, err
		}
		e.metrics.ObserveDistributed(stream.Kind.String(), side.String(), result.credit)
	}
	e.emit(NewDistributedEvent(stream, pool, market, side, account, result.credit, result.index))
	return result.credit, nil
}

// projectDistribution computes what distribute would do against the given
// market state without writing anything.
func (e *Engine) projectDistribution(key MarketKey, current *MarketState, side Side, account crypto.Address, borrowIndex *big.Int) (settlement, error) {
	index := current.Index(side)
	if index.Sign() == 0 {
		return settlement{}, nil
	}
	var marketBorrowIndex *big.Int
	if side == SideBorrow {
		enabled, err := e.borrowEnabled(key.Stream, key.Pool)
		if err != nil || !enabled {
			return settlement{}, err
		}
		marketBorrowIndex, err = e.marketBorrowIndex(key.Pool, key.Market, borrowIndex)
		if err != nil {
			return settlement{}, err
		}
		if marketBorrowIndex == nil || marketBorrowIndex.Sign() == 0 {
			return settlement{}, nil
		}
	}
	last, err := e.state.GetCheckpoint(CheckpointKey{MarketKey: key, Side: side, Account: account})
	if err != nil {
		return settlement{}, err
	}
	if last == nil || last.Sign() == 0 {
		return settlement{apply: true, index: index, credit: big.NewInt(0), units: big.NewInt(0)}, nil
	}
	units, err := e.accountUnits(key.Pool, key.Market, side, account, marketBorrowIndex)
	if err != nil {
		return settlement{}, err
	}
	credit, err := creditFor(units, index, last)
	if err != nil {
		return settlement{}, err
	}
	return settlement{apply: true, index: index, credit: credit, units: units}, nil
}

func (e *Engine) accountUnits(pool, market crypto.Address, side Side, account crypto.Address, marketBorrowIndex *big.Int) (*big.Int, error) {
	if side == SideSupply {
		balance, err := e.ledger.SupplyBalance(pool, market, account)
		if err != nil {
			return nil, err
		}
		return copyBigInt(balance), nil
	}
	stored, err := e.ledger.BorrowBalanceStored(pool, market, account)
	if err != nil {
		return nil, err
	}
	return principalUnits(stored, marketBorrowIndex)
}
