package flywheel

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// doubleScale is the unit value of every reward index.
	doubleScale = uint256.MustFromDecimal("1000000000000000000000000000000000000")
	// expScale normalizes borrow balances by the market interest index.
	expScale = uint256.NewInt(1_000_000_000_000_000_000)
)

// InitialIndex returns the value a market index starts at (1e36).
func InitialIndex() *big.Int {
	return doubleScale.ToBig()
}

func toWord(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return word, nil
}

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return new(uint256.Int), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// accruedIndexDelta computes blocks*rate*1e36/total. A zero total yields zero.
func accruedIndexDelta(blocks uint64, rate, total *big.Int) (*big.Int, error) {
	r, err := toWord(rate)
	if err != nil {
		return nil, err
	}
	t, err := toWord(total)
	if err != nil {
		return nil, err
	}
	accrued, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(blocks), r)
	if overflow {
		return nil, ErrOverflow
	}
	delta, err := mulDiv(accrued, doubleScale, t)
	if err != nil {
		return nil, err
	}
	return delta.ToBig(), nil
}

// addIndex returns index+delta, failing when the sum leaves 256 bits.
func addIndex(index, delta *big.Int) (*big.Int, error) {
	a, err := toWord(index)
	if err != nil {
		return nil, err
	}
	b, err := toWord(delta)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return sum.ToBig(), nil
}

// creditFor computes units*(index-last)/1e36. An index below the checkpoint is
// an underflow.
func creditFor(units, index, last *big.Int) (*big.Int, error) {
	u, err := toWord(units)
	if err != nil {
		return nil, err
	}
	i, err := toWord(index)
	if err != nil {
		return nil, err
	}
	l, err := toWord(last)
	if err != nil {
		return nil, err
	}
	delta, underflow := new(uint256.Int).SubOverflow(i, l)
	if underflow {
		return nil, ErrOverflow
	}
	credit, err := mulDiv(u, delta, doubleScale)
	if err != nil {
		return nil, err
	}
	return credit.ToBig(), nil
}

// principalUnits normalizes a borrow amount by the market interest index:
// amount*1e18/marketBorrowIndex.
func principalUnits(amount, marketBorrowIndex *big.Int) (*big.Int, error) {
	a, err := toWord(amount)
	if err != nil {
		return nil, err
	}
	idx, err := toWord(marketBorrowIndex)
	if err != nil {
		return nil, err
	}
	units, err := mulDiv(a, expScale, idx)
	if err != nil {
		return nil, err
	}
	return units.ToBig(), nil
}

// weightedRate splits the native speed by weight/totalWeight, truncating.
func weightedRate(speed, weight, totalWeight *big.Int) (*big.Int, error) {
	s, err := toWord(speed)
	if err != nil {
		return nil, err
	}
	w, err := toWord(weight)
	if err != nil {
		return nil, err
	}
	t, err := toWord(totalWeight)
	if err != nil {
		return nil, err
	}
	rate, err := mulDiv(s, w, t)
	if err != nil {
		return nil, err
	}
	return rate.ToBig(), nil
}

// checkedAdd adds two non-negative amounts inside the 256-bit domain.
func checkedAdd(a, b *big.Int) (*big.Int, error) {
	return addIndex(a, b)
}

// checkedSub subtracts b from a, failing on underflow.
func checkedSub(a, b *big.Int) (*big.Int, error) {
	x, err := toWord(a)
	if err != nil {
		return nil, err
	}
	y, err := toWord(b)
	if err != nil {
		return nil, err
	}
	diff, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrOverflow
	}
	return diff.ToBig(), nil
}
