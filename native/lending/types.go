package lending

import (
	"math/big"

	"lendfarm/crypto"
)

// Pool groups the markets created together by the factory. Lending is false
// until the factory upgrades the pool, and borrowing is refused before that.
type Pool struct {
	// Admin manages listings, interest indexes and guest reward farms.
	Admin crypto.Address
	// Lending reports whether borrowing is enabled.
	Lending bool
	// Markets lists the pool's markets in listing order.
	Markets []crypto.Address
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		Admin:   p.Admin,
		Lending: p.Lending,
		Markets: append([]crypto.Address(nil), p.Markets...),
	}
}

// Market captures the supply and borrow totals of one market. BorrowIndex is
// the cumulative interest index at 1e18 precision; totals are in underlying
// units.
type Market struct {
	TotalSupply  *big.Int
	TotalBorrows *big.Int
	BorrowIndex  *big.Int
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	return &Market{
		TotalSupply:  copyBigInt(m.TotalSupply),
		TotalBorrows: copyBigInt(m.TotalBorrows),
		BorrowIndex:  copyBigInt(m.BorrowIndex),
	}
}

// BorrowSnapshot stores an account's debt as of the interest index it was last
// touched at.
type BorrowSnapshot struct {
	Principal     *big.Int
	InterestIndex *big.Int
}

// Clone returns a deep copy of the snapshot.
func (b *BorrowSnapshot) Clone() *BorrowSnapshot {
	if b == nil {
		return nil
	}
	return &BorrowSnapshot{
		Principal:     copyBigInt(b.Principal),
		InterestIndex: copyBigInt(b.InterestIndex),
	}
}
