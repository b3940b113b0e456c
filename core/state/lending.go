package state

import (
	"fmt"
	"math/big"

	"lendfarm/crypto"
	"lendfarm/native/lending"
)

func lendingPoolKey(pool crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/pool/%s", pool))
}

func lendingMarketKey(pool, market crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/market/%s/%s", pool, market))
}

func lendingSupplyKey(pool, market, account crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/supply/%s/%s/%s", pool, market, account))
}

func lendingBorrowKey(pool, market, account crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/borrow/%s/%s/%s", pool, market, account))
}

type storedLendingPool struct {
	Admin   string
	Lending bool
	Markets []string
}

type storedLendingMarket struct {
	TotalSupply  *big.Int
	TotalBorrows *big.Int
	BorrowIndex  *big.Int
}

type storedBorrowSnapshot struct {
	Principal     *big.Int
	InterestIndex *big.Int
}

// GetLendingPool returns nil for pools the factory never created.
func (m *Manager) GetLendingPool(pool crypto.Address) (*lending.Pool, error) {
	var stored storedLendingPool
	ok, err := m.KVGet(lendingPoolKey(pool), &stored)
	if err != nil || !ok {
		return nil, err
	}
	var admin crypto.Address
	if err := admin.UnmarshalText([]byte(stored.Admin)); err != nil {
		return nil, err
	}
	markets, err := decodeAddresses(stored.Markets)
	if err != nil {
		return nil, err
	}
	return &lending.Pool{Admin: admin, Lending: stored.Lending, Markets: markets}, nil
}

func (m *Manager) PutLendingPool(pool crypto.Address, record *lending.Pool) error {
	if record == nil {
		return fmt.Errorf("lending: nil pool")
	}
	return m.KVPut(lendingPoolKey(pool), &storedLendingPool{
		Admin:   record.Admin.String(),
		Lending: record.Lending,
		Markets: encodeAddresses(record.Markets),
	})
}

func (m *Manager) GetLendingMarket(pool, market crypto.Address) (*lending.Market, error) {
	var stored storedLendingMarket
	ok, err := m.KVGet(lendingMarketKey(pool, market), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.Market{
		TotalSupply:  nonNil(stored.TotalSupply),
		TotalBorrows: nonNil(stored.TotalBorrows),
		BorrowIndex:  nonNil(stored.BorrowIndex),
	}, nil
}

func (m *Manager) PutLendingMarket(pool, market crypto.Address, record *lending.Market) error {
	if record == nil {
		return fmt.Errorf("lending: nil market")
	}
	return m.KVPut(lendingMarketKey(pool, market), &storedLendingMarket{
		TotalSupply:  nonNil(record.TotalSupply),
		TotalBorrows: nonNil(record.TotalBorrows),
		BorrowIndex:  nonNil(record.BorrowIndex),
	})
}

func (m *Manager) GetSupplyBalance(pool, market, account crypto.Address) (*big.Int, error) {
	return m.kvBigInt(lendingSupplyKey(pool, market, account))
}

func (m *Manager) PutSupplyBalance(pool, market, account crypto.Address, amount *big.Int) error {
	return m.KVPut(lendingSupplyKey(pool, market, account), nonNil(amount))
}

func (m *Manager) GetBorrowSnapshot(pool, market, account crypto.Address) (*lending.BorrowSnapshot, error) {
	var stored storedBorrowSnapshot
	ok, err := m.KVGet(lendingBorrowKey(pool, market, account), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.BorrowSnapshot{
		Principal:     nonNil(stored.Principal),
		InterestIndex: nonNil(stored.InterestIndex),
	}, nil
}

func (m *Manager) PutBorrowSnapshot(pool, market, account crypto.Address, snapshot *lending.BorrowSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("lending: nil borrow snapshot")
	}
	return m.KVPut(lendingBorrowKey(pool, market, account), &storedBorrowSnapshot{
		Principal:     nonNil(snapshot.Principal),
		InterestIndex: nonNil(snapshot.InterestIndex),
	})
}
