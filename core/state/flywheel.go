package state

import (
	"fmt"
	"math/big"

	"lendfarm/crypto"
	"lendfarm/native/flywheel"
)

var (
	flywheelNativeKey = []byte("flywheel/native")
)

func flywheelPoolKey(pool crypto.Address) []byte {
	return []byte(fmt.Sprintf("flywheel/pool/%s", pool))
}

func flywheelPoolTokensKey(pool crypto.Address) []byte {
	return []byte(fmt.Sprintf("flywheel/pool-tokens/%s", pool))
}

func flywheelFarmKey(pool, token crypto.Address) []byte {
	return []byte(fmt.Sprintf("flywheel/farm/%s/%s", pool, token))
}

func flywheelMarketKey(key flywheel.MarketKey) []byte {
	return []byte(fmt.Sprintf("flywheel/market/%s/%s/%s", key.Stream, key.Pool, key.Market))
}

func flywheelCheckpointKey(key flywheel.CheckpointKey) []byte {
	return []byte(fmt.Sprintf("flywheel/checkpoint/%s/%s/%s/%s/%s",
		key.Stream, key.Pool, key.Market, key.Side, key.Account))
}

func flywheelPendingKey(stream flywheel.StreamID, account crypto.Address) []byte {
	return []byte(fmt.Sprintf("flywheel/pending/%s/%s", stream, account))
}

func flywheelDelegateKey(account crypto.Address) []byte {
	return []byte(fmt.Sprintf("flywheel/delegate/%s", account))
}

type storedNative struct {
	Speed       *big.Int
	TotalWeight *big.Int
	Pools       []string
}

type storedPool struct {
	Registered bool
	Lending    bool
	Markets    []string
}

type storedFarm struct {
	StartBlock uint64
	EndBlock   uint64
	Markets    []string
}

type storedMarket struct {
	Rate        *big.Int
	SupplyIndex *big.Int
	SupplyBlock uint64
	BorrowIndex *big.Int
	BorrowBlock uint64
}

// GetNative returns the weighted stream's global parameters, or nil before
// the first update.
func (m *Manager) GetNative() (*flywheel.NativeState, error) {
	var stored storedNative
	ok, err := m.KVGet(flywheelNativeKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	pools, err := decodeAddresses(stored.Pools)
	if err != nil {
		return nil, err
	}
	return &flywheel.NativeState{
		Speed:       nonNil(stored.Speed),
		TotalWeight: nonNil(stored.TotalWeight),
		Pools:       pools,
	}, nil
}

func (m *Manager) PutNative(native *flywheel.NativeState) error {
	if native == nil {
		return fmt.Errorf("flywheel: nil native state")
	}
	return m.KVPut(flywheelNativeKey, &storedNative{
		Speed:       nonNil(native.Speed),
		TotalWeight: nonNil(native.TotalWeight),
		Pools:       encodeAddresses(native.Pools),
	})
}

func (m *Manager) GetPool(pool crypto.Address) (*flywheel.PoolRecord, error) {
	var stored storedPool
	ok, err := m.KVGet(flywheelPoolKey(pool), &stored)
	if err != nil || !ok {
		return nil, err
	}
	markets, err := decodeAddresses(stored.Markets)
	if err != nil {
		return nil, err
	}
	return &flywheel.PoolRecord{
		Registered: stored.Registered,
		Lending:    stored.Lending,
		Markets:    markets,
	}, nil
}

func (m *Manager) PutPool(pool crypto.Address, record *flywheel.PoolRecord) error {
	if record == nil {
		return fmt.Errorf("flywheel: nil pool record")
	}
	return m.KVPut(flywheelPoolKey(pool), &storedPool{
		Registered: record.Registered,
		Lending:    record.Lending,
		Markets:    encodeAddresses(record.Markets),
	})
}

func (m *Manager) GetPoolTokens(pool crypto.Address) ([]crypto.Address, error) {
	var list []string
	if err := m.KVGetList(flywheelPoolTokensKey(pool), &list); err != nil {
		return nil, err
	}
	return decodeAddresses(list)
}

func (m *Manager) PutPoolTokens(pool crypto.Address, tokens []crypto.Address) error {
	return m.KVPut(flywheelPoolTokensKey(pool), encodeAddresses(tokens))
}

// GetTokenFarm returns the guest token's window in the pool, or nil when the
// token was never added.
func (m *Manager) GetTokenFarm(pool, token crypto.Address) (*flywheel.TokenFarm, error) {
	var stored storedFarm
	ok, err := m.KVGet(flywheelFarmKey(pool, token), &stored)
	if err != nil || !ok {
		return nil, err
	}
	markets, err := decodeAddresses(stored.Markets)
	if err != nil {
		return nil, err
	}
	return &flywheel.TokenFarm{
		StartBlock: stored.StartBlock,
		EndBlock:   stored.EndBlock,
		Markets:    markets,
	}, nil
}

func (m *Manager) PutTokenFarm(pool, token crypto.Address, farm *flywheel.TokenFarm) error {
	if farm == nil {
		return fmt.Errorf("flywheel: nil token farm")
	}
	return m.KVPut(flywheelFarmKey(pool, token), &storedFarm{
		StartBlock: farm.StartBlock,
		EndBlock:   farm.EndBlock,
		Markets:    encodeAddresses(farm.Markets),
	})
}

// GetMarketState returns nil for markets never registered to the stream.
func (m *Manager) GetMarketState(key flywheel.MarketKey) (*flywheel.MarketState, error) {
	var stored storedMarket
	ok, err := m.KVGet(flywheelMarketKey(key), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &flywheel.MarketState{
		Rate:        nonNil(stored.Rate),
		SupplyIndex: nonNil(stored.SupplyIndex),
		SupplyBlock: stored.SupplyBlock,
		BorrowIndex: nonNil(stored.BorrowIndex),
		BorrowBlock: stored.BorrowBlock,
	}, nil
}

func (m *Manager) PutMarketState(key flywheel.MarketKey, state *flywheel.MarketState) error {
	if state == nil {
		return fmt.Errorf("flywheel: nil market state")
	}
	return m.KVPut(flywheelMarketKey(key), &storedMarket{
		Rate:        nonNil(state.Rate),
		SupplyIndex: nonNil(state.SupplyIndex),
		SupplyBlock: state.SupplyBlock,
		BorrowIndex: nonNil(state.BorrowIndex),
		BorrowBlock: state.BorrowBlock,
	})
}

// GetCheckpoint returns zero for accounts that never settled the market.
func (m *Manager) GetCheckpoint(key flywheel.CheckpointKey) (*big.Int, error) {
	return m.kvBigInt(flywheelCheckpointKey(key))
}

func (m *Manager) PutCheckpoint(key flywheel.CheckpointKey, index *big.Int) error {
	return m.KVPut(flywheelCheckpointKey(key), nonNil(index))
}

func (m *Manager) GetPending(stream flywheel.StreamID, account crypto.Address) (*big.Int, error) {
	return m.kvBigInt(flywheelPendingKey(stream, account))
}

func (m *Manager) PutPending(stream flywheel.StreamID, account crypto.Address, amount *big.Int) error {
	return m.KVPut(flywheelPendingKey(stream, account), nonNil(amount))
}

func (m *Manager) GetDelegate(account crypto.Address) (bool, error) {
	var allowed bool
	if _, err := m.KVGet(flywheelDelegateKey(account), &allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

func (m *Manager) PutDelegate(account crypto.Address, allowed bool) error {
	return m.KVPut(flywheelDelegateKey(account), allowed)
}

func (m *Manager) kvBigInt(key []byte) (*big.Int, error) {
	value := new(big.Int)
	if _, err := m.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
