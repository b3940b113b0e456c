package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"lendfarm/crypto"
	"lendfarm/native/flywheel"
	"lendfarm/native/lending"
	"lendfarm/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func TestTokenRegistryAndTransfer(t *testing.T) {
	mgr := newTestManager(t)
	token := crypto.AddressFromSeed(crypto.TokenPrefix, "reward")
	alice := crypto.AddressFromSeed(crypto.AccountPrefix, "alice")
	bob := crypto.AddressFromSeed(crypto.AccountPrefix, "bob")

	if err := mgr.SetBalance(token, alice, big.NewInt(1)); !errors.Is(err, ErrTokenNotRegistered) {
		t.Fatalf("expected unregistered token error, got %v", err)
	}
	require.NoError(t, mgr.RegisterToken(token, " rwd ", "Reward", 18))
	require.Error(t, mgr.RegisterToken(token, "RWD", "Reward", 18))

	meta, err := mgr.Token(token)
	require.NoError(t, err)
	require.Equal(t, "RWD", meta.Symbol)

	wide := crypto.AddressFromSeed(crypto.TokenPrefix, "wide")
	require.NoError(t, mgr.RegisterToken(wide, "\uff55\uff53\uff44\uff43", " \uff35SD Coin ", 6))
	wideMeta, err := mgr.Token(wide)
	require.NoError(t, err)
	if wideMeta.Symbol != "USDC" || wideMeta.Name != "USD Coin" {
		t.Fatalf("expected NFKC-normalised metadata, got %q %q", wideMeta.Symbol, wideMeta.Name)
	}

	list, err := mgr.TokenList()
	require.NoError(t, err)
	require.Equal(t, []crypto.Address{token, wide}, list)

	require.NoError(t, mgr.SetBalance(token, alice, big.NewInt(100)))
	require.NoError(t, mgr.Transfer(token, alice, bob, big.NewInt(40)))

	aliceBal, err := mgr.Balance(token, alice)
	require.NoError(t, err)
	bobBal, err := mgr.Balance(token, bob)
	require.NoError(t, err)
	require.Equal(t, int64(60), aliceBal.Int64())
	require.Equal(t, int64(40), bobBal.Int64())

	err = mgr.Transfer(token, bob, alice, big.NewInt(41))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestKVGetListDefaultsToEmpty(t *testing.T) {
	mgr := newTestManager(t)
	var list []string
	require.NoError(t, mgr.KVGetList([]byte("missing"), &list))
	require.NotNil(t, list)
	require.Len(t, list, 0)

	ok, err := mgr.KVGet([]byte("missing"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFlywheelRecordsRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	pool := crypto.AddressFromSeed(crypto.PoolPrefix, "pool")
	market := crypto.AddressFromSeed(crypto.MarketPrefix, "market")
	token := crypto.AddressFromSeed(crypto.TokenPrefix, "guest")
	account := crypto.AddressFromSeed(crypto.AccountPrefix, "account")
	stream := flywheel.GuestStream(pool, token)

	native, err := mgr.GetNative()
	require.NoError(t, err)
	require.Nil(t, native)

	require.NoError(t, mgr.PutNative(&flywheel.NativeState{
		Speed:       big.NewInt(5),
		TotalWeight: big.NewInt(3),
		Pools:       []crypto.Address{pool},
	}))
	native, err = mgr.GetNative()
	require.NoError(t, err)
	require.Equal(t, int64(5), native.Speed.Int64())
	require.Equal(t, []crypto.Address{pool}, native.Pools)

	require.NoError(t, mgr.PutPool(pool, &flywheel.PoolRecord{Registered: true, Markets: []crypto.Address{market}}))
	record, err := mgr.GetPool(pool)
	require.NoError(t, err)
	require.True(t, record.Registered)
	require.False(t, record.Lending)
	require.Equal(t, []crypto.Address{market}, record.Markets)

	farm, err := mgr.GetTokenFarm(pool, token)
	require.NoError(t, err)
	require.Nil(t, farm)
	require.NoError(t, mgr.PutTokenFarm(pool, token, &flywheel.TokenFarm{StartBlock: 10, EndBlock: 20}))
	farm, err = mgr.GetTokenFarm(pool, token)
	require.NoError(t, err)
	require.Equal(t, uint64(20), farm.EndBlock)
	require.Empty(t, farm.Markets)

	tokens, err := mgr.GetPoolTokens(pool)
	require.NoError(t, err)
	require.Empty(t, tokens)
	require.NoError(t, mgr.PutPoolTokens(pool, []crypto.Address{token}))
	tokens, err = mgr.GetPoolTokens(pool)
	require.NoError(t, err)
	require.Equal(t, []crypto.Address{token}, tokens)

	key := flywheel.MarketKey{Stream: stream, Pool: pool, Market: market}
	require.NoError(t, mgr.PutMarketState(key, &flywheel.MarketState{
		Rate:        big.NewInt(7),
		SupplyIndex: flywheel.InitialIndex(),
		SupplyBlock: 12,
		BorrowIndex: flywheel.InitialIndex(),
	}))
	state, err := mgr.GetMarketState(key)
	require.NoError(t, err)
	require.Equal(t, 0, state.SupplyIndex.Cmp(flywheel.InitialIndex()))
	require.Equal(t, uint64(12), state.SupplyBlock)
	require.Equal(t, uint64(0), state.BorrowBlock)

	other, err := mgr.GetMarketState(flywheel.MarketKey{Stream: flywheel.NativeStream(token), Pool: pool, Market: market})
	require.NoError(t, err)
	require.Nil(t, other)

	cp := flywheel.CheckpointKey{MarketKey: key, Side: flywheel.SideBorrow, Account: account}
	idx, err := mgr.GetCheckpoint(cp)
	require.NoError(t, err)
	require.Equal(t, 0, idx.Sign())
	require.NoError(t, mgr.PutCheckpoint(cp, big.NewInt(99)))
	idx, err = mgr.GetCheckpoint(cp)
	require.NoError(t, err)
	require.Equal(t, int64(99), idx.Int64())

	supplyCP := flywheel.CheckpointKey{MarketKey: key, Side: flywheel.SideSupply, Account: account}
	idx, err = mgr.GetCheckpoint(supplyCP)
	require.NoError(t, err)
	require.Equal(t, 0, idx.Sign())

	require.NoError(t, mgr.PutPending(stream, account, big.NewInt(42)))
	pending, err := mgr.GetPending(stream, account)
	require.NoError(t, err)
	require.Equal(t, int64(42), pending.Int64())

	allowed, err := mgr.GetDelegate(account)
	require.NoError(t, err)
	require.False(t, allowed)
	require.NoError(t, mgr.PutDelegate(account, true))
	allowed, err = mgr.GetDelegate(account)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLendingRecordsRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	pool := crypto.AddressFromSeed(crypto.PoolPrefix, "pool")
	market := crypto.AddressFromSeed(crypto.MarketPrefix, "market")
	admin := crypto.AddressFromSeed(crypto.AccountPrefix, "admin")
	account := crypto.AddressFromSeed(crypto.AccountPrefix, "account")

	missing, err := mgr.GetLendingPool(pool)
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, mgr.PutLendingPool(pool, &lending.Pool{Admin: admin, Markets: []crypto.Address{market}}))
	record, err := mgr.GetLendingPool(pool)
	require.NoError(t, err)
	require.Equal(t, admin, record.Admin)
	require.Equal(t, []crypto.Address{market}, record.Markets)

	require.NoError(t, mgr.PutLendingPool(pool, &lending.Pool{}))
	record, err = mgr.GetLendingPool(pool)
	require.NoError(t, err)
	require.True(t, record.Admin.IsZero())

	require.NoError(t, mgr.PutLendingMarket(pool, market, &lending.Market{
		TotalSupply: big.NewInt(10),
		BorrowIndex: big.NewInt(11),
	}))
	mkt, err := mgr.GetLendingMarket(pool, market)
	require.NoError(t, err)
	require.Equal(t, int64(10), mkt.TotalSupply.Int64())
	require.Equal(t, 0, mkt.TotalBorrows.Sign())

	require.NoError(t, mgr.PutSupplyBalance(pool, market, account, big.NewInt(3)))
	bal, err := mgr.GetSupplyBalance(pool, market, account)
	require.NoError(t, err)
	require.Equal(t, int64(3), bal.Int64())

	snap, err := mgr.GetBorrowSnapshot(pool, market, account)
	require.NoError(t, err)
	require.Nil(t, snap)
	require.NoError(t, mgr.PutBorrowSnapshot(pool, market, account, &lending.BorrowSnapshot{
		Principal:     big.NewInt(5),
		InterestIndex: big.NewInt(6),
	}))
	snap, err = mgr.GetBorrowSnapshot(pool, market, account)
	require.NoError(t, err)
	require.Equal(t, int64(6), snap.InterestIndex.Int64())
}

func TestOverlayDiscardLeavesBaseUntouched(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	token := crypto.AddressFromSeed(crypto.TokenPrefix, "reward")
	alice := crypto.AddressFromSeed(crypto.AccountPrefix, "alice")

	base := NewManager(db)
	require.NoError(t, base.RegisterToken(token, "RWD", "Reward", 18))

	overlay := storage.NewOverlay(db)
	staged := NewManager(overlay)
	require.NoError(t, staged.SetBalance(token, alice, big.NewInt(9)))
	overlay.Discard()

	bal, err := base.Balance(token, alice)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Sign())
}
