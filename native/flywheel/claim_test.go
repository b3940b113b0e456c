package flywheel

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"lendfarm/crypto"
)

type claimFixture struct {
	env    *testEnv
	pool   crypto.Address
	market crypto.Address
	alice  crypto.Address
	bob    crypto.Address
}

// newClaimFixture registers one native market where alice holds the whole
// supply and has already been checkpointed at block 100.
func newClaimFixture(t *testing.T) *claimFixture {
	t.Helper()
	f := &claimFixture{
		env:    newTestEnv(t, 100),
		pool:   makeAddress(crypto.PoolPrefix, 0x01),
		market: makeAddress(crypto.MarketPrefix, 0x01),
		alice:  makeAddress(crypto.AccountPrefix, 0x01),
		bob:    makeAddress(crypto.AccountPrefix, 0x02),
	}
	setupNativeMarket(t, f.env, f.pool, f.market, exp18(1), big.NewInt(1))
	f.env.ledger.setSupply(f.pool, f.market, f.alice, exp18(10))
	f.env.touchSupply(t, f.pool, f.market, f.alice)
	return f
}

func (f *claimFixture) request() ClaimRequest {
	return ClaimRequest{
		Caller:  f.alice,
		Account: f.alice,
		Streams: []StreamID{f.env.nativeStream()},
		Supply:  true,
		Borrow:  true,
	}
}

func TestClaimPaysFundedStream(t *testing.T) {
	f := newClaimFixture(t)
	env := f.env
	env.bank.fund(env.native, env.reserve, exp18(100))
	env.engine.SetBlockHeight(110)

	projection, err := env.engine.PendingAmount(f.alice, env.nativeStream(), nil, true, true)
	require.NoError(t, err)
	requireBig(t, "stored", projection.Stored, big.NewInt(0))
	requireBig(t, "projected total", projection.Total, exp18(10))

	results, err := env.engine.Claim(f.request())
	require.NoError(t, err)
	require.Len(t, results, 1)
	requireBig(t, "accrued", results[0].Accrued, projection.Total)
	requireBig(t, "claimed", results[0].Claimed, exp18(10))
	requireBig(t, "not claimed", results[0].NotClaimed, big.NewInt(0))

	requireBig(t, "pending after claim", env.pending(t, env.nativeStream(), f.alice), big.NewInt(0))
	bal, err := env.bank.Balance(env.native, f.alice)
	require.NoError(t, err)
	requireBig(t, "alice balance", bal, exp18(10))
	require.Contains(t, eventTypes(env.events), EventTypeClaimed)
}

func TestClaimUnfundedKeepsPending(t *testing.T) {
	f := newClaimFixture(t)
	env := f.env
	env.bank.fund(env.native, env.reserve, exp18(5))
	env.engine.SetBlockHeight(110)

	results, err := env.engine.Claim(f.request())
	require.NoError(t, err)
	require.Len(t, results, 1)
	requireBig(t, "claimed", results[0].Claimed, big.NewInt(0))
	requireBig(t, "not claimed", results[0].NotClaimed, exp18(10))
	requireBig(t, "pending kept", env.pending(t, env.nativeStream(), f.alice), exp18(10))

	reserve, err := env.bank.Balance(env.native, env.reserve)
	require.NoError(t, err)
	requireBig(t, "reserve untouched", reserve, exp18(5))

	// Once funded, a claim without sides pays the stored balance only.
	env.bank.fund(env.native, env.reserve, exp18(20))
	env.engine.SetBlockHeight(120)
	req := f.request()
	req.Supply, req.Borrow = false, false
	results, err = env.engine.Claim(req)
	require.NoError(t, err)
	requireBig(t, "claimed stored", results[0].Claimed, exp18(10))

	state := env.marketState(t, env.nativeStream(), f.pool, f.market)
	require.Equal(t, uint64(110), state.SupplyBlock, "a pending-only claim does not accrue")
}

func TestClaimAuthorization(t *testing.T) {
	f := newClaimFixture(t)
	env := f.env
	env.bank.fund(env.native, env.reserve, exp18(100))
	env.engine.SetBlockHeight(110)
	delegate := makeAddress(crypto.AccountPrefix, 0xd1)

	req := f.request()
	req.Caller = f.bob
	_, err := env.engine.Claim(req)
	require.ErrorIs(t, err, ErrUnauthorized)

	req = f.request()
	req.Recipient = f.bob
	_, err = env.engine.Claim(req)
	require.ErrorIs(t, err, ErrInvalidRecipient)

	req = f.request()
	req.Caller = delegate
	_, err = env.engine.Claim(req)
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, env.engine.SetDelegate(env.admin, delegate, true))
	req.Recipient = delegate
	results, err := env.engine.Claim(req)
	require.NoError(t, err)
	requireBig(t, "claimed", results[0].Claimed, exp18(10))
	bal, err := env.bank.Balance(env.native, delegate)
	require.NoError(t, err)
	requireBig(t, "delegate balance", bal, exp18(10))

	req = f.request()
	req.Streams = []StreamID{NativeStream(makeAddress(crypto.TokenPrefix, 0x77))}
	_, err = env.engine.Claim(req)
	require.ErrorIs(t, err, ErrInvalidStream)
}

func TestClaimDeduplicatesScopes(t *testing.T) {
	f := newClaimFixture(t)
	env := f.env
	env.bank.fund(env.native, env.reserve, exp18(100))
	env.engine.SetBlockHeight(110)

	req := f.request()
	req.Scopes = []ClaimScope{
		{Pool: f.pool, Markets: []crypto.Address{f.market, f.market}},
		{Pool: f.pool},
	}
	projection, err := env.engine.PendingAmount(f.alice, env.nativeStream(), req.Scopes, true, true)
	require.NoError(t, err)
	requireBig(t, "projected", projection.Total, exp18(10))

	results, err := env.engine.Claim(req)
	require.NoError(t, err)
	requireBig(t, "claimed", results[0].Claimed, exp18(10))

	results, err = env.engine.Claim(req)
	require.NoError(t, err)
	requireBig(t, "second claim in the same block", results[0].Accrued, big.NewInt(0))
}

func TestClaimGuestStreamPaysFromPool(t *testing.T) {
	env := newTestEnv(t, 100)
	pool := makeAddress(crypto.PoolPrefix, 0x01)
	otherPool := makeAddress(crypto.PoolPrefix, 0x02)
	market := makeAddress(crypto.MarketPrefix, 0x01)
	token := makeAddress(crypto.TokenPrefix, 0x02)
	alice := makeAddress(crypto.AccountPrefix, 0x01)

	setupGuestFarm(t, env, pool, market, token, 100, 1000, exp18(1))
	env.ledger.setSupply(pool, market, alice, exp18(10))
	env.touchSupply(t, pool, market, alice)
	env.bank.fund(token, pool, exp18(50))
	stream := GuestStream(pool, token)

	env.engine.SetBlockHeight(105)
	results, err := env.engine.Claim(ClaimRequest{
		Caller:  alice,
		Account: alice,
		Streams: []StreamID{stream},
		Scopes:  []ClaimScope{{Pool: otherPool}},
		Supply:  true,
	})
	require.NoError(t, err)
	requireBig(t, "foreign scope settles nothing", results[0].Accrued, big.NewInt(0))

	results, err = env.engine.Claim(ClaimRequest{
		Caller:  alice,
		Account: alice,
		Streams: []StreamID{stream, env.nativeStream()},
		Supply:  true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	requireBig(t, "guest claimed", results[0].Claimed, exp18(5))
	requireBig(t, "native claimed", results[1].Claimed, big.NewInt(0))

	poolBal, err := env.bank.Balance(token, pool)
	require.NoError(t, err)
	requireBig(t, "pool balance", poolBal, exp18(45))
}

func TestUndistributedDoesNotWrite(t *testing.T) {
	f := newClaimFixture(t)
	env := f.env
	env.engine.SetBlockHeight(130)

	amount, err := env.engine.Undistributed(f.alice, env.nativeStream(), f.pool, f.market, true, true)
	require.NoError(t, err)
	requireBig(t, "undistributed", amount, exp18(30))

	byPool, err := env.engine.UndistributedByPool(f.alice, env.nativeStream(), f.pool, true, false)
	require.NoError(t, err)
	require.Len(t, byPool, 1)
	requireBig(t, "undistributed by pool", byPool[0], exp18(30))

	state := env.marketState(t, env.nativeStream(), f.pool, f.market)
	require.Equal(t, uint64(100), state.SupplyBlock)
	requireBig(t, "pending", env.pending(t, env.nativeStream(), f.alice), big.NewInt(0))

	// An account without a checkpoint projects zero, matching its first settlement.
	amount, err = env.engine.Undistributed(f.bob, env.nativeStream(), f.pool, f.market, true, false)
	require.NoError(t, err)
	require.Equal(t, 0, amount.Sign())

	unknown, err := env.engine.Undistributed(f.alice, env.nativeStream(), f.pool, makeAddress(crypto.MarketPrefix, 0x42), true, true)
	require.NoError(t, err)
	require.Equal(t, 0, unknown.Sign())
}

func TestPendingAmountIncludesStored(t *testing.T) {
	f := newClaimFixture(t)
	env := f.env
	env.engine.SetBlockHeight(110)
	env.touchSupply(t, f.pool, f.market, f.alice)
	env.engine.SetBlockHeight(115)

	projection, err := env.engine.PendingAmount(f.alice, env.nativeStream(), nil, true, false)
	require.NoError(t, err)
	requireBig(t, "stored", projection.Stored, exp18(10))
	requireBig(t, "undistributed", projection.Undistributed, exp18(5))
	requireBig(t, "total", projection.Total, exp18(15))

	storedOnly, err := env.engine.PendingAmount(f.alice, env.nativeStream(), nil, false, false)
	require.NoError(t, err)
	requireBig(t, "stored only", storedOnly.Total, exp18(10))
}
