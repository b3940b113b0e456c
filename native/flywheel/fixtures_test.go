package flywheel

import (
	"errors"
	"math/big"
	"testing"

	"lendfarm/core/events"
	"lendfarm/crypto"
)

type pendingKey struct {
	stream  StreamID
	account crypto.Address
}

type farmKey struct {
	pool  crypto.Address
	token crypto.Address
}

type mockEngineState struct {
	native      *NativeState
	pools       map[crypto.Address]*PoolRecord
	poolTokens  map[crypto.Address][]crypto.Address
	farms       map[farmKey]*TokenFarm
	markets     map[MarketKey]*MarketState
	checkpoints map[CheckpointKey]*big.Int
	pending     map[pendingKey]*big.Int
	delegates   map[crypto.Address]bool
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		pools:       make(map[crypto.Address]*PoolRecord),
		poolTokens:  make(map[crypto.Address][]crypto.Address),
		farms:       make(map[farmKey]*TokenFarm),
		markets:     make(map[MarketKey]*MarketState),
		checkpoints: make(map[CheckpointKey]*big.Int),
		pending:     make(map[pendingKey]*big.Int),
		delegates:   make(map[crypto.Address]bool),
	}
}

func (m *mockEngineState) GetNative() (*NativeState, error) {
	if m.native == nil {
		return nil, nil
	}
	return m.native.Clone(), nil
}

func (m *mockEngineState) PutNative(native *NativeState) error {
	m.native = native.Clone()
	return nil
}

func (m *mockEngineState) GetPool(pool crypto.Address) (*PoolRecord, error) {
	record, ok := m.pools[pool]
	if !ok {
		return nil, nil
	}
	return record.Clone(), nil
}

func (m *mockEngineState) PutPool(pool crypto.Address, record *PoolRecord) error {
	m.pools[pool] = record.Clone()
	return nil
}

func (m *mockEngineState) GetPoolTokens(pool crypto.Address) ([]crypto.Address, error) {
	return append([]crypto.Address(nil), m.poolTokens[pool]...), nil
}

func (m *mockEngineState) PutPoolTokens(pool crypto.Address, tokens []crypto.Address) error {
	m.poolTokens[pool] = append([]crypto.Address(nil), tokens...)
	return nil
}

func (m *mockEngineState) GetTokenFarm(pool, token crypto.Address) (*TokenFarm, error) {
	return m.farms[farmKey{pool, token}].Clone(), nil
}

func (m *mockEngineState) PutTokenFarm(pool, token crypto.Address, farm *TokenFarm) error {
	m.farms[farmKey{pool, token}] = farm.Clone()
	return nil
}

func (m *mockEngineState) GetMarketState(key MarketKey) (*MarketState, error) {
	return m.markets[key].Clone(), nil
}

func (m *mockEngineState) PutMarketState(key MarketKey, state *MarketState) error {
	m.markets[key] = state.Clone()
	return nil
}

func (m *mockEngineState) GetCheckpoint(key CheckpointKey) (*big.Int, error) {
	return copyBigInt(m.checkpoints[key]), nil
}

func (m *mockEngineState) PutCheckpoint(key CheckpointKey, index *big.Int) error {
	m.checkpoints[key] = copyBigInt(index)
	return nil
}

func (m *mockEngineState) GetPending(stream StreamID, account crypto.Address) (*big.Int, error) {
	return copyBigInt(m.pending[pendingKey{stream, account}]), nil
}

func (m *mockEngineState) PutPending(stream StreamID, account crypto.Address, amount *big.Int) error {
	m.pending[pendingKey{stream, account}] = copyBigInt(amount)
	return nil
}

func (m *mockEngineState) GetDelegate(account crypto.Address) (bool, error) {
	return m.delegates[account], nil
}

func (m *mockEngineState) PutDelegate(account crypto.Address, allowed bool) error {
	m.delegates[account] = allowed
	return nil
}

var errUnknownMarket = errors.New("fake ledger: unknown market")

type fakeMarket struct {
	totalSupply  *big.Int
	totalBorrows *big.Int
	borrowIndex  *big.Int
	supply       map[crypto.Address]*big.Int
	borrow       map[crypto.Address]*big.Int
}

type fakePool struct {
	admin   crypto.Address
	lending bool
	markets map[crypto.Address]*fakeMarket
}

type fakeLedger struct {
	pools map[crypto.Address]*fakePool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{pools: make(map[crypto.Address]*fakePool)}
}

func (l *fakeLedger) addPool(pool, admin crypto.Address) {
	l.pools[pool] = &fakePool{admin: admin, markets: make(map[crypto.Address]*fakeMarket)}
}

func (l *fakeLedger) addMarket(pool, market crypto.Address) *fakeMarket {
	m := &fakeMarket{
		totalSupply:  big.NewInt(0),
		totalBorrows: big.NewInt(0),
		borrowIndex:  exp18(1),
		supply:       make(map[crypto.Address]*big.Int),
		borrow:       make(map[crypto.Address]*big.Int),
	}
	l.pools[pool].markets[market] = m
	return m
}

// setSupply sets an account's supply and keeps the market total consistent.
func (l *fakeLedger) setSupply(pool, market, account crypto.Address, amount *big.Int) {
	m := l.pools[pool].markets[market]
	old := copyBigInt(m.supply[account])
	m.totalSupply = new(big.Int).Add(new(big.Int).Sub(m.totalSupply, old), amount)
	m.supply[account] = copyBigInt(amount)
}

func (l *fakeLedger) market(pool, market crypto.Address) (*fakeMarket, error) {
	p, ok := l.pools[pool]
	if !ok {
		return nil, errUnknownMarket
	}
	m, ok := p.markets[market]
	if !ok {
		return nil, errUnknownMarket
	}
	return m, nil
}

func (l *fakeLedger) IsParticipatingPool(pool crypto.Address) bool {
	_, ok := l.pools[pool]
	return ok
}

func (l *fakeLedger) IsLendingEnabled(pool crypto.Address) bool {
	p, ok := l.pools[pool]
	return ok && p.lending
}

func (l *fakeLedger) IsMarketListed(pool, market crypto.Address) bool {
	_, err := l.market(pool, market)
	return err == nil
}

func (l *fakeLedger) PoolAdmin(pool crypto.Address) crypto.Address {
	p, ok := l.pools[pool]
	if !ok {
		return crypto.Address{}
	}
	return p.admin
}

func (l *fakeLedger) TotalSupply(pool, market crypto.Address) (*big.Int, error) {
	m, err := l.market(pool, market)
	if err != nil {
		return nil, err
	}
	return copyBigInt(m.totalSupply), nil
}

func (l *fakeLedger) TotalBorrows(pool, market crypto.Address) (*big.Int, error) {
	m, err := l.market(pool, market)
	if err != nil {
		return nil, err
	}
	return copyBigInt(m.totalBorrows), nil
}

func (l *fakeLedger) BorrowIndex(pool, market crypto.Address) (*big.Int, error) {
	m, err := l.market(pool, market)
	if err != nil {
		return nil, err
	}
	return copyBigInt(m.borrowIndex), nil
}

func (l *fakeLedger) SupplyBalance(pool, market, account crypto.Address) (*big.Int, error) {
	m, err := l.market(pool, market)
	if err != nil {
		return nil, err
	}
	return copyBigInt(m.supply[account]), nil
}

func (l *fakeLedger) BorrowBalanceStored(pool, market, account crypto.Address) (*big.Int, error) {
	m, err := l.market(pool, market)
	if err != nil {
		return nil, err
	}
	return copyBigInt(m.borrow[account]), nil
}

type bankKey struct {
	token  crypto.Address
	holder crypto.Address
}

type fakeBank struct {
	balances map[bankKey]*big.Int
}

func newFakeBank() *fakeBank {
	return &fakeBank{balances: make(map[bankKey]*big.Int)}
}

func (b *fakeBank) fund(token, holder crypto.Address, amount *big.Int) {
	b.balances[bankKey{token, holder}] = copyBigInt(amount)
}

func (b *fakeBank) Balance(token, holder crypto.Address) (*big.Int, error) {
	return copyBigInt(b.balances[bankKey{token, holder}]), nil
}

func (b *fakeBank) Transfer(token, from, to crypto.Address, amount *big.Int) error {
	fromBal := copyBigInt(b.balances[bankKey{token, from}])
	if fromBal.Cmp(amount) < 0 {
		return errors.New("fake bank: insufficient balance")
	}
	b.balances[bankKey{token, from}] = new(big.Int).Sub(fromBal, amount)
	toBal := copyBigInt(b.balances[bankKey{token, to}])
	b.balances[bankKey{token, to}] = new(big.Int).Add(toBal, amount)
	return nil
}

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

// exp18 returns n*1e18.
func exp18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// exp36 returns n*1e36.
func exp36(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), InitialIndex())
}

type testEnv struct {
	engine  *Engine
	state   *mockEngineState
	ledger  *fakeLedger
	bank    *fakeBank
	events  *events.Buffer
	admin   crypto.Address
	factory crypto.Address
	reserve crypto.Address
	native  crypto.Address
}

func newTestEnv(t *testing.T, height uint64) *testEnv {
	t.Helper()
	env := &testEnv{
		state:   newMockEngineState(),
		ledger:  newFakeLedger(),
		bank:    newFakeBank(),
		events:  &events.Buffer{},
		admin:   makeAddress(crypto.AccountPrefix, 0xa1),
		factory: makeAddress(crypto.AccountPrefix, 0xf1),
		reserve: makeAddress(crypto.AccountPrefix, 0xee),
		native:  makeAddress(crypto.TokenPrefix, 0x01),
	}
	cfg := Config{NativeToken: env.native, Reserve: env.reserve, Admin: env.admin, Factory: env.factory}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	env.engine = NewEngine(cfg)
	env.engine.SetState(env.state)
	env.engine.SetLedger(env.ledger)
	env.engine.SetBank(env.bank)
	env.engine.SetEmitter(env.events)
	env.engine.SetBlockHeight(height)
	return env
}

func (env *testEnv) nativeStream() StreamID {
	return env.engine.NativeStreamID()
}

func (env *testEnv) marketState(t *testing.T, stream StreamID, pool, market crypto.Address) *MarketState {
	t.Helper()
	state, err := env.engine.MarketState(stream, pool, market)
	if err != nil {
		t.Fatalf("market state: %v", err)
	}
	if state == nil {
		t.Fatalf("market %s not registered in %s", market, stream)
	}
	return state
}

func (env *testEnv) pending(t *testing.T, stream StreamID, account crypto.Address) *big.Int {
	t.Helper()
	amount, err := env.engine.Pending(stream, account)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	return amount
}

func (env *testEnv) touchSupply(t *testing.T, pool, market crypto.Address, accounts ...crypto.Address) {
	t.Helper()
	if err := env.engine.NotifySupplyChanged(pool, market, accounts...); err != nil {
		t.Fatalf("notify supply: %v", err)
	}
}

func requireBig(t *testing.T, name string, got, want *big.Int) {
	t.Helper()
	if got == nil || got.Cmp(want) != 0 {
		t.Fatalf("unexpected %s: got %v want %s", name, got, want)
	}
}
