package flywheel

import (
	"fmt"
	"math/big"

	"lendfarm/crypto"
)

// Side selects the supply or borrow half of a market.
type Side uint8

const (
	SideSupply Side = iota + 1
	SideBorrow
)

func (s Side) String() string {
	switch s {
	case SideSupply:
		return "supply"
	case SideBorrow:
		return "borrow"
	default:
		return "unknown"
	}
}

// Sides expands the include flags into the ordered list of sides to process.
func Sides(supply, borrow bool) []Side {
	out := make([]Side, 0, 2)
	if supply {
		out = append(out, SideSupply)
	}
	if borrow {
		out = append(out, SideBorrow)
	}
	return out
}

// StreamKind distinguishes the protocol-native stream from guest-token
// streams.
type StreamKind uint8

const (
	StreamNative StreamKind = iota + 1
	StreamGuest
)

func (k StreamKind) String() string {
	switch k {
	case StreamNative:
		return "native"
	case StreamGuest:
		return "guest"
	default:
		return "unknown"
	}
}

// StreamID identifies a reward stream. The native stream carries no pool;
// guest streams are scoped to the pool that funds them.
type StreamID struct {
	Kind  StreamKind
	Pool  crypto.Address
	Token crypto.Address
}

// NativeStream returns the identifier of the weighted protocol stream.
func NativeStream(token crypto.Address) StreamID {
	return StreamID{Kind: StreamNative, Token: token}
}

// GuestStream returns the identifier of a pool-scoped guest-token stream.
func GuestStream(pool, token crypto.Address) StreamID {
	return StreamID{Kind: StreamGuest, Pool: pool, Token: token}
}

// IsNative reports whether the stream is the weighted protocol stream.
func (s StreamID) IsNative() bool { return s.Kind == StreamNative }

func (s StreamID) String() string {
	if s.IsNative() {
		return fmt.Sprintf("native:%s", s.Token)
	}
	return fmt.Sprintf("guest:%s:%s", s.Pool, s.Token)
}

// MarketKey addresses the reward state of one market inside one stream.
type MarketKey struct {
	Stream StreamID
	Pool   crypto.Address
	Market crypto.Address
}

// CheckpointKey addresses the last index an account settled against.
type CheckpointKey struct {
	MarketKey
	Side    Side
	Account crypto.Address
}

// MarketState captures the reward index bookkeeping of a registered market.
// Rate holds the weight for the native stream and the absolute speed for
// guest streams.
type MarketState struct {
	Rate        *big.Int
	SupplyIndex *big.Int
	SupplyBlock uint64
	BorrowIndex *big.Int
	BorrowBlock uint64
}

// Clone returns a deep copy of the state.
func (m *MarketState) Clone() *MarketState {
	if m == nil {
		return nil
	}
	return &MarketState{
		Rate:        copyBigInt(m.Rate),
		SupplyIndex: copyBigInt(m.SupplyIndex),
		SupplyBlock: m.SupplyBlock,
		BorrowIndex: copyBigInt(m.BorrowIndex),
		BorrowBlock: m.BorrowBlock,
	}
}

// Index returns the cumulative index of the side.
func (m *MarketState) Index(side Side) *big.Int {
	if side == SideBorrow {
		return copyBigInt(m.BorrowIndex)
	}
	return copyBigInt(m.SupplyIndex)
}

// Block returns the last accrual block of the side.
func (m *MarketState) Block(side Side) uint64 {
	if side == SideBorrow {
		return m.BorrowBlock
	}
	return m.SupplyBlock
}

func (m *MarketState) set(side Side, index *big.Int, block uint64) {
	if side == SideBorrow {
		m.BorrowIndex = copyBigInt(index)
		m.BorrowBlock = block
		return
	}
	m.SupplyIndex = copyBigInt(index)
	m.SupplyBlock = block
}

// NativeState holds the global parameters of the weighted stream.
type NativeState struct {
	Speed       *big.Int
	TotalWeight *big.Int
	Pools       []crypto.Address
}

// Clone returns a deep copy of the state.
func (n *NativeState) Clone() *NativeState {
	if n == nil {
		return &NativeState{Speed: big.NewInt(0), TotalWeight: big.NewInt(0)}
	}
	return &NativeState{
		Speed:       copyBigInt(n.Speed),
		TotalWeight: copyBigInt(n.TotalWeight),
		Pools:       append([]crypto.Address(nil), n.Pools...),
	}
}

// PoolRecord tracks a pool's participation in the native stream. Lending is
// set once by the factory upgrade and may precede registration.
type PoolRecord struct {
	Registered bool
	Lending    bool
	Markets    []crypto.Address
}

// Clone returns a deep copy of the record.
func (p *PoolRecord) Clone() *PoolRecord {
	if p == nil {
		return &PoolRecord{}
	}
	return &PoolRecord{
		Registered: p.Registered,
		Lending:    p.Lending,
		Markets:    append([]crypto.Address(nil), p.Markets...),
	}
}

// TokenFarm describes the emission window of a guest token in a pool and the
// markets registered to it.
type TokenFarm struct {
	StartBlock uint64
	EndBlock   uint64
	Markets    []crypto.Address
}

// Clone returns a deep copy of the farm.
func (f *TokenFarm) Clone() *TokenFarm {
	if f == nil {
		return nil
	}
	return &TokenFarm{
		StartBlock: f.StartBlock,
		EndBlock:   f.EndBlock,
		Markets:    append([]crypto.Address(nil), f.Markets...),
	}
}

// MarketRef names a market inside a pool.
type MarketRef struct {
	Pool   crypto.Address
	Market crypto.Address
}

// ClaimScope selects markets of one pool. A nil Markets slice selects every
// market registered to the stream in that pool.
type ClaimScope struct {
	Pool    crypto.Address
	Markets []crypto.Address
}

// ClaimRequest describes a settlement. Without Supply or Borrow only the
// stored pending balance is paid. Empty Scopes with a side selected settle
// every registered market of the stream.
type ClaimRequest struct {
	Caller    crypto.Address
	Account   crypto.Address
	Recipient crypto.Address
	Streams   []StreamID
	Scopes    []ClaimScope
	Supply    bool
	Borrow    bool
}

// ClaimResult reports the outcome of one stream inside a claim.
type ClaimResult struct {
	Stream     StreamID
	Accrued    *big.Int
	Claimed    *big.Int
	NotClaimed *big.Int
}

// Projection is the read-only estimate of an account's position in a stream.
type Projection struct {
	Stream        StreamID
	Stored        *big.Int
	Undistributed *big.Int
	Total         *big.Int
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func containsAddress(list []crypto.Address, addr crypto.Address) bool {
	for _, candidate := range list {
		if candidate == addr {
			return true
		}
	}
	return false
}
