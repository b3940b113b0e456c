package crypto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the size of the raw address payload in bytes.
const AddressLength = 20

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	AccountPrefix AddressPrefix = "lf"
	PoolPrefix    AddressPrefix = "lfpool"
	MarketPrefix  AddressPrefix = "lfmkt"
	TokenPrefix   AddressPrefix = "lftok"
)

// Address represents a 20-byte identifier with a human-readable prefix. The
// value is comparable so it can key maps directly.
type Address struct {
	prefix AddressPrefix
	raw    [AddressLength]byte
	set    bool
}

// NewAddress builds an address from a 20 byte payload. It panics on any other
// length.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	addr := Address{prefix: prefix, set: true}
	copy(addr.raw[:], b)
	return addr
}

// AddressFromSeed derives a deterministic address from a label. Used for
// module reserves and bootstrap fixtures.
func AddressFromSeed(prefix AddressPrefix, label string) Address {
	digest := ethcrypto.Keccak256([]byte(label))
	return NewAddress(prefix, digest[len(digest)-AddressLength:])
}

func (a Address) String() string {
	if !a.set {
		return ""
	}
	conv, err := bech32.ConvertBits(a.raw[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw payload, or nil for the zero address.
func (a Address) Bytes() []byte {
	if !a.set {
		return nil
	}
	out := make([]byte, AddressLength)
	copy(out, a.raw[:])
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address was never assigned.
func (a Address) IsZero() bool {
	return !a.set
}

// Equal compares payloads and ignores the prefix.
func (a Address) Equal(other Address) bool {
	return a.set == other.set && bytes.Equal(a.raw[:], other.raw[:])
}

// MarshalText encodes the address as bech32.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a bech32 address. Empty input yields the zero address.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("invalid address length %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// MustDecodeAddress panics when the input is not a valid address.
func MustDecodeAddress(addrStr string) Address {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return addr
}
