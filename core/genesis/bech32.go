package genesis

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"

	"lendfarm/crypto"
)

// ParseBech32 decodes addr and checks its prefix against the allowed set. An
// empty allowed set accepts any lendfarm prefix.
func ParseBech32(addr string, allowed ...crypto.AddressPrefix) (crypto.Address, error) {
	hrp, data, err := bech32.Decode(strings.TrimSpace(addr))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("decode bech32 address: %w", err)
	}
	prefix := crypto.AddressPrefix(hrp)
	if !prefixAllowed(prefix, allowed) {
		return crypto.Address{}, fmt.Errorf("decode bech32 address: unsupported hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("decode bech32 address: %w", err)
	}
	if len(decoded) != crypto.AddressLength {
		return crypto.Address{}, fmt.Errorf("decode bech32 address: invalid address length %d", len(decoded))
	}
	return crypto.NewAddress(prefix, decoded), nil
}

func prefixAllowed(prefix crypto.AddressPrefix, allowed []crypto.AddressPrefix) bool {
	if len(allowed) == 0 {
		allowed = []crypto.AddressPrefix{crypto.AccountPrefix, crypto.PoolPrefix, crypto.MarketPrefix, crypto.TokenPrefix}
	}
	for _, candidate := range allowed {
		if candidate == prefix {
			return true
		}
	}
	return false
}
