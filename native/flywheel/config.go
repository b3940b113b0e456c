package flywheel

import (
	"fmt"

	"lendfarm/crypto"
)

// Config carries the fixed identities the engine trusts.
type Config struct {
	// NativeToken is the reward token emitted by the weighted stream.
	NativeToken crypto.Address
	// Reserve holds the native token and pays native claims and grants.
	Reserve crypto.Address
	// Admin may change weights, the native speed, delegates and grants.
	Admin crypto.Address
	// Factory is the only caller allowed to upgrade pools to lending.
	Factory crypto.Address
}

// Validate ensures every identity is configured.
func (c Config) Validate() error {
	if c.NativeToken.IsZero() {
		return fmt.Errorf("flywheel config: native token must be set")
	}
	if c.Reserve.IsZero() {
		return fmt.Errorf("flywheel config: reserve must be set")
	}
	if c.Admin.IsZero() {
		return fmt.Errorf("flywheel config: admin must be set")
	}
	if c.Factory.IsZero() {
		return fmt.Errorf("flywheel config: factory must be set")
	}
	return nil
}
