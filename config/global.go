package config

import (
	"fmt"
	"math/big"
	"strings"

	"lendfarm/crypto"
	nativecommon "lendfarm/native/common"
	"lendfarm/native/flywheel"
)

// Identities decodes the configured addresses into the engine config.
func (f Flywheel) Identities() (flywheel.Config, error) {
	var cfg flywheel.Config
	var err error
	if cfg.NativeToken, err = decodeField("flywheel.NativeToken", f.NativeToken, crypto.TokenPrefix); err != nil {
		return cfg, err
	}
	if cfg.Reserve, err = decodeField("flywheel.Reserve", f.Reserve, crypto.AccountPrefix); err != nil {
		return cfg, err
	}
	if cfg.Admin, err = decodeField("flywheel.Admin", f.Admin, crypto.AccountPrefix); err != nil {
		return cfg, err
	}
	if cfg.Factory, err = decodeField("flywheel.Factory", f.Factory, crypto.AccountPrefix); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// InitialSpeedAmount parses the native speed applied when the store is empty.
func (f Flywheel) InitialSpeedAmount() (*big.Int, error) {
	speed, err := parseUintAmount(f.InitialSpeed)
	if err != nil {
		return nil, fmt.Errorf("invalid flywheel.InitialSpeed: %w", err)
	}
	return speed, nil
}

// PauseSet returns the modules paused at startup.
func (f Flywheel) PauseSet() *nativecommon.PauseSet {
	return nativecommon.NewPauseSet(f.Paused...)
}

func decodeField(field, value string, prefix crypto.AddressPrefix) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	if addr.Prefix() != prefix {
		return crypto.Address{}, fmt.Errorf("invalid %s: expected %s prefix, got %s", field, prefix, addr.Prefix())
	}
	return addr, nil
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
