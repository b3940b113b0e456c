package genesis

import (
	"fmt"
	"math/big"
	"sort"

	corestate "lendfarm/core/state"
	"lendfarm/crypto"
	"lendfarm/native/flywheel"
	"lendfarm/native/lending"
)

var appliedKey = []byte("genesis/applied")

// Applied reports whether a seed has already been written to the store.
func Applied(state *corestate.Manager) (bool, error) {
	var applied bool
	if _, err := state.KVGet(appliedKey, &applied); err != nil {
		return false, err
	}
	return applied, nil
}

// Apply writes the seed through the engines so every hook and event fires as
// it would for a live action. Pools are created by the factory, markets are
// listed and farms opened by each pool admin, and native weights are set by
// the flywheel admin. A store that was already seeded is left untouched.
func Apply(spec *Spec, rewards *flywheel.Engine, ledger *lending.Engine, state *corestate.Manager) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("seed spec must not be nil")
	}
	if rewards == nil || ledger == nil || state == nil {
		return false, fmt.Errorf("seed requires flywheel, ledger and state")
	}
	applied, err := Applied(state)
	if err != nil {
		return false, fmt.Errorf("check seed marker: %w", err)
	}
	if applied {
		return false, nil
	}
	cfg := rewards.Config()

	// 1) Tokens
	for _, token := range spec.Tokens {
		addr, _ := ParseBech32(token.Address, crypto.TokenPrefix)
		if err := state.RegisterToken(addr, token.Symbol, token.Name, token.Decimals); err != nil {
			return false, fmt.Errorf("token %s: %w", token.Symbol, err)
		}
	}

	// 2) Pools, markets and borrow indices
	for _, pool := range spec.Pools {
		poolAddr, _ := ParseBech32(pool.Address, crypto.PoolPrefix)
		admin, _ := ParseBech32(pool.Admin, crypto.AccountPrefix)
		if err := ledger.CreatePool(cfg.Factory, poolAddr, admin); err != nil {
			return false, fmt.Errorf("pool %s: %w", pool.Address, err)
		}
		for _, market := range pool.Markets {
			marketAddr, _ := ParseBech32(market.Address, crypto.MarketPrefix)
			if err := ledger.ListMarket(admin, poolAddr, marketAddr); err != nil {
				return false, fmt.Errorf("pool %s market %s: %w", pool.Address, market.Address, err)
			}
			index, _ := parseAmount(market.BorrowIndex)
			if index != nil {
				if err := ledger.AccrueInterest(admin, poolAddr, marketAddr, index); err != nil {
					return false, fmt.Errorf("pool %s market %s borrow index: %w", pool.Address, market.Address, err)
				}
			}
		}
		if pool.Lending {
			if err := ledger.UpgradeToLending(cfg.Factory, poolAddr); err != nil {
				return false, fmt.Errorf("pool %s upgrade: %w", pool.Address, err)
			}
		}
	}

	// 3) Native stream
	if speed, _ := parseAmount(spec.NativeSpeed); speed != nil {
		if err := rewards.SetNativeSpeed(cfg.Admin, speed); err != nil {
			return false, fmt.Errorf("native speed: %w", err)
		}
	}
	for _, pool := range spec.Pools {
		poolAddr, _ := ParseBech32(pool.Address, crypto.PoolPrefix)
		markets := make([]crypto.Address, 0, len(pool.Markets))
		weights := make([]*big.Int, 0, len(pool.Markets))
		for _, market := range pool.Markets {
			weight, _ := parseAmount(market.Weight)
			if weight == nil {
				continue
			}
			marketAddr, _ := ParseBech32(market.Address, crypto.MarketPrefix)
			markets = append(markets, marketAddr)
			weights = append(weights, weight)
		}
		if len(markets) == 0 {
			continue
		}
		if err := rewards.SetWeights(cfg.Admin, poolAddr, markets, weights); err != nil {
			return false, fmt.Errorf("pool %s weights: %w", pool.Address, err)
		}
	}

	// 4) Guest farms (markets sorted)
	for _, pool := range spec.Pools {
		poolAddr, _ := ParseBech32(pool.Address, crypto.PoolPrefix)
		admin, _ := ParseBech32(pool.Admin, crypto.AccountPrefix)
		for _, farm := range pool.Farms {
			token, _ := ParseBech32(farm.Token, crypto.TokenPrefix)
			if err := rewards.SetTokenFarm(admin, poolAddr, token, farm.Start, farm.End); err != nil {
				return false, fmt.Errorf("pool %s farm %s: %w", pool.Address, farm.Token, err)
			}
			keys := sortedKeys(farm.Speeds)
			if len(keys) == 0 {
				continue
			}
			markets := make([]crypto.Address, 0, len(keys))
			speeds := make([]*big.Int, 0, len(keys))
			for _, key := range keys {
				marketAddr, _ := ParseBech32(key, crypto.MarketPrefix)
				speed, _ := parseAmount(farm.Speeds[key])
				if speed == nil {
					speed = big.NewInt(0)
				}
				markets = append(markets, marketAddr)
				speeds = append(speeds, speed)
			}
			if err := rewards.SetSpeeds(admin, poolAddr, token, markets, speeds); err != nil {
				return false, fmt.Errorf("pool %s farm %s speeds: %w", pool.Address, farm.Token, err)
			}
		}
	}

	// 5) Balances (holder sorted; tokens sorted)
	for _, holderStr := range sortedKeys(spec.Balances) {
		holder, _ := ParseBech32(holderStr)
		balances := spec.Balances[holderStr]
		for _, tokenStr := range sortedKeys(balances) {
			token, _ := ParseBech32(tokenStr, crypto.TokenPrefix)
			amount, _ := parseAmount(balances[tokenStr])
			if amount == nil {
				continue
			}
			if err := state.SetBalance(token, holder, amount); err != nil {
				return false, fmt.Errorf("balances[%q][%q]: %w", holderStr, tokenStr, err)
			}
		}
	}

	// 6) Delegates
	for _, delegateStr := range spec.Delegates {
		delegate, _ := ParseBech32(delegateStr, crypto.AccountPrefix)
		if err := rewards.SetDelegate(cfg.Admin, delegate, true); err != nil {
			return false, fmt.Errorf("delegate %s: %w", delegateStr, err)
		}
	}

	if err := state.KVPut(appliedKey, true); err != nil {
		return false, fmt.Errorf("persist seed marker: %w", err)
	}
	return true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
