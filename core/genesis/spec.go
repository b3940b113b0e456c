package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"lendfarm/crypto"
)

// Spec is the bootstrap seed applied once to an empty store.
type Spec struct {
	NativeSpeed string                       `yaml:"nativeSpeed"`
	Tokens      []TokenSpec                  `yaml:"tokens"`
	Pools       []PoolSpec                   `yaml:"pools"`
	Balances    map[string]map[string]string `yaml:"balances"` // holder -> token -> amount
	Delegates   []string                     `yaml:"delegates"`
}

type TokenSpec struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals uint8  `yaml:"decimals"`
}

type PoolSpec struct {
	Address string       `yaml:"address"`
	Admin   string       `yaml:"admin"`
	Lending bool         `yaml:"lending"`
	Markets []MarketSpec `yaml:"markets"`
	Farms   []FarmSpec   `yaml:"farms"`
}

// MarketSpec lists a market. An empty Weight leaves it out of the native
// stream; an empty BorrowIndex keeps the unit index.
type MarketSpec struct {
	Address     string `yaml:"address"`
	Weight      string `yaml:"weight"`
	BorrowIndex string `yaml:"borrowIndex"`
}

type FarmSpec struct {
	Token  string            `yaml:"token"`
	Start  uint64            `yaml:"start"`
	End    uint64            `yaml:"end"`
	Speeds map[string]string `yaml:"speeds"` // market -> per-block speed
}

// LoadSpec reads and validates a YAML seed. Unknown fields are rejected.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("seed path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %q: %w", path, err)
	}
	return ParseSpec(raw)
}

// ParseSpec decodes and validates a YAML seed document.
func ParseSpec(raw []byte) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return &spec, nil
}

func (s *Spec) validate() error {
	if _, err := parseAmount(s.NativeSpeed); err != nil {
		return fmt.Errorf("nativeSpeed: %w", err)
	}
	symbols := make(map[string]struct{}, len(s.Tokens))
	for i, token := range s.Tokens {
		if _, err := ParseBech32(token.Address, crypto.TokenPrefix); err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		key := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if key == "" {
			return fmt.Errorf("tokens[%d]: symbol must be provided", i)
		}
		if _, exists := symbols[key]; exists {
			return fmt.Errorf("tokens[%d]: duplicate symbol %q", i, token.Symbol)
		}
		symbols[key] = struct{}{}
	}
	for i, pool := range s.Pools {
		if _, err := ParseBech32(pool.Address, crypto.PoolPrefix); err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		if _, err := ParseBech32(pool.Admin, crypto.AccountPrefix); err != nil {
			return fmt.Errorf("pools[%d].admin: %w", i, err)
		}
		for j, market := range pool.Markets {
			if _, err := ParseBech32(market.Address, crypto.MarketPrefix); err != nil {
				return fmt.Errorf("pools[%d].markets[%d]: %w", i, j, err)
			}
			if _, err := parseAmount(market.Weight); err != nil {
				return fmt.Errorf("pools[%d].markets[%d].weight: %w", i, j, err)
			}
			if _, err := parseAmount(market.BorrowIndex); err != nil {
				return fmt.Errorf("pools[%d].markets[%d].borrowIndex: %w", i, j, err)
			}
		}
		for j, farm := range pool.Farms {
			if _, err := ParseBech32(farm.Token, crypto.TokenPrefix); err != nil {
				return fmt.Errorf("pools[%d].farms[%d]: %w", i, j, err)
			}
			if farm.End < farm.Start {
				return fmt.Errorf("pools[%d].farms[%d]: end before start", i, j)
			}
			for market, speed := range farm.Speeds {
				if _, err := ParseBech32(market, crypto.MarketPrefix); err != nil {
					return fmt.Errorf("pools[%d].farms[%d].speeds: %w", i, j, err)
				}
				if _, err := parseAmount(speed); err != nil {
					return fmt.Errorf("pools[%d].farms[%d].speeds[%s]: %w", i, j, market, err)
				}
			}
		}
	}
	for holder, balances := range s.Balances {
		if _, err := ParseBech32(holder); err != nil {
			return fmt.Errorf("balances[%q]: %w", holder, err)
		}
		for token, amount := range balances {
			if _, err := ParseBech32(token, crypto.TokenPrefix); err != nil {
				return fmt.Errorf("balances[%q][%q]: %w", holder, token, err)
			}
			if _, err := parseAmount(amount); err != nil {
				return fmt.Errorf("balances[%q][%q]: %w", holder, token, err)
			}
		}
	}
	for i, delegate := range s.Delegates {
		if _, err := ParseBech32(delegate, crypto.AccountPrefix); err != nil {
			return fmt.Errorf("delegates[%d]: %w", i, err)
		}
	}
	return nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	return amount, nil
}
