package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/text/unicode/norm"

	"lendfarm/crypto"
	"lendfarm/storage"
)

var (
	ErrTokenNotRegistered  = errors.New("state: token not registered")
	ErrInsufficientBalance = errors.New("state: insufficient balance")
)

// Manager reads and writes RLP-encoded records over a key-value store. Keys
// are keccak256 hashes of a readable prefix and the record's identifiers.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix   = []byte("token:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix = []byte("balance:")
)

func tokenMetadataKey(token crypto.Address) []byte {
	return hashKey(tokenPrefix, token.Bytes())
}

func balanceKey(token, holder crypto.Address) []byte {
	return hashKey(balancePrefix, token.Bytes(), []byte{':'}, holder.Bytes())
}

func hashKey(parts ...[]byte) []byte {
	return ethcrypto.Keccak256(bytes.Join(parts, nil))
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// get returns nil without error for missing keys.
func (m *Manager) get(key []byte) ([]byte, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// getRLP decodes the record under key into out and reports whether it
// existed.
func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	data, err := m.get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) getBigInt(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := m.getRLP(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) putBigInt(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative value not allowed")
	}
	return m.putRLP(key, amount)
}

func (m *Manager) loadTokenList() ([]string, error) {
	var list []string
	if _, err := m.getRLP(tokenListKey, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

// RegisterToken stores the metadata for a reward token and records it in the
// token index. Symbol and name are NFKC-normalised so compatibility forms of
// the same text register identically.
func (m *Manager) RegisterToken(token crypto.Address, symbol, name string, decimals uint8) error {
	if token.IsZero() {
		return fmt.Errorf("token address must not be empty")
	}
	normalized := strings.ToUpper(norm.NFKC.String(strings.TrimSpace(symbol)))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	name = norm.NFKC.String(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.Token(token); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", token)
	}
	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, token.String())
	if err := m.putRLP(tokenListKey, list); err != nil {
		return err
	}
	return m.putRLP(tokenMetadataKey(token), &TokenMetadata{
		Symbol:   normalized,
		Name:     name,
		Decimals: decimals,
	})
}

// Token retrieves metadata for a registered token, or nil.
func (m *Manager) Token(token crypto.Address) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.getRLP(tokenMetadataKey(token), meta)
	if err != nil || !ok {
		return nil, err
	}
	return meta, nil
}

// TokenList returns all registered tokens in registration order.
func (m *Manager) TokenList() ([]crypto.Address, error) {
	list, err := m.loadTokenList()
	if err != nil {
		return nil, err
	}
	return decodeAddresses(list)
}

// SetBalance stores a holder's balance of a registered token.
func (m *Manager) SetBalance(token, holder crypto.Address, amount *big.Int) error {
	if holder.IsZero() {
		return fmt.Errorf("address must not be empty")
	}
	if meta, err := m.Token(token); err != nil {
		return err
	} else if meta == nil {
		return fmt.Errorf("%w: %s", ErrTokenNotRegistered, token)
	}
	return m.putBigInt(balanceKey(token, holder), amount)
}

// Balance retrieves a holder's token balance. Unknown balances are zero.
func (m *Manager) Balance(token, holder crypto.Address) (*big.Int, error) {
	return m.getBigInt(balanceKey(token, holder))
}

// Transfer moves amount of token between holders.
func (m *Manager) Transfer(token, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}
	fromBalance, err := m.Balance(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if from == to || amount.Sign() == 0 {
		return nil
	}
	toBalance, err := m.Balance(token, to)
	if err != nil {
		return err
	}
	if err := m.SetBalance(token, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return m.SetBalance(token, to, new(big.Int).Add(toBalance, amount))
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the store.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.putRLP(kvKey(key), value)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

func encodeAddresses(list []crypto.Address) []string {
	out := make([]string, len(list))
	for i, addr := range list {
		out[i] = addr.String()
	}
	return out
}

func decodeAddresses(list []string) ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(list))
	for _, raw := range list {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
