package lending

import "math/big"

// expScale is the precision of market interest indexes.
var expScale = mustBigInt("1000000000000000000")

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// scaleByIndex returns amount*newIndex/oldIndex, truncating. A zero old index
// leaves the amount unchanged.
func scaleByIndex(amount, newIndex, oldIndex *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	if oldIndex == nil || oldIndex.Sign() == 0 {
		return copyBigInt(amount)
	}
	product := new(big.Int).Mul(amount, newIndex)
	return product.Quo(product, oldIndex)
}
