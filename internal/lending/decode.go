// internal/lending/decode.go
package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OutBig извлекает целое из i-го значения результата Read.
func OutBig(out []interface{}, i int) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("output %d missing (got %d values)", i, len(out))
	}
	switch v := out[i].(type) {
	case *big.Int:
		if v == nil {
			return new(big.Int), nil
		}
		return new(big.Int).Set(v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		return big.NewInt(v), nil
	}
	return nil, fmt.Errorf("output %d: unexpected type %T", i, out[i])
}

// OutBool извлекает bool.
func OutBool(out []interface{}, i int) (bool, error) {
	if i >= len(out) {
		return false, fmt.Errorf("output %d missing (got %d values)", i, len(out))
	}
	v, ok := out[i].(bool)
	if !ok {
		return false, fmt.Errorf("output %d: unexpected type %T", i, out[i])
	}
	return v, nil
}

// OutAddresses извлекает address[].
func OutAddresses(out []interface{}, i int) ([]common.Address, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("output %d missing (got %d values)", i, len(out))
	}
	v, ok := out[i].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("output %d: unexpected type %T", i, out[i])
	}
	return v, nil
}

// Outputs decodes several integer outputs at once.
func Outputs(out []interface{}, idx ...int) ([]*big.Int, error) {
	res := make([]*big.Int, len(idx))
	for n, i := range idx {
		v, err := OutBig(out, i)
		if err != nil {
			return nil, err
		}
		res[n] = v
	}
	return res, nil
}
