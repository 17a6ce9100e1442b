package lending

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("1000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, a.IsMax())
	assert.True(t, a.IsPositive())
	assert.Equal(t, "1000000000000000000000000000000", a.Int().String())

	a, err = ParseAmount(" MAX ")
	require.NoError(t, err)
	assert.True(t, a.IsMax())
	assert.Nil(t, a.Int())
	assert.False(t, a.IsPositive())

	_, err = ParseAmount("1.5")
	assert.True(t, IsKind(err, KindInvalidAmount))

	a, err = ParseAmount("0")
	require.NoError(t, err)
	assert.False(t, a.IsPositive())
}

func TestAmountJSON(t *testing.T) {
	var body struct {
		Amount Amount `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"max"}`), &body))
	assert.True(t, body.Amount.IsMax())

	require.NoError(t, json.Unmarshal([]byte(`{"amount":250}`), &body))
	assert.Equal(t, int64(250), body.Amount.Int().Int64())

	assert.Error(t, json.Unmarshal([]byte(`{"amount":true}`), &body))

	out, err := json.Marshal(NewAmount(big.NewInt(7)))
	require.NoError(t, err)
	assert.JSONEq(t, `"7"`, string(out))
}

func TestAmountIntIsCopy(t *testing.T) {
	a := NewAmount(big.NewInt(5))
	a.Int().SetInt64(9)
	assert.Equal(t, int64(5), a.Int().Int64())
}

func TestAssetRegistry(t *testing.T) {
	usdc := AssetDescriptor{
		Symbol:       "USDC",
		Address:      common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Decimals:     6,
		ReceiptToken: common.HexToAddress("0x39AA39c021dfbaE8faC545936693aC917d5E7563"),
	}
	weth := AssetDescriptor{
		Symbol:   "weth",
		Address:  common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		Decimals: 18,
	}
	r, err := NewAssetRegistry([]AssetDescriptor{usdc, weth})
	require.NoError(t, err)

	got, ok := r.Lookup("usdc")
	require.True(t, ok)
	assert.Equal(t, uint8(6), got.Decimals)

	got, ok = r.Lookup(weth.Address.Hex())
	require.True(t, ok)
	assert.Equal(t, "weth", got.Symbol)

	got, ok = r.ByAddress(usdc.ReceiptToken)
	require.True(t, ok)
	assert.Equal(t, "USDC", got.Symbol)

	_, err = r.Require(ProtocolCompound, "DAI")
	assert.True(t, IsKind(err, KindAssetNotSupported))

	assert.Equal(t, []string{"USDC", "weth"}, r.Symbols())
	assert.Len(t, r.All(), 2)
	assert.Equal(t, "USDC", r.All()[0].Symbol)

	_, err = NewAssetRegistry([]AssetDescriptor{usdc, usdc})
	assert.Error(t, err)
	_, err = NewAssetRegistry([]AssetDescriptor{{Symbol: "X"}})
	assert.Error(t, err)
}
