package portfolio

import (
	"math"
	"testing"

	"github.com/brojonat/folio/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLamportsToNative(t *testing.T) {
	tests := []struct {
		lamports uint64
		want     string
	}{
		{0, "0"},
		{1, "0.000000001"},
		{2_000_000_000, "2"},
		{2_500_000_000, "2.5"},
		{math.MaxUint64, "18446744073.709551615"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, lamportsToNative(tt.lamports).String())
		})
	}
}

func TestShapeHoldings(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		out, err := shapeHoldings(nil, DefaultDirectory())
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("amount beyond float precision is kept as text", func(t *testing.T) {
		out, err := shapeHoldings([]solana.TokenBalance{
			{Mint: "m1", Amount: "123456789012345678901234567890", Decimals: 9},
		}, Directory{})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "123456789012345678901234567890", out[0].RawAmount)
		assert.Equal(t, "123456789012345678901234567890", totalRaw(out).String())
	})

	t.Run("rejects negative amounts", func(t *testing.T) {
		_, err := shapeHoldings([]solana.TokenBalance{{Mint: "m1", Amount: "-1"}}, Directory{})
		assert.Error(t, err)
	})

	t.Run("rejects non-numeric amounts", func(t *testing.T) {
		_, err := shapeHoldings([]solana.TokenBalance{{Mint: "m1", Amount: "lots"}}, Directory{})
		assert.Error(t, err)
	})

	t.Run("rejects missing mint", func(t *testing.T) {
		_, err := shapeHoldings([]solana.TokenBalance{{Amount: "1"}}, Directory{})
		assert.Error(t, err)
	})

	t.Run("malformed record replaced by a later duplicate is ignored", func(t *testing.T) {
		out, err := shapeHoldings([]solana.TokenBalance{
			{Mint: "m1", Amount: "lots"},
			{Mint: "m2", Amount: "3"},
			{Mint: "m1", Amount: "7"},
		}, Directory{})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "m1", out[0].Mint)
		assert.Equal(t, "7", out[0].RawAmount)
	})

	t.Run("malformed last duplicate is rejected", func(t *testing.T) {
		_, err := shapeHoldings([]solana.TokenBalance{
			{Mint: "m1", Amount: "7"},
			{Mint: "m1", Amount: "lots"},
		}, Directory{})
		assert.Error(t, err)
	})
}

func TestTotalRaw_OrderIndependent(t *testing.T) {
	a := []Holding{{Mint: "a", RawAmount: "5"}, {Mint: "b", RawAmount: "10"}, {Mint: "c", RawAmount: "0"}}
	b := []Holding{a[2], a[0], a[1]}

	assert.Equal(t, totalRaw(a).String(), totalRaw(b).String())
	assert.Equal(t, "15", totalRaw(a).String())
}

func TestFormatBalance(t *testing.T) {
	assert.Equal(t, "2.00", FormatBalance(2))
	assert.Equal(t, "2.50", FormatBalance(2.5))
	assert.Equal(t, "0.00", FormatBalance(0))
	assert.Equal(t, "1234.57", FormatBalance(1234.5678))
}

func TestDirectorySymbol(t *testing.T) {
	dir := DefaultDirectory()
	assert.Equal(t, "USDC", dir.Symbol(usdcMint))
	assert.Equal(t, "USDT", dir.Symbol(usdtMint))
	assert.Empty(t, dir.Symbol("unknown"))
}
