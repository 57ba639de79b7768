package portfolio

import (
	"fmt"
	"math/big"

	"github.com/brojonat/folio/service/solana"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Directory maps well-known mints to display symbols.
type Directory map[string]string

// DefaultDirectory knows the major mainnet stablecoins.
func DefaultDirectory() Directory {
	return Directory{
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "USDC",
		"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "USDT",
	}
}

// Symbol returns the symbol for mint, or "" if unknown.
func (d Directory) Symbol(mint string) string {
	return d[mint]
}

// shapeHoldings turns raw token balances into holdings, one per mint.
// When a mint repeats, the last record wins but keeps the first position.
func shapeHoldings(raw []solana.TokenBalance, dir Directory) ([]Holding, error) {
	shaped := lo.Map(raw, func(r solana.TokenBalance, _ int) Holding {
		return Holding{
			Mint:      r.Mint,
			RawAmount: r.Amount,
			Decimals:  r.Decimals,
			Symbol:    dir.Symbol(r.Mint),
		}
	})

	index := make(map[string]int, len(shaped))
	out := make([]Holding, 0, len(shaped))
	for _, h := range shaped {
		if i, ok := index[h.Mint]; ok {
			out[i] = h
			continue
		}
		index[h.Mint] = len(out)
		out = append(out, h)
	}

	// Only the surviving record of each mint is validated.
	for _, h := range out {
		if h.Mint == "" {
			return nil, fmt.Errorf("token balance without mint")
		}
		if _, err := parseRawAmount(h.RawAmount); err != nil {
			return nil, fmt.Errorf("mint %s: %w", h.Mint, err)
		}
	}
	return out, nil
}

func parseRawAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid raw amount %q: %w", s, err)
	}
	if !d.IsInteger() || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid raw amount %q: not a non-negative integer", s)
	}
	return d, nil
}

// totalRaw sums raw amounts across holdings without normalizing decimals.
func totalRaw(holdings []Holding) decimal.Decimal {
	return lo.Reduce(holdings, func(acc decimal.Decimal, h Holding, _ int) decimal.Decimal {
		return acc.Add(decimal.RequireFromString(h.RawAmount))
	}, decimal.Zero)
}

// lamportsToNative scales lamports to SOL exactly.
func lamportsToNative(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -solana.NativeDecimals)
}

// FormatBalance renders a balance with two decimal places.
func FormatBalance(balance float64) string {
	return decimal.NewFromFloat(balance).StringFixed(2)
}
