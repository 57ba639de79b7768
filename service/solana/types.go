package solana

import (
	"github.com/gagliardetto/solana-go"
)

// BlockhashLifetime bounds how long a built-but-unsent transaction stays valid.
type BlockhashLifetime struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// TokenBalance is a raw token holding discovered for an owner.
// This is our domain model, independent of the RPC response format.
type TokenBalance struct {
	Mint         string
	TokenAccount string
	Amount       string // integer magnitude in base units
	Decimals     uint8
}
