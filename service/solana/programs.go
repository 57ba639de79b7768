package solana

import (
	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
)

// tokenPrograms are queried, in order, when discovering an owner's token accounts.
var tokenPrograms = []solana.PublicKey{TokenProgramID, Token2022ProgramID}

// LamportsPerSOL is the fixed scaling factor between lamports and SOL.
const LamportsPerSOL uint64 = 1_000_000_000

// NativeDecimals is the number of decimal places of the native asset.
const NativeDecimals = 9
