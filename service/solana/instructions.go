package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// maxMemoLength keeps memos well inside the transaction size limit.
const maxMemoLength = 566

// NewMemoInstruction builds an SPL Memo instruction signed by signer.
func NewMemoInstruction(memo string, signer Signer) (Instruction, error) {
	if memo == "" {
		return Instruction{}, fmt.Errorf("memo cannot be empty")
	}
	if len(memo) > maxMemoLength {
		return Instruction{}, fmt.Errorf("memo too long: maximum length is %d bytes", maxMemoLength)
	}

	ix := solana.NewInstruction(
		MemoProgramIDSPL,
		solana.AccountMetaSlice{
			{PublicKey: signer.PublicKey(), IsSigner: true, IsWritable: false},
		},
		[]byte(memo),
	)
	return NewInstruction(ix, signer), nil
}

// NewTransferInstruction builds a native SOL transfer from signer to recipient.
func NewTransferInstruction(lamports uint64, signer Signer, recipient solana.PublicKey) (Instruction, error) {
	if lamports == 0 {
		return Instruction{}, fmt.Errorf("transfer amount must be positive")
	}
	if recipient.IsZero() {
		return Instruction{}, fmt.Errorf("recipient is required")
	}

	ix := system.NewTransferInstruction(lamports, signer.PublicKey(), recipient).Build()
	return NewInstruction(ix, signer), nil
}

// AccountSpec describes one account of a raw instruction.
type AccountSpec struct {
	PublicKey  string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

// NewRawInstruction builds an instruction for an arbitrary program. Signing
// accounts must be backed by one of signers.
func NewRawInstruction(programID string, accounts []AccountSpec, data []byte, signers ...Signer) (Instruction, error) {
	program, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return Instruction{}, fmt.Errorf("invalid program id: %w", err)
	}

	metas := make(solana.AccountMetaSlice, 0, len(accounts))
	for _, a := range accounts {
		key, err := solana.PublicKeyFromBase58(a.PublicKey)
		if err != nil {
			return Instruction{}, fmt.Errorf("invalid account %q: %w", a.PublicKey, err)
		}
		metas = append(metas, solana.NewAccountMeta(key, a.IsWritable, a.IsSigner))
	}

	return NewInstruction(solana.NewInstruction(program, metas, data), signers...), nil
}
