package solana

import (
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoInstruction(t *testing.T) {
	signer := NewKeypairSigner(solana.NewWallet().PrivateKey)

	t.Run("valid memo", func(t *testing.T) {
		ix, err := NewMemoInstruction("gm", signer)
		require.NoError(t, err)

		assert.Equal(t, MemoProgramIDSPL, ix.ProgramID())
		data, err := ix.Data()
		require.NoError(t, err)
		assert.Equal(t, []byte("gm"), data)

		accounts := ix.Accounts()
		require.Len(t, accounts, 1)
		assert.Equal(t, signer.PublicKey(), accounts[0].PublicKey)
		assert.True(t, accounts[0].IsSigner)
		require.Len(t, ix.Signers, 1)
	})

	t.Run("empty memo", func(t *testing.T) {
		_, err := NewMemoInstruction("", signer)
		assert.Error(t, err)
	})

	t.Run("memo too long", func(t *testing.T) {
		_, err := NewMemoInstruction(strings.Repeat("a", maxMemoLength+1), signer)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "too long")
	})
}

func TestNewTransferInstruction(t *testing.T) {
	signer := NewKeypairSigner(solana.NewWallet().PrivateKey)
	recipient := solana.NewWallet().PublicKey()

	t.Run("valid transfer", func(t *testing.T) {
		ix, err := NewTransferInstruction(5000, signer, recipient)
		require.NoError(t, err)

		assert.Equal(t, SystemProgramID, ix.ProgramID())
		accounts := ix.Accounts()
		require.Len(t, accounts, 2)
		assert.Equal(t, signer.PublicKey(), accounts[0].PublicKey)
		assert.True(t, accounts[0].IsSigner)
		assert.Equal(t, recipient, accounts[1].PublicKey)
		assert.True(t, accounts[1].IsWritable)
	})

	t.Run("zero amount", func(t *testing.T) {
		_, err := NewTransferInstruction(0, signer, recipient)
		assert.Error(t, err)
	})

	t.Run("missing recipient", func(t *testing.T) {
		_, err := NewTransferInstruction(1, signer, solana.PublicKey{})
		assert.Error(t, err)
	})
}

func TestNewRawInstruction(t *testing.T) {
	account := solana.NewWallet().PublicKey()

	t.Run("valid", func(t *testing.T) {
		ix, err := NewRawInstruction(MemoProgramIDSPL.String(), []AccountSpec{
			{PublicKey: account.String(), IsWritable: true},
		}, []byte{0x01})
		require.NoError(t, err)

		accounts := ix.Accounts()
		require.Len(t, accounts, 1)
		assert.True(t, accounts[0].IsWritable)
		assert.False(t, accounts[0].IsSigner)
		assert.Empty(t, ix.Signers)
	})

	t.Run("invalid program id", func(t *testing.T) {
		_, err := NewRawInstruction("not-a-key", nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid program id")
	})

	t.Run("invalid account", func(t *testing.T) {
		_, err := NewRawInstruction(MemoProgramIDSPL.String(), []AccountSpec{{PublicKey: "bad"}}, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid account")
	})
}
