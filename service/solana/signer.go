package solana

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Signer is any identity that can appear as a signing account of a transaction.
type Signer interface {
	PublicKey() solana.PublicKey
}

// PartialSigner signs a serialized message without broadcasting it.
type PartialSigner interface {
	Signer
	SignMessage(ctx context.Context, message []byte) (solana.Signature, error)
}

// SendingSigner signs a transaction and broadcasts it in one step, returning
// the signature the network assigned to it.
type SendingSigner interface {
	Signer
	SignAndSend(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// TransactionSender broadcasts fully signed transactions.
type TransactionSender interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// KeypairSigner holds a local private key and can partially sign messages.
// It cannot broadcast; wrap it with NewSendingKeypairSigner for that.
type KeypairSigner struct {
	key solana.PrivateKey
}

// NewKeypairSigner creates a partial signer from a private key.
func NewKeypairSigner(key solana.PrivateKey) *KeypairSigner {
	return &KeypairSigner{key: key}
}

// PublicKey returns the signer's address.
func (k *KeypairSigner) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

// SignMessage signs the serialized message bytes.
func (k *KeypairSigner) SignMessage(_ context.Context, message []byte) (solana.Signature, error) {
	return k.key.Sign(message)
}

// SendingKeypairSigner signs with a local key and broadcasts through sender.
type SendingKeypairSigner struct {
	*KeypairSigner
	sender TransactionSender
}

// NewSendingKeypairSigner creates a send-capable signer from a private key.
func NewSendingKeypairSigner(key solana.PrivateKey, sender TransactionSender) *SendingKeypairSigner {
	return &SendingKeypairSigner{KeypairSigner: NewKeypairSigner(key), sender: sender}
}

// NewSendingKeypairSignerFromBase58 parses a base58-encoded keypair.
func NewSendingKeypairSignerFromBase58(encoded string, sender TransactionSender) (*SendingKeypairSigner, error) {
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSendingKeypairSigner(key, sender), nil
}

// SignAndSend adds this keypair's signature to tx and broadcasts it.
func (k *SendingKeypairSigner) SignAndSend(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to serialize message: %w", err)
	}

	sig, err := k.key.Sign(message)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign message: %w", err)
	}

	if err := setSignature(tx, k.PublicKey(), sig); err != nil {
		return solana.Signature{}, err
	}

	return k.sender.SendTransaction(ctx, tx)
}

// setSignature places sig in the slot matching signer's position among the
// message's required signers.
func setSignature(tx *solana.Transaction, signer solana.PublicKey, sig solana.Signature) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != required {
		signatures := make([]solana.Signature, required)
		copy(signatures, tx.Signatures)
		tx.Signatures = signatures
	}

	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(signer) {
			tx.Signatures[i] = sig
			return nil
		}
	}

	return fmt.Errorf("%s is not a required signer of this transaction", signer)
}
