package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/folio/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Submission errors. Underlying RPC errors are wrapped alongside these, so
// callers can match both the stage and the cause.
var (
	ErrBlockhashFetchFailed       = errors.New("blockhash fetch failed")
	ErrInvalidSignerConfiguration = errors.New("invalid signer configuration")
	ErrSignAndSendFailed          = errors.New("sign and send failed")
)

// Instruction pairs an on-chain instruction with the signer identities that
// back its signing accounts. The submitter never inspects the instruction data.
type Instruction struct {
	solana.Instruction
	Signers []Signer
}

// NewInstruction attaches signer identities to an instruction.
func NewInstruction(ix solana.Instruction, signers ...Signer) Instruction {
	return Instruction{Instruction: ix, Signers: signers}
}

// BlockhashSource supplies the lifetime constraint for new transactions.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (BlockhashLifetime, error)
}

// TransactionMessage is the versioned message assembled for one submission.
// It lives only for the duration of a Submit call.
type TransactionMessage struct {
	Version      solana.MessageVersion
	FeePayer     Signer
	Lifetime     BlockhashLifetime
	Instructions []Instruction
}

// signers returns the distinct signer identities of the message, fee payer first.
func (m *TransactionMessage) signers() []Signer {
	seen := make(map[solana.PublicKey]struct{})
	out := make([]Signer, 0, 1)
	add := func(s Signer) {
		if s == nil {
			return
		}
		if _, ok := seen[s.PublicKey()]; ok {
			return
		}
		seen[s.PublicKey()] = struct{}{}
		out = append(out, s)
	}

	add(m.FeePayer)
	for _, ix := range m.Instructions {
		for _, s := range ix.Signers {
			add(s)
		}
	}
	return out
}

// Submitter builds, signs and broadcasts single-instruction transactions.
// It holds no per-call state; concurrent calls are independent.
type Submitter struct {
	blockhash BlockhashSource
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewSubmitter creates a Submitter. If metrics is nil, no metrics will be recorded.
func NewSubmitter(source BlockhashSource, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	return &Submitter{
		blockhash: source,
		metrics:   m,
		logger:    logger,
	}
}

// Submit runs the full pipeline for one instruction:
//
//  1. fetch the latest blockhash and its expiry height
//  2. compose a v0 message with signer as fee payer and the blockhash lifetime
//  3. require exactly one send-capable signer (nothing is signed otherwise)
//  4. collect partial signatures, then sign and broadcast through the sending signer
//  5. return the signature as base-58 text
//
// Exactly one broadcast happens per successful call. Nothing is retried.
func (s *Submitter) Submit(ctx context.Context, ix Instruction, signer Signer) (string, error) {
	start := time.Now()
	sig, stage, err := s.submit(ctx, ix, signer)
	if s.metrics != nil {
		s.metrics.RecordSubmission(stage, time.Since(start).Seconds())
	}
	if err != nil {
		s.logger.WarnContext(ctx, "transaction submission failed",
			"stage", stage,
			"error", err,
		)
		return "", err
	}

	s.logger.InfoContext(ctx, "transaction submitted",
		"signature", sig,
		"fee_payer", signer.PublicKey().String(),
	)
	return sig, nil
}

func (s *Submitter) submit(ctx context.Context, ix Instruction, signer Signer) (string, string, error) {
	if signer == nil {
		return "", "signer", fmt.Errorf("%w: no fee payer signer", ErrInvalidSignerConfiguration)
	}

	lifetime, err := s.blockhash.LatestBlockhash(ctx)
	if err != nil {
		return "", "blockhash", fmt.Errorf("%w: %w", ErrBlockhashFetchFailed, err)
	}

	msg := &TransactionMessage{
		Version:      solana.MessageVersionV0,
		FeePayer:     signer,
		Lifetime:     lifetime,
		Instructions: []Instruction{ix},
	}

	sender, partials, err := validateSingleSendingSigner(msg)
	if err != nil {
		return "", "signer", err
	}

	tx, err := compile(msg)
	if err != nil {
		return "", "compile", err
	}

	raw, err := signAndSend(ctx, tx, sender, partials)
	if err != nil {
		return "", "send", err
	}

	return base58.Encode(raw[:]), "success", nil
}

// validateSingleSendingSigner enforces that the message has exactly one
// send-capable signer, that every other signer can partially sign, and that
// every account the instructions mark as a signer has an identity behind it.
func validateSingleSendingSigner(msg *TransactionMessage) (SendingSigner, []PartialSigner, error) {
	signers := msg.signers()

	var sending []SendingSigner
	var partials []PartialSigner
	for _, s := range signers {
		if ss, ok := s.(SendingSigner); ok {
			sending = append(sending, ss)
			continue
		}
		ps, ok := s.(PartialSigner)
		if !ok {
			return nil, nil, fmt.Errorf("%w: signer %s can neither sign nor send", ErrInvalidSignerConfiguration, s.PublicKey())
		}
		partials = append(partials, ps)
	}

	if len(sending) != 1 {
		return nil, nil, fmt.Errorf("%w: expected exactly one sending signer, found %d", ErrInvalidSignerConfiguration, len(sending))
	}

	known := make(map[solana.PublicKey]struct{}, len(signers))
	for _, s := range signers {
		known[s.PublicKey()] = struct{}{}
	}
	for _, ix := range msg.Instructions {
		if ix.Instruction == nil {
			return nil, nil, fmt.Errorf("%w: nil instruction", ErrInvalidSignerConfiguration)
		}
		for _, meta := range ix.Accounts() {
			if meta == nil || !meta.IsSigner {
				continue
			}
			if _, ok := known[meta.PublicKey]; !ok {
				return nil, nil, fmt.Errorf("%w: account %s must sign but has no signer", ErrInvalidSignerConfiguration, meta.PublicKey)
			}
		}
	}

	return sending[0], partials, nil
}

// compile turns the message into a wire transaction with empty signature slots.
func compile(msg *TransactionMessage) (*solana.Transaction, error) {
	instructions := make([]solana.Instruction, 0, len(msg.Instructions))
	for _, ix := range msg.Instructions {
		instructions = append(instructions, ix.Instruction)
	}

	tx, err := solana.NewTransaction(
		instructions,
		msg.Lifetime.Blockhash,
		solana.TransactionPayer(msg.FeePayer.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile transaction: %w", err)
	}
	tx.Message.SetVersion(msg.Version)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	return tx, nil
}

// signAndSend collects partial signatures and hands the transaction to the
// sending signer, which adds its own signature and broadcasts.
func signAndSend(ctx context.Context, tx *solana.Transaction, sender SendingSigner, partials []PartialSigner) (solana.Signature, error) {
	if len(partials) > 0 {
		message, err := tx.Message.MarshalBinary()
		if err != nil {
			return solana.Signature{}, fmt.Errorf("%w: failed to serialize message: %w", ErrSignAndSendFailed, err)
		}
		for _, p := range partials {
			sig, err := p.SignMessage(ctx, message)
			if err != nil {
				return solana.Signature{}, fmt.Errorf("%w: partial signer %s: %w", ErrSignAndSendFailed, p.PublicKey(), err)
			}
			if err := setSignature(tx, p.PublicKey(), sig); err != nil {
				return solana.Signature{}, fmt.Errorf("%w: %w", ErrSignAndSendFailed, err)
			}
		}
	}

	sig, err := sender.SignAndSend(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %w", ErrSignAndSendFailed, err)
	}
	return sig, nil
}
