package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/brojonat/folio/service/metrics"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetTokenAccountsByOwner(
		ctx context.Context,
		owner solana.PublicKey,
		conf *rpc.GetTokenAccountsConfig,
		opts *rpc.GetTokenAccountsOpts,
	) (*rpc.GetTokenAccountsResult, error)

	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
	) (*rpc.GetAccountInfoResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)
}

// Client provides the domain-level Solana reads and writes used by the service.
// It wraps the RPC client with metrics, logging and a per-mint decimals cache.
type Client struct {
	rpc        RPCClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	commitment rpc.CommitmentType

	mu       sync.RWMutex
	decimals map[solana.PublicKey]uint8
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, commitment rpc.CommitmentType, m *metrics.Metrics, logger *slog.Logger) *Client {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Client{
		rpc:        rpcClient,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
		commitment: commitment,
		decimals:   make(map[solana.PublicKey]uint8),
	}
}

// observe records the outcome of one RPC call.
func (c *Client) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// LatestBlockhash returns the current blockhash and the block height after which it expires.
func (c *Client) LatestBlockhash(ctx context.Context) (BlockhashLifetime, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	c.observe("GetLatestBlockhash", start, err)
	if err != nil {
		return BlockhashLifetime{}, err
	}
	if out == nil || out.Value == nil {
		return BlockhashLifetime{}, fmt.Errorf("empty GetLatestBlockhash response")
	}

	c.logger.DebugContext(ctx, "fetched latest blockhash",
		"blockhash", out.Value.Blockhash.String(),
		"last_valid_block_height", out.Value.LastValidBlockHeight,
	)

	return BlockhashLifetime{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// GetBalance returns the native balance of account in lamports.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	c.observe("GetBalance", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get balance",
			"account", account.String(),
			"error", err,
		)
		return 0, err
	}
	if out == nil {
		return 0, fmt.Errorf("empty GetBalance response")
	}
	return out.Value, nil
}

// SendTransaction broadcasts a fully signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	c.observe("SendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// TokenHoldings lists the token accounts owned by owner across the SPL Token
// and Token-2022 programs. One entry is returned per token account, so the
// same mint can appear more than once.
func (c *Client) TokenHoldings(ctx context.Context, owner solana.PublicKey) ([]TokenBalance, error) {
	holdings := make([]TokenBalance, 0)

	for _, program := range tokenPrograms {
		programID := program
		start := time.Now()
		out, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{
				ProgramId: &programID,
			},
			&rpc.GetTokenAccountsOpts{
				Encoding: solana.EncodingBase64,
			},
		)
		c.observe("GetTokenAccountsByOwner", start, err)
		if err != nil {
			return nil, fmt.Errorf("failed to list token accounts for program %s: %w", programID, err)
		}
		if out == nil {
			continue
		}

		for _, raw := range out.Value {
			if raw == nil || raw.Account.Data == nil {
				continue
			}

			var acc token.Account
			if err := bin.NewBinDecoder(raw.Account.Data.GetBinary()).Decode(&acc); err != nil {
				return nil, fmt.Errorf("failed to decode token account %s: %w", raw.Pubkey, err)
			}

			decimals, err := c.mintDecimals(ctx, acc.Mint)
			if err != nil {
				return nil, err
			}

			holdings = append(holdings, TokenBalance{
				Mint:         acc.Mint.String(),
				TokenAccount: raw.Pubkey.String(),
				Amount:       strconv.FormatUint(acc.Amount, 10),
				Decimals:     decimals,
			})
		}
	}

	c.logger.DebugContext(ctx, "fetched token holdings",
		"owner", owner.String(),
		"count", len(holdings),
	)

	return holdings, nil
}

// mintDecimals resolves the decimals of a mint, caching the answer since it never changes.
func (c *Client) mintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	c.mu.RLock()
	decimals, ok := c.decimals[mint]
	c.mu.RUnlock()
	if ok {
		return decimals, nil
	}

	start := time.Now()
	info, err := c.rpc.GetAccountInfo(ctx, mint)
	c.observe("GetAccountInfo", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch mint %s: %w", mint, err)
	}
	if info == nil || info.Value == nil || info.Value.Data == nil {
		return 0, fmt.Errorf("mint account not found: %s", mint)
	}

	var m token.Mint
	if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&m); err != nil {
		return 0, fmt.Errorf("failed to decode mint %s: %w", mint, err)
	}

	c.mu.Lock()
	c.decimals[mint] = m.Decimals
	c.mu.Unlock()

	return m.Decimals, nil
}
