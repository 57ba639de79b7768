package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/brojonat/folio/service/portfolio"
	"github.com/brojonat/folio/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// Submitter submits one instruction as a signed transaction.
type Submitter interface {
	Submit(ctx context.Context, ix solana.Instruction, signer solana.Signer) (string, error)
}

type connectRequest struct {
	Account string `json:"account"`
	Cluster string `json:"cluster,omitempty"`
}

type sessionResponse struct {
	Account string `json:"account"`
	Cluster string `json:"cluster"`
}

type portfolioResponse struct {
	Session          *sessionResponse   `json:"session,omitempty"`
	State            portfolio.State    `json:"state"`
	Snapshot         portfolio.Snapshot `json:"snapshot"`
	FormattedBalance string             `json:"formatted_balance"`
}

func toPortfolioResponse(p Portfolio) portfolioResponse {
	snap := p.Snapshot()
	resp := portfolioResponse{
		State:            p.State(),
		Snapshot:         snap,
		FormattedBalance: portfolio.FormatBalance(snap.NativeBalance),
	}
	if session, ok := p.Session(); ok {
		resp.Session = &sessionResponse{
			Account: session.Account.String(),
			Cluster: session.Cluster,
		}
	}
	return resp
}

// handleConnect returns a handler that connects an account and runs the initial fetch.
// POST /api/v1/session
// The initial pass outcome is reported through the returned state, not the status code.
func handleConnect(sessions *sessions, p Portfolio, defaultCluster string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req connectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Account); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		account, err := solanago.PublicKeyFromBase58(req.Account)
		if err != nil {
			writeError(w, "invalid account: not a valid public key", http.StatusBadRequest)
			return
		}

		cluster := req.Cluster
		if cluster == "" {
			cluster = defaultCluster
		}
		if err := validateCluster(cluster); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		// The RPC client is bound to one cluster; the label must describe it.
		if cluster != defaultCluster {
			writeError(w, fmt.Sprintf("invalid cluster: server is connected to %s", defaultCluster), http.StatusBadRequest)
			return
		}

		if err := sessions.connect(r.Context(), portfolio.Session{Account: account, Cluster: cluster}); err != nil {
			logger.WarnContext(r.Context(), "initial portfolio fetch failed",
				"account", req.Account,
				"error", err,
			)
		}

		writeJSON(w, toPortfolioResponse(p), http.StatusOK)
	})
}

// handleDisconnect returns a handler that disconnects the current account.
// DELETE /api/v1/session
func handleDisconnect(sessions *sessions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessions.disconnect(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetSession returns a handler that reports the connected account.
// GET /api/v1/session
func handleGetSession(p Portfolio) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := p.Session()
		if !ok {
			writeError(w, "no account connected", http.StatusNotFound)
			return
		}
		writeJSON(w, sessionResponse{
			Account: session.Account.String(),
			Cluster: session.Cluster,
		}, http.StatusOK)
	})
}

// handleGetPortfolio returns a handler that reads the current state and snapshot.
// GET /api/v1/portfolio
func handleGetPortfolio(p Portfolio) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, toPortfolioResponse(p), http.StatusOK)
	})
}

// handleRefresh returns a handler that triggers a user refresh.
// POST /api/v1/portfolio/refresh[?wait=true]
// Without wait the refresh runs in the background and 202 is returned.
func handleRefresh(p Portfolio, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := p.Session(); !ok {
			writeError(w, "no account connected", http.StatusConflict)
			return
		}

		if r.URL.Query().Get("wait") == "true" {
			if err := p.Refresh(r.Context()); err != nil && !errors.Is(err, portfolio.ErrNotConnected) {
				logger.WarnContext(r.Context(), "portfolio refresh failed", "error", err)
			}
			writeJSON(w, toPortfolioResponse(p), http.StatusOK)
			return
		}

		go func(ctx context.Context) {
			if err := p.Refresh(ctx); err != nil {
				logger.WarnContext(ctx, "portfolio refresh failed", "error", err)
			}
		}(context.WithoutCancel(r.Context()))

		writeJSON(w, map[string]string{"status": "refreshing"}, http.StatusAccepted)
	})
}

type submitRequest struct {
	Type string `json:"type"` // memo, transfer, instruction

	Memo string `json:"memo,omitempty"`

	Lamports  uint64 `json:"lamports,omitempty"`
	Recipient string `json:"recipient,omitempty"`

	ProgramID string               `json:"program_id,omitempty"`
	Accounts  []solana.AccountSpec `json:"accounts,omitempty"`
	Data      string               `json:"data,omitempty"` // base64
}

type submitResponse struct {
	Signature string `json:"signature"`
	FeePayer  string `json:"fee_payer"`
}

// handleSubmitTransaction returns a handler that signs and sends one
// instruction with the service signer.
// POST /api/v1/transactions
func handleSubmitTransaction(submitter Submitter, signer solana.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		ix, err := buildInstruction(req, signer)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sig, err := submitter.Submit(r.Context(), ix, signer)
		if err != nil {
			logger.WarnContext(r.Context(), "transaction submission failed",
				"type", req.Type,
				"error", err,
			)
			switch {
			case errors.Is(err, solana.ErrInvalidSignerConfiguration):
				writeError(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, solana.ErrBlockhashFetchFailed), errors.Is(err, solana.ErrSignAndSendFailed):
				writeError(w, err.Error(), http.StatusBadGateway)
			default:
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, submitResponse{
			Signature: sig,
			FeePayer:  signer.PublicKey().String(),
		}, http.StatusOK)
	})
}

func buildInstruction(req submitRequest, signer solana.Signer) (solana.Instruction, error) {
	switch req.Type {
	case "memo":
		return solana.NewMemoInstruction(req.Memo, signer)
	case "transfer":
		if err := validateAddress(req.Recipient); err != nil {
			return solana.Instruction{}, errorf("invalid recipient: %v", err)
		}
		recipient, err := solanago.PublicKeyFromBase58(req.Recipient)
		if err != nil {
			return solana.Instruction{}, errorf("invalid recipient: not a valid public key")
		}
		return solana.NewTransferInstruction(req.Lamports, signer, recipient)
	case "instruction":
		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return solana.Instruction{}, errorf("invalid data: must be base64")
		}
		return solana.NewRawInstruction(req.ProgramID, req.Accounts, data, signer)
	case "":
		return solana.Instruction{}, errorf("type is required")
	default:
		return solana.Instruction{}, errorf("invalid type: must be 'memo', 'transfer' or 'instruction'")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an account address for format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// validateCluster validates a cluster label.
func validateCluster(cluster string) error {
	switch cluster {
	case "mainnet", "devnet", "testnet", "localnet":
		return nil
	default:
		return errorf("invalid cluster: must be one of mainnet, devnet, testnet, localnet")
	}
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
