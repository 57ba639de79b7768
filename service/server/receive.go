package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const (
	receiveMemoPrefix = "folio:"
	qrCodeSize        = 256
	maxLabelLength    = 128
)

// ReceiveRequest is a Solana Pay transfer request paying into the connected account.
type ReceiveRequest struct {
	ID         string    `json:"id"`
	Account    string    `json:"account"`
	Cluster    string    `json:"cluster"`
	Amount     string    `json:"amount,omitempty"`    // UI units, e.g. "1.5"
	SPLToken   string    `json:"spl_token,omitempty"` // mint; empty for native SOL
	Memo       string    `json:"memo"`
	PaymentURL string    `json:"payment_url"`
	QRCodeData string    `json:"qr_code_data"` // base64 PNG
	CreatedAt  time.Time `json:"created_at"`
}

// handleReceive returns a handler that builds a transfer request for the
// connected account.
// GET /api/v1/portfolio/receive[?amount=&spl-token=&label=&message=&memo=&format=png]
func handleReceive(p Portfolio) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := p.Session()
		if !ok {
			writeError(w, "no account connected", http.StatusConflict)
			return
		}

		q := r.URL.Query()

		amount := q.Get("amount")
		if amount != "" {
			d, err := decimal.NewFromString(amount)
			if err != nil || !d.IsPositive() {
				writeError(w, "invalid amount: must be a positive decimal", http.StatusBadRequest)
				return
			}
			amount = d.String()
		}

		splToken := q.Get("spl-token")
		if splToken != "" {
			if err := validateAddress(splToken); err != nil {
				writeError(w, fmt.Sprintf("invalid spl-token: %v", err), http.StatusBadRequest)
				return
			}
		}

		label, message := q.Get("label"), q.Get("message")
		if len(label) > maxLabelLength || len(message) > maxLabelLength {
			writeError(w, fmt.Sprintf("label and message are limited to %d characters", maxLabelLength), http.StatusBadRequest)
			return
		}

		id := uuid.New().String()
		memo := q.Get("memo")
		if memo == "" {
			memo = receiveMemoPrefix + id
		}

		paymentURL := buildSolanaPayURL(session.Account.String(), amount, splToken, memo, label, message)

		png, err := qrCodePNG(paymentURL)
		if err != nil {
			writeError(w, "failed to generate QR code", http.StatusInternalServerError)
			return
		}

		if q.Get("format") == "png" {
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			w.Write(png)
			return
		}

		writeJSON(w, ReceiveRequest{
			ID:         id,
			Account:    session.Account.String(),
			Cluster:    session.Cluster,
			Amount:     amount,
			SPLToken:   splToken,
			Memo:       memo,
			PaymentURL: paymentURL,
			QRCodeData: base64.StdEncoding.EncodeToString(png),
			CreatedAt:  time.Now().UTC(),
		}, http.StatusOK)
	})
}

// buildSolanaPayURL creates a Solana Pay transfer request URL.
// Format: solana:{recipient}?amount={amount}&spl-token={mint}&memo={memo}&label={label}&message={message}
// Empty parameters are omitted.
func buildSolanaPayURL(recipient, amount, splToken, memo, label, message string) string {
	params := url.Values{}
	for key, value := range map[string]string{
		"amount":    amount,
		"spl-token": splToken,
		"memo":      memo,
		"label":     label,
		"message":   message,
	} {
		if value != "" {
			params.Set(key, value)
		}
	}

	if len(params) == 0 {
		return "solana:" + recipient
	}
	return fmt.Sprintf("solana:%s?%s", recipient, params.Encode())
}

// qrCodePNG renders data as a PNG QR code with medium error correction.
func qrCodePNG(data string) ([]byte, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}
	return png, nil
}
