package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Session is the account the server is currently aggregating.
type Session struct {
	Account string `json:"account"`
	Cluster string `json:"cluster"`
}

// State is the aggregation status reported by the server.
type State struct {
	Phase     string `json:"phase"` // idle, loading, refreshing, error
	Progress  int    `json:"progress"`
	LastError string `json:"last_error,omitempty"`
}

// Holding is one token position in a snapshot.
type Holding struct {
	Mint      string `json:"mint"`
	RawAmount string `json:"raw_amount"`
	Decimals  uint8  `json:"decimals"`
	Symbol    string `json:"symbol,omitempty"`
}

// Snapshot is the last applied view of the connected account.
type Snapshot struct {
	Account            string    `json:"account,omitempty"`
	Cluster            string    `json:"cluster,omitempty"`
	NativeLamports     uint64    `json:"native_lamports"`
	NativeBalance      float64   `json:"native_balance"`
	NativeBalanceExact string    `json:"native_balance_exact"`
	Holdings           []Holding `json:"holdings"`
	TotalValue         float64   `json:"total_value"`
	TotalRaw           string    `json:"total_raw"`
	FetchedAt          uint64    `json:"fetched_at"`
	RefreshedAt        time.Time `json:"refreshed_at"`
}

// Portfolio is the combined session, state and snapshot view.
type Portfolio struct {
	Session          *Session `json:"session,omitempty"`
	State            State    `json:"state"`
	Snapshot         Snapshot `json:"snapshot"`
	FormattedBalance string   `json:"formatted_balance"`
}

// AccountMeta describes one account of a raw instruction.
type AccountMeta struct {
	PublicKey  string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

// TransactionRequest describes one instruction for the server to sign and send.
// Type is one of "memo", "transfer" or "instruction".
type TransactionRequest struct {
	Type string `json:"type"`

	Memo string `json:"memo,omitempty"`

	Lamports  uint64 `json:"lamports,omitempty"`
	Recipient string `json:"recipient,omitempty"`

	ProgramID string        `json:"program_id,omitempty"`
	Accounts  []AccountMeta `json:"accounts,omitempty"`
	Data      string        `json:"data,omitempty"` // base64
}

// TransactionResult is the outcome of a successful submission.
type TransactionResult struct {
	Signature string `json:"signature"`
	FeePayer  string `json:"fee_payer"`
}

// ReceiveOptions shape a transfer request into the connected account.
// All fields are optional.
type ReceiveOptions struct {
	Amount   string // UI units, e.g. "1.5"
	SPLToken string // mint address; empty for native SOL
	Label    string
	Message  string
	Memo     string
}

// ReceiveRequest is a Solana Pay transfer request with its QR code.
type ReceiveRequest struct {
	ID         string    `json:"id"`
	Account    string    `json:"account"`
	Cluster    string    `json:"cluster"`
	Amount     string    `json:"amount,omitempty"`
	SPLToken   string    `json:"spl_token,omitempty"`
	Memo       string    `json:"memo"`
	PaymentURL string    `json:"payment_url"`
	QRCodeData string    `json:"qr_code_data"` // base64 PNG
	CreatedAt  time.Time `json:"created_at"`
}

// Event is one server-sent portfolio event.
type Event struct {
	Type        string    `json:"type"` // connected, state, snapshot
	Account     string    `json:"account"`
	Cluster     string    `json:"cluster,omitempty"`
	State       *State    `json:"state,omitempty"`
	Snapshot    *Snapshot `json:"snapshot,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Client is the HTTP client for the folio portfolio service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new portfolio service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Connect asks the server to aggregate account. An empty cluster uses the
// server default. The returned portfolio reflects the initial pass, which
// may have failed; check State.Phase.
func (c *Client) Connect(ctx context.Context, account, cluster string) (*Portfolio, error) {
	reqBody := map[string]string{"account": account}
	if cluster != "" {
		reqBody["cluster"] = cluster
	}

	var p Portfolio
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/session", reqBody, http.StatusOK, &p); err != nil {
		return nil, err
	}

	c.logger.Debug("account connected", "account", account, "phase", p.State.Phase)
	return &p, nil
}

// Disconnect clears the server's session.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/api/v1/session", nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.logger.Debug("account disconnected")
	return nil
}

// Session returns the connected account, or nil if nothing is connected.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/session", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, c.parseErrorResponse(resp)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &s, nil
}

// Portfolio reads the current state and snapshot.
func (c *Client) Portfolio(ctx context.Context) (*Portfolio, error) {
	var p Portfolio
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/portfolio", nil, http.StatusOK, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Refresh triggers a user refresh. With wait the call blocks until the pass
// completes and returns the resulting portfolio; otherwise it returns nil
// once the server has accepted the refresh.
func (c *Client) Refresh(ctx context.Context, wait bool) (*Portfolio, error) {
	if !wait {
		if err := c.doJSON(ctx, http.MethodPost, "/api/v1/portfolio/refresh", nil, http.StatusAccepted, nil); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var p Portfolio
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/portfolio/refresh?wait=true", nil, http.StatusOK, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SubmitTransaction asks the server to sign and send one instruction.
func (c *Client) SubmitTransaction(ctx context.Context, txReq TransactionRequest) (*TransactionResult, error) {
	var result TransactionResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/transactions", txReq, http.StatusOK, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction submitted", "type", txReq.Type, "signature", result.Signature)
	return &result, nil
}

// Receive builds a transfer request paying into the connected account.
func (c *Client) Receive(ctx context.Context, opts ReceiveOptions) (*ReceiveRequest, error) {
	params := url.Values{}
	for key, value := range map[string]string{
		"amount":    opts.Amount,
		"spl-token": opts.SPLToken,
		"label":     opts.Label,
		"message":   opts.Message,
		"memo":      opts.Memo,
	} {
		if value != "" {
			params.Set(key, value)
		}
	}

	path := "/api/v1/portfolio/receive"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var rr ReceiveRequest
	if err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &rr); err != nil {
		return nil, err
	}
	return &rr, nil
}

// Health returns nil if the server reports healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

// Stream subscribes to server-sent portfolio events for account ("" for all
// accounts) and calls handler for each one until ctx is cancelled, the
// server closes the stream, or handler returns an error.
// The stream request does not use the client's timeout.
func (c *Client) Stream(ctx context.Context, account string, handler func(Event) error) error {
	u := c.baseURL + "/api/v1/stream/portfolio"
	if account != "" {
		u += "/" + url.PathEscape(account)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var eventType, data string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line terminates an event
		if line == "" {
			if eventType != "" && data != "" {
				event, err := decodeEvent(eventType, data)
				if err != nil {
					c.logger.Warn("failed to decode event", "event", eventType, "error", err)
				} else if err := handler(event); err != nil {
					return err
				}
			}
			eventType, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

func decodeEvent(eventType, data string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return Event{}, err
	}
	event.Type = eventType
	return event, nil
}

// doJSON sends body (if non-nil) as JSON, checks the status and decodes the
// response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
