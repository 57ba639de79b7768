package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func TestConnect_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/session", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testAccount, body["account"])
		assert.Equal(t, "devnet", body["cluster"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session": map[string]string{"account": testAccount, "cluster": "devnet"},
			"state":   map[string]interface{}{"phase": "idle", "progress": 0},
			"snapshot": map[string]interface{}{
				"account":              testAccount,
				"native_lamports":      2000000000,
				"native_balance":       2.0,
				"native_balance_exact": "2",
				"holdings": []map[string]interface{}{
					{"mint": "mintA", "raw_amount": "42", "decimals": 6, "symbol": "USDC"},
				},
				"total_raw":  "42",
				"fetched_at": 1,
			},
			"formatted_balance": "2.00",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	p, err := client.Connect(context.Background(), testAccount, "devnet")
	require.NoError(t, err)

	require.NotNil(t, p.Session)
	assert.Equal(t, testAccount, p.Session.Account)
	assert.Equal(t, "idle", p.State.Phase)
	assert.Equal(t, uint64(2000000000), p.Snapshot.NativeLamports)
	assert.Equal(t, "2", p.Snapshot.NativeBalanceExact)
	require.Len(t, p.Snapshot.Holdings, 1)
	assert.Equal(t, "USDC", p.Snapshot.Holdings[0].Symbol)
	assert.Equal(t, uint64(1), p.Snapshot.FetchedAt)
	assert.Equal(t, "2.00", p.FormattedBalance)
}

func TestConnect_OmitsEmptyCluster(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, ok := body["cluster"]
		assert.False(t, ok)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"state":{"phase":"idle","progress":0},"snapshot":{"holdings":[]}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Connect(context.Background(), testAccount, "")
	assert.NoError(t, err)
}

func TestConnect_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "invalid address format: must contain only valid base58 characters",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Connect(context.Background(), "0OIl", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address format")
}

func TestDisconnect_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/session", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.Disconnect(context.Background()))
}

func TestSession(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "GET", r.Method)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"account": testAccount, "cluster": "mainnet"})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		s, err := client.Session(context.Background())
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, testAccount, s.Account)
		assert.Equal(t, "mainnet", s.Cluster)
	})

	t.Run("not connected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "no account connected"})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		s, err := client.Session(context.Background())
		require.NoError(t, err)
		assert.Nil(t, s)
	})
}

func TestRefresh(t *testing.T) {
	t.Run("background", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/api/v1/portfolio/refresh", r.URL.Path)
			assert.Empty(t, r.URL.Query().Get("wait"))
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"status":"refreshing"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		p, err := client.Refresh(context.Background(), false)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("wait", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "true", r.URL.Query().Get("wait"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"state":{"phase":"idle","progress":0},"snapshot":{"fetched_at":3,"holdings":[]}}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		p, err := client.Refresh(context.Background(), true)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, uint64(3), p.Snapshot.FetchedAt)
	})

	t.Run("not connected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "no account connected"})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		_, err := client.Refresh(context.Background(), false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no account connected")
	})
}

func TestSubmitTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/transactions", r.URL.Path)

		var req TransactionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "memo", req.Type)
		assert.Equal(t, "hello", req.Memo)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TransactionResult{Signature: "sig123", FeePayer: testAccount})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	result, err := client.SubmitTransaction(context.Background(), TransactionRequest{Type: "memo", Memo: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "sig123", result.Signature)
	assert.Equal(t, testAccount, result.FeePayer)
}

func TestSubmitTransaction_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("404 page not found"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.SubmitTransaction(context.Background(), TransactionRequest{Type: "memo", Memo: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "404 page not found")
}

func TestHealth(t *testing.T) {
	var unhealthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, nil)
	assert.NoError(t, client.Health(context.Background()))

	unhealthy.Store(true)
	err := client.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/portfolio/"+testAccount, r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: connected\ndata: {\"account\":%q}\n\n", testAccount)
		fmt.Fprintf(w, ": keepalive\n\n")
		fmt.Fprintf(w, "event: state\ndata: {\"type\":\"state\",\"account\":%q,\"state\":{\"phase\":\"loading\",\"progress\":25}}\n\n", testAccount)
		fmt.Fprintf(w, "event: snapshot\ndata: not-json\n\n")
		fmt.Fprintf(w, "event: snapshot\ndata: {\"type\":\"snapshot\",\"account\":%q,\"snapshot\":{\"native_lamports\":5,\"fetched_at\":2,\"holdings\":[]}}\n\n", testAccount)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)

	var events []Event
	err := client.Stream(context.Background(), testAccount, func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, "connected", events[0].Type)
	assert.Equal(t, testAccount, events[0].Account)

	assert.Equal(t, "state", events[1].Type)
	require.NotNil(t, events[1].State)
	assert.Equal(t, "loading", events[1].State.Phase)
	assert.Equal(t, 25, events[1].State.Progress)

	assert.Equal(t, "snapshot", events[2].Type)
	require.NotNil(t, events[2].Snapshot)
	assert.Equal(t, uint64(5), events[2].Snapshot.NativeLamports)
}

func TestStream_AllAccounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/portfolio", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: connected\ndata: {\"account\":\"all accounts\"}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	var count int
	err := client.Stream(context.Background(), "", func(e Event) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStream_HandlerErrorStops(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: connected\ndata: {\"account\":\"all accounts\"}\n\n")
		fmt.Fprintf(w, "event: state\ndata: {\"state\":{\"phase\":\"idle\"}}\n\n")
	}))
	defer server.Close()

	stop := errors.New("stop")
	client := NewClient(server.URL, nil, nil)
	var count int
	err := client.Stream(context.Background(), "", func(e Event) error {
		count++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)
}

func TestStream_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "failed to subscribe"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.Stream(context.Background(), "", func(Event) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe")
}

func TestReceive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/portfolio/receive", r.URL.Path)
		assert.Equal(t, "2.5", r.URL.Query().Get("amount"))
		assert.Equal(t, "Coffee", r.URL.Query().Get("label"))
		assert.False(t, r.URL.Query().Has("memo"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ReceiveRequest{
			ID:         "id-1",
			Account:    testAccount,
			Amount:     "2.5",
			Memo:       "folio:id-1",
			PaymentURL: "solana:" + testAccount + "?amount=2.5",
			QRCodeData: "iVBORw0KGgo=",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	rr, err := client.Receive(context.Background(), ReceiveOptions{Amount: "2.5", Label: "Coffee"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", rr.ID)
	assert.Equal(t, "folio:id-1", rr.Memo)
	assert.Contains(t, rr.PaymentURL, testAccount)
}
