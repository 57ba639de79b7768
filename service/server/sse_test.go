package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	natspkg "github.com/brojonat/folio/service/nats"
	"github.com/brojonat/folio/service/portfolio"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEventSource hands out one channel per subscription.
type fakeEventSource struct {
	mu      sync.Mutex
	account string
	events  chan *natspkg.PortfolioEvent
	err     error
}

func (f *fakeEventSource) Subscribe(ctx context.Context, account string) (<-chan *natspkg.PortfolioEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = account
	return f.events, nil
}

func (f *fakeEventSource) subscribedAccount() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account
}

func TestStreamPortfolio(t *testing.T) {
	source := &fakeEventSource{events: make(chan *natspkg.PortfolioEvent, 1)}
	env := newTestEnv(t, 0, source)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	account := solanago.NewWallet().PublicKey().String()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/stream/portfolio/"+account, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)
	assert.Equal(t, account, source.subscribedAccount())

	source.events <- &natspkg.PortfolioEvent{
		Type:    "state",
		Account: account,
		State:   &portfolio.State{Phase: portfolio.PhaseLoading, Progress: 50},
	}

	var eventLine, dataLine string
	deadline := time.After(2 * time.Second)
	for eventLine == "" || dataLine == "" {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for state event")
		default:
		}
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case line == "event: state\n":
			eventLine = line
		case eventLine != "" && strings.HasPrefix(line, "data: "):
			dataLine = line
		}
	}
	assert.Contains(t, dataLine, `"progress":50`)
	assert.Contains(t, dataLine, `"phase":"loading"`)
}

func TestStreamPortfolio_SubscribeFailure(t *testing.T) {
	source := &fakeEventSource{err: assert.AnError}
	env := newTestEnv(t, 0, source)

	rec := env.do(t, http.MethodGet, "/api/v1/stream/portfolio", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamPortfolio_InvalidAccount(t *testing.T) {
	source := &fakeEventSource{events: make(chan *natspkg.PortfolioEvent)}
	env := newTestEnv(t, 0, source)

	rec := env.do(t, http.MethodGet, "/api/v1/stream/portfolio/0OIl", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamPortfolio_ClosedSourceEndsStream(t *testing.T) {
	events := make(chan *natspkg.PortfolioEvent)
	close(events)
	env := newTestEnv(t, 0, &fakeEventSource{events: events})

	rec := env.do(t, http.MethodGet, "/api/v1/stream/portfolio", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: connected")
}

func TestStreamPortfolio_DisabledWithoutSource(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/stream/portfolio", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
