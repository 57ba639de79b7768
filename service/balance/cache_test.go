package balance

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher returns a configurable balance and counts calls.
type fakeFetcher struct {
	mu      sync.Mutex
	value   uint64
	err     error
	calls   int
	release chan struct{}
}

func (f *fakeFetcher) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.value, f.err
}

func (f *fakeFetcher) set(value uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = value
	f.err = err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCache(f Fetcher) *Cache {
	return NewCache(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCache_StateOfUnknownAccount(t *testing.T) {
	cache := newTestCache(&fakeFetcher{})

	state := cache.State(solana.NewWallet().PublicKey())
	assert.Nil(t, state.Data)
	assert.False(t, state.IsLoading)
	assert.False(t, state.IsFetching)
	assert.False(t, state.IsError)
}

func TestCache_Refetch(t *testing.T) {
	ctx := context.Background()
	account := solana.NewWallet().PublicKey()
	fetcher := &fakeFetcher{value: 2_000_000_000}
	cache := newTestCache(fetcher)

	state, err := cache.Refetch(ctx, account)
	require.NoError(t, err)
	require.NotNil(t, state.Data)
	assert.Equal(t, uint64(2_000_000_000), state.Data.Value)
	assert.False(t, state.IsFetching)
	assert.False(t, state.IsError)

	assert.Equal(t, state.Data.Value, cache.State(account).Data.Value)
}

func TestCache_ErrorKeepsLastValue(t *testing.T) {
	ctx := context.Background()
	account := solana.NewWallet().PublicKey()
	fetcher := &fakeFetcher{value: 10}
	cache := newTestCache(fetcher)

	_, err := cache.Refetch(ctx, account)
	require.NoError(t, err)

	fetcher.set(0, assert.AnError)
	state, err := cache.Refetch(ctx, account)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, state.IsError)
	assert.ErrorIs(t, state.Err, assert.AnError)
	require.NotNil(t, state.Data)
	assert.Equal(t, uint64(10), state.Data.Value)

	// Recovery clears the error.
	fetcher.set(11, nil)
	state, err = cache.Refetch(ctx, account)
	require.NoError(t, err)
	assert.False(t, state.IsError)
	assert.Equal(t, uint64(11), state.Data.Value)
}

func TestCache_LoadingWhileFirstFetchInFlight(t *testing.T) {
	ctx := context.Background()
	account := solana.NewWallet().PublicKey()
	fetcher := &fakeFetcher{value: 5, release: make(chan struct{})}
	cache := newTestCache(fetcher)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.Refetch(ctx, account)
	}()

	require.Eventually(t, func() bool {
		return cache.State(account).IsFetching
	}, time.Second, 5*time.Millisecond)

	state := cache.State(account)
	assert.True(t, state.IsLoading)
	assert.Nil(t, state.Data)

	close(fetcher.release)
	<-done

	state = cache.State(account)
	assert.False(t, state.IsLoading)
	assert.False(t, state.IsFetching)
}

func TestCache_Forget(t *testing.T) {
	ctx := context.Background()
	account := solana.NewWallet().PublicKey()
	cache := newTestCache(&fakeFetcher{value: 1})

	_, err := cache.Refetch(ctx, account)
	require.NoError(t, err)

	cache.Forget(account)
	assert.Nil(t, cache.State(account).Data)
}

func TestCache_WatchFiresOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	account := solana.NewWallet().PublicKey()
	fetcher := &fakeFetcher{value: 1}
	cache := newTestCache(fetcher)

	_, err := cache.Refetch(ctx, account)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []uint64
	go cache.Watch(ctx, account, 10*time.Millisecond, func(_ context.Context, s State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Data.Value)
	})

	// Unchanged values do not fire.
	require.Eventually(t, func() bool { return fetcher.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Empty(t, seen)
	mu.Unlock()

	fetcher.set(2, nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []uint64{2}, seen)
	mu.Unlock()
}

func TestCache_WatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cache := newTestCache(&fakeFetcher{value: 1})

	done := make(chan struct{})
	go func() {
		cache.Watch(ctx, solana.NewWallet().PublicKey(), time.Millisecond, func(context.Context, State) {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
