// Package balance caches the native balance of watched accounts and reports
// the query status (loading, fetching, error) alongside the last good value.
package balance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/singleflight"
)

// Fetcher reads the native balance of an account in lamports.
type Fetcher interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Data is the last successfully fetched balance.
type Data struct {
	Value     uint64    `json:"value"` // lamports
	FetchedAt time.Time `json:"fetched_at"`
}

// State is a point-in-time view of one account's cached balance query.
// Data survives errors: a failed refetch sets IsError but keeps the last value.
type State struct {
	Data       *Data `json:"data,omitempty"`
	IsLoading  bool  `json:"is_loading"`
	IsFetching bool  `json:"is_fetching"`
	IsError    bool  `json:"is_error"`
	Err        error `json:"-"`
}

type entry struct {
	data     *Data
	fetching int
	err      error
}

func (e *entry) state() State {
	s := State{
		IsFetching: e.fetching > 0,
		IsError:    e.err != nil,
		Err:        e.err,
	}
	if e.data != nil {
		d := *e.data
		s.Data = &d
	}
	s.IsLoading = s.IsFetching && s.Data == nil
	return s
}

// Cache holds one balance query per account.
// Concurrent refetches of the same account share a single upstream call.
type Cache struct {
	fetcher Fetcher
	logger  *slog.Logger
	group   singleflight.Group

	mu      sync.Mutex
	entries map[solana.PublicKey]*entry
}

// NewCache creates an empty Cache backed by fetcher.
func NewCache(fetcher Fetcher, logger *slog.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		logger:  logger,
		entries: make(map[solana.PublicKey]*entry),
	}
}

func (c *Cache) entry(account solana.PublicKey) *entry {
	e, ok := c.entries[account]
	if !ok {
		e = &entry{}
		c.entries[account] = e
	}
	return e
}

// State returns the current query state for account. An account that was
// never fetched has no data and no flags set.
func (c *Cache) State(account solana.PublicKey) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[account]
	if !ok {
		return State{}
	}
	return e.state()
}

// Refetch forces a fresh upstream read for account and returns the resulting state.
// The returned error is the upstream error, if any; it is also recorded in the state.
func (c *Cache) Refetch(ctx context.Context, account solana.PublicKey) (State, error) {
	c.mu.Lock()
	c.entry(account).fetching++
	c.mu.Unlock()

	v, err, shared := c.group.Do(account.String(), func() (interface{}, error) {
		return c.fetcher.GetBalance(ctx, account)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(account)
	e.fetching--
	if err != nil {
		e.err = err
		c.logger.WarnContext(ctx, "balance refetch failed",
			"account", account.String(),
			"error", err,
		)
		return e.state(), err
	}

	e.err = nil
	e.data = &Data{Value: v.(uint64), FetchedAt: time.Now().UTC()}
	c.logger.DebugContext(ctx, "balance refetched",
		"account", account.String(),
		"lamports", e.data.Value,
		"shared", shared,
	)
	return e.state(), nil
}

// Forget drops the cached query for account.
func (c *Cache) Forget(account solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, account)
}

// Watch refetches account every interval until ctx is done, calling onChange
// whenever a fetch produces a value different from the one seen before it,
// or whenever the query flips into or out of an error.
func (c *Cache) Watch(ctx context.Context, account solana.PublicKey, interval time.Duration, onChange func(context.Context, State)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		before := c.State(account)
		after, _ := c.Refetch(ctx, account)
		if ctx.Err() != nil {
			return
		}
		if changed(before, after) {
			onChange(ctx, after)
		}
	}
}

func changed(before, after State) bool {
	if before.IsError != after.IsError {
		return true
	}
	if (before.Data == nil) != (after.Data == nil) {
		return true
	}
	if before.Data != nil && after.Data != nil {
		return before.Data.Value != after.Data.Value
	}
	return false
}
