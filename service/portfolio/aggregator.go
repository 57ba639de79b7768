// Package portfolio aggregates an account's native balance and token holdings
// into snapshots and tracks the loading state of that aggregation.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/folio/service/balance"
	"github.com/brojonat/folio/service/metrics"
	"github.com/brojonat/folio/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var (
	ErrUpstreamBalanceUnavailable = errors.New("upstream balance unavailable")
	ErrAggregationFailed          = errors.New("aggregation failed")
	ErrNotConnected               = errors.New("no account connected")
)

// Trigger names the reason a pass started.
type Trigger string

const (
	TriggerConnect Trigger = "connect"
	TriggerBalance Trigger = "balance"
	TriggerRefresh Trigger = "refresh"
)

// BalanceSource is the cached native-balance query for an account.
type BalanceSource interface {
	State(account solanago.PublicKey) balance.State
	Refetch(ctx context.Context, account solanago.PublicKey) (balance.State, error)
}

// HoldingsSource lists the raw token balances of an owner.
type HoldingsSource interface {
	TokenHoldings(ctx context.Context, owner solanago.PublicKey) ([]solana.TokenBalance, error)
}

// Notifier receives aggregator events. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Config tunes the aggregator.
type Config struct {
	// ProgressHold is how long progress stays at 100 after a successful pass.
	ProgressHold time.Duration
	Directory    Directory
}

// Aggregator owns the snapshot and state of one connected account.
//
// Passes are tagged with a generation when they start. A pass may only touch
// state while its generation is still the latest; results of superseded
// passes are discarded, never merged.
type Aggregator struct {
	balances  BalanceSource
	holdings  HoldingsSource
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	hold      time.Duration
	directory Directory

	mu         sync.RWMutex
	session    *Session
	state      State
	snapshot   Snapshot
	generation uint64
	version    uint64
}

// NewAggregator creates an idle aggregator with an empty snapshot.
// notifier and m may be nil.
func NewAggregator(balances BalanceSource, holdings HoldingsSource, cfg Config, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	dir := cfg.Directory
	if dir == nil {
		dir = DefaultDirectory()
	}
	return &Aggregator{
		balances:  balances,
		holdings:  holdings,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		hold:      cfg.ProgressHold,
		directory: dir,
		state:     State{Phase: PhaseIdle},
		snapshot:  emptySnapshot(),
	}
}

// Snapshot returns a copy of the current snapshot.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot.clone()
}

// State returns the current aggregation state.
func (a *Aggregator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Session returns the connected session, if any.
func (a *Aggregator) Session() (Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return Session{}, false
	}
	return *a.session, true
}

// Connect makes session the current account and runs the initial pass.
// Connecting a different account first drops the previous account's snapshot.
func (a *Aggregator) Connect(ctx context.Context, session Session) error {
	a.mu.Lock()
	if a.session == nil || !a.session.Account.Equals(session.Account) {
		// Passes for the previous account must not apply.
		a.generation++
		a.snapshot = emptySnapshot()
	}
	s := session
	a.session = &s
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "account connected",
		"account", session.Account.String(),
		"cluster", session.Cluster,
	)

	return a.run(ctx, TriggerConnect)
}

// Disconnect resets to idle with an empty snapshot. Passes still in flight
// are invalidated and will not touch state when they finish.
func (a *Aggregator) Disconnect(ctx context.Context) {
	a.mu.Lock()
	var account string
	if a.session != nil {
		account = a.session.Account.String()
	}
	a.session = nil
	a.generation++
	a.state = State{Phase: PhaseIdle}
	a.snapshot = emptySnapshot()
	events := []Event{a.stateEventLocked(account, "")}
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "account disconnected", "account", account)
	a.notify(ctx, events)
}

// Refresh refetches the upstream balance and then runs a pass.
func (a *Aggregator) Refresh(ctx context.Context) error {
	return a.run(ctx, TriggerRefresh)
}

// OnBalanceChanged runs a pass when the upstream balance of the connected
// account produced a new value. Changes for other accounts are ignored.
func (a *Aggregator) OnBalanceChanged(ctx context.Context, account solanago.PublicKey) error {
	current, ok := a.Session()
	if !ok || !current.Account.Equals(account) {
		return nil
	}
	return a.run(ctx, TriggerBalance)
}

type passResult struct {
	lamports uint64
	native   decimal.Decimal
	holdings []Holding
	total    decimal.Decimal
}

// run executes one aggregation pass. Failures are recorded in State and
// also returned; a superseded pass returns nil.
func (a *Aggregator) run(ctx context.Context, trigger Trigger) error {
	start := time.Now()

	phase := PhaseLoading
	if trigger == TriggerRefresh {
		phase = PhaseRefreshing
	}

	a.mu.Lock()
	if a.session == nil {
		a.mu.Unlock()
		return ErrNotConnected
	}
	session := *a.session
	a.generation++
	gen := a.generation
	a.state.Phase = phase
	a.state.Progress = 0
	events := []Event{a.stateEventLocked(session.Account.String(), session.Cluster)}
	a.mu.Unlock()
	a.notify(ctx, events)

	a.logger.DebugContext(ctx, "aggregation pass started",
		"account", session.Account.String(),
		"trigger", string(trigger),
		"generation", gen,
	)

	result, err := a.fetch(ctx, gen, session, trigger)
	if err != nil {
		return a.fail(ctx, gen, session, trigger, start, err)
	}
	return a.apply(ctx, gen, session, trigger, start, result)
}

// fetch performs the ordered steps of a pass: balance, holdings, conversion.
// Progress for each step is reported before the step runs.
func (a *Aggregator) fetch(ctx context.Context, gen uint64, session Session, trigger Trigger) (passResult, error) {
	account := session.Account

	if !a.progress(ctx, gen, session, 25) {
		return passResult{}, nil
	}
	var bs balance.State
	if trigger == TriggerRefresh {
		bs, _ = a.balances.Refetch(ctx, account)
	} else {
		bs = a.balances.State(account)
		if bs.Data == nil && !bs.IsError {
			bs, _ = a.balances.Refetch(ctx, account)
		}
	}
	if bs.IsError {
		return passResult{}, fmt.Errorf("%w: %w", ErrUpstreamBalanceUnavailable, bs.Err)
	}
	if bs.Data == nil {
		return passResult{}, fmt.Errorf("%w: no balance data", ErrUpstreamBalanceUnavailable)
	}

	if !a.progress(ctx, gen, session, 50) {
		return passResult{}, nil
	}
	raw, err := a.holdings.TokenHoldings(ctx, account)
	if err != nil {
		return passResult{}, fmt.Errorf("%w: %w", ErrAggregationFailed, err)
	}
	holdings, err := shapeHoldings(raw, a.directory)
	if err != nil {
		return passResult{}, fmt.Errorf("%w: %w", ErrAggregationFailed, err)
	}

	if !a.progress(ctx, gen, session, 75) {
		return passResult{}, nil
	}
	return passResult{
		lamports: bs.Data.Value,
		native:   lamportsToNative(bs.Data.Value),
		holdings: holdings,
		total:    totalRaw(holdings),
	}, nil
}

// progress reports a step of pass gen. It returns false once gen is superseded.
func (a *Aggregator) progress(ctx context.Context, gen uint64, session Session, pct int) bool {
	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		return false
	}
	a.state.Progress = pct
	events := []Event{a.stateEventLocked(session.Account.String(), session.Cluster)}
	a.mu.Unlock()

	a.notify(ctx, events)
	return true
}

func (a *Aggregator) apply(ctx context.Context, gen uint64, session Session, trigger Trigger, start time.Time, result passResult) error {
	native, total := result.native, result.total

	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		a.discard(ctx, gen, trigger, start)
		return nil
	}

	a.version++
	a.snapshot = Snapshot{
		Account:            session.Account.String(),
		Cluster:            session.Cluster,
		NativeLamports:     result.lamports,
		NativeBalance:      native.InexactFloat64(),
		NativeBalanceExact: native.String(),
		Holdings:           result.holdings,
		TotalValue:         total.InexactFloat64(),
		TotalRaw:           total.String(),
		FetchedAt:          a.version,
		RefreshedAt:        time.Now().UTC(),
	}
	a.state = State{Phase: PhaseIdle, Progress: 100}
	if a.hold <= 0 {
		a.state.Progress = 0
	}

	snap := a.snapshot.clone()
	events := []Event{
		{Type: EventSnapshot, Account: snap.Account, Cluster: snap.Cluster, Snapshot: &snap},
		a.stateEventLocked(snap.Account, snap.Cluster),
	}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordAggregationPass(string(trigger), "success", time.Since(start).Seconds())
		a.metrics.RecordSnapshot(len(snap.Holdings), snap.NativeBalance)
	}
	a.logger.InfoContext(ctx, "portfolio snapshot applied",
		"account", snap.Account,
		"trigger", string(trigger),
		"fetched_at", snap.FetchedAt,
		"native_balance", snap.NativeBalanceExact,
		"holdings", len(snap.Holdings),
	)
	a.notify(ctx, events)

	if a.hold > 0 {
		time.AfterFunc(a.hold, func() { a.resetProgress(gen, session) })
	}
	return nil
}

// resetProgress drops progress back to 0 after the hold, unless another pass started.
func (a *Aggregator) resetProgress(gen uint64, session Session) {
	a.mu.Lock()
	if gen != a.generation || a.state.Progress != 100 {
		a.mu.Unlock()
		return
	}
	a.state.Progress = 0
	events := []Event{a.stateEventLocked(session.Account.String(), session.Cluster)}
	a.mu.Unlock()

	a.notify(context.Background(), events)
}

func (a *Aggregator) fail(ctx context.Context, gen uint64, session Session, trigger Trigger, start time.Time, err error) error {
	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		a.discard(ctx, gen, trigger, start)
		return nil
	}
	a.state = State{Phase: PhaseError, Progress: 0, LastError: err.Error()}
	events := []Event{a.stateEventLocked(session.Account.String(), session.Cluster)}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordAggregationPass(string(trigger), "error", time.Since(start).Seconds())
	}
	a.logger.WarnContext(ctx, "aggregation pass failed",
		"account", session.Account.String(),
		"trigger", string(trigger),
		"error", err,
	)
	a.notify(ctx, events)
	return err
}

func (a *Aggregator) discard(ctx context.Context, gen uint64, trigger Trigger, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordAggregationPass(string(trigger), "stale", time.Since(start).Seconds())
		a.metrics.RecordStaleDiscard()
	}
	a.logger.DebugContext(ctx, "discarding superseded aggregation pass",
		"generation", gen,
		"trigger", string(trigger),
	)
}

func (a *Aggregator) stateEventLocked(account, cluster string) Event {
	st := a.state
	return Event{Type: EventState, Account: account, Cluster: cluster, State: &st}
}

func (a *Aggregator) notify(ctx context.Context, events []Event) {
	if a.notifier == nil {
		return
	}
	for _, e := range events {
		a.notifier.Notify(ctx, e)
	}
}
