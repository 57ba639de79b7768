package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/folio/service/balance"
	"github.com/brojonat/folio/service/portfolio"
	solanago "github.com/gagliardetto/solana-go"
)

// Portfolio is the aggregator surface the HTTP layer drives.
type Portfolio interface {
	portfolio.View
	Session() (portfolio.Session, bool)
	Connect(ctx context.Context, session portfolio.Session) error
	Disconnect(ctx context.Context)
	Refresh(ctx context.Context) error
	OnBalanceChanged(ctx context.Context, account solanago.PublicKey) error
}

// BalanceWatcher polls an account's balance and reports changes.
type BalanceWatcher interface {
	Watch(ctx context.Context, account solanago.PublicKey, interval time.Duration, onChange func(context.Context, balance.State))
	Forget(account solanago.PublicKey)
}

// sessions ties the connected account to its balance watch. Only one account
// is connected at a time; connecting another stops the previous watch.
type sessions struct {
	portfolio Portfolio
	watcher   BalanceWatcher
	interval  time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSessions(p Portfolio, watcher BalanceWatcher, interval time.Duration, logger *slog.Logger) *sessions {
	return &sessions{portfolio: p, watcher: watcher, interval: interval, logger: logger}
}

// connect switches to session and runs the initial pass. The returned error
// is the pass failure, which is also reflected in the portfolio state.
// s.mu is not held during the pass so a disconnect can invalidate it.
func (s *sessions) connect(ctx context.Context, session portfolio.Session) error {
	s.mu.Lock()
	if prev, ok := s.portfolio.Session(); ok && !prev.Account.Equals(session.Account) {
		s.stopLocked(prev.Account)
	}
	s.mu.Unlock()

	err := s.portfolio.Connect(ctx, session)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A disconnect or another connect may have won while the pass ran.
	current, ok := s.portfolio.Session()
	if !ok || !current.Account.Equals(session.Account) {
		return err
	}

	if s.cancel == nil && s.watcher != nil && s.interval > 0 {
		watchCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watcher.Watch(watchCtx, session.Account, s.interval, func(ctx context.Context, _ balance.State) {
				if err := s.portfolio.OnBalanceChanged(ctx, session.Account); err != nil {
					s.logger.DebugContext(ctx, "balance change pass failed",
						"account", session.Account.String(),
						"error", err,
					)
				}
			})
		}()
		s.logger.InfoContext(ctx, "watching balance",
			"account", session.Account.String(),
			"interval", s.interval.String(),
		)
	}

	return err
}

// disconnect stops the watch and resets the portfolio.
func (s *sessions) disconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.portfolio.Session(); ok {
		s.stopLocked(prev.Account)
	}
	s.portfolio.Disconnect(ctx)
}

// close stops any running watch.
func (s *sessions) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}

func (s *sessions) stopLocked(account solanago.PublicKey) {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.watcher != nil {
		s.watcher.Forget(account)
	}
}
