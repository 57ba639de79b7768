package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/folio/service/metrics"
	natspkg "github.com/brojonat/folio/service/nats"
)

// EventSource delivers live portfolio events for an account ("" for all).
type EventSource interface {
	Subscribe(ctx context.Context, account string) (<-chan *natspkg.PortfolioEvent, error)
}

const keepaliveInterval = 10 * time.Second

// handleStreamPortfolio handles SSE streaming of portfolio events.
// If the account path parameter is empty, streams all accounts.
func handleStreamPortfolio(source EventSource, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := r.PathValue("account")
		if account != "" {
			if err := validateAddress(account); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		accountDesc := account
		if accountDesc == "" {
			accountDesc = "all accounts"
		}

		events, err := source.Subscribe(r.Context(), account)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to subscribe to portfolio events",
				"account", accountDesc,
				"error", err,
			)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		// Streams outlive the server's write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flush := func() {
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}

		if m != nil {
			m.RecordSSEConnectionChange(1)
			defer m.RecordSSEConnectionChange(-1)
		}

		logger.DebugContext(r.Context(), "SSE client connected",
			"account", accountDesc,
			"remote_addr", r.RemoteAddr,
		)

		fmt.Fprintf(w, "event: connected\ndata: {\"account\":%q}\n\n", accountDesc)
		flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case event, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "error", err)
					continue
				}

				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
				flush()
				if m != nil {
					m.RecordSSEEventSent(event.Type)
				}

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"account", accountDesc,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
