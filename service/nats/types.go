package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/folio/service/portfolio"
)

// PortfolioEvent is a portfolio event published to NATS.
// This is published to the subject "portfolio.{account}" in JetStream.
type PortfolioEvent struct {
	Type    string `json:"type"` // "state" or "snapshot"
	Account string `json:"account"`
	Cluster string `json:"cluster,omitempty"`

	State    *portfolio.State    `json:"state,omitempty"`
	Snapshot *portfolio.Snapshot `json:"snapshot,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// FromPortfolioEvent converts an aggregator event for publishing.
func FromPortfolioEvent(e portfolio.Event) *PortfolioEvent {
	return &PortfolioEvent{
		Type:        string(e.Type),
		Account:     e.Account,
		Cluster:     e.Cluster,
		State:       e.State,
		Snapshot:    e.Snapshot,
		PublishedAt: time.Now().UTC(),
	}
}

// Subject returns the subject events for account are published on.
// An empty account yields the wildcard covering all accounts.
func Subject(account string) string {
	if account == "" {
		return StreamSubjects
	}
	return fmt.Sprintf("portfolio.%s", account)
}
