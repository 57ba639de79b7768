package portfolio

import (
	"slices"
	"time"

	solanago "github.com/gagliardetto/solana-go"
)

// Phase is the aggregation state machine position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseLoading    Phase = "loading"
	PhaseRefreshing Phase = "refreshing"
	PhaseError      Phase = "error"
)

// State is the presentation-facing status of the aggregator.
type State struct {
	Phase     Phase  `json:"phase"`
	Progress  int    `json:"progress"` // 0-100
	LastError string `json:"last_error,omitempty"`
}

// Holding is one token position, keyed by mint within a snapshot.
type Holding struct {
	Mint      string `json:"mint"`
	RawAmount string `json:"raw_amount"` // integer in base units
	Decimals  uint8  `json:"decimals"`
	Symbol    string `json:"symbol,omitempty"`
}

// Snapshot is a consistent view of one account's holdings. Snapshots are
// replaced wholesale; FetchedAt increases with every applied pass.
type Snapshot struct {
	Account            string    `json:"account,omitempty"`
	Cluster            string    `json:"cluster,omitempty"`
	NativeLamports     uint64    `json:"native_lamports"`
	NativeBalance      float64   `json:"native_balance"`
	NativeBalanceExact string    `json:"native_balance_exact"`
	Holdings           []Holding `json:"holdings"`
	// TotalValue sums raw amounts across mints with different decimals and
	// no prices. It is a display aggregate, not a valuation.
	TotalValue         float64   `json:"total_value"`
	TotalRaw           string    `json:"total_raw"`
	FetchedAt          uint64    `json:"fetched_at"`
	RefreshedAt        time.Time `json:"refreshed_at"`
}

func emptySnapshot() Snapshot {
	return Snapshot{
		NativeBalanceExact: "0",
		Holdings:           []Holding{},
		TotalRaw:           "0",
	}
}

// clone returns a copy that shares no mutable memory with s.
func (s Snapshot) clone() Snapshot {
	s.Holdings = slices.Clone(s.Holdings)
	if s.Holdings == nil {
		s.Holdings = []Holding{}
	}
	return s
}

// Session is the connected account and the cluster it lives on.
type Session struct {
	Account solanago.PublicKey
	Cluster string
}

// View is the read-only projection handed to presentation code.
type View interface {
	Snapshot() Snapshot
	State() State
}

// EventType distinguishes state and snapshot notifications.
type EventType string

const (
	EventState    EventType = "state"
	EventSnapshot EventType = "snapshot"
)

// Event is emitted on every state transition, progress step and applied snapshot.
type Event struct {
	Type     EventType
	Account  string
	Cluster  string
	State    *State
	Snapshot *Snapshot
}
