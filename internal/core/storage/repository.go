package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// HeistEvent is one validated heist record emitted to the relational log.
type HeistEvent struct {
	ID            string
	Establishment string
	Tier          string
	Success       bool
	Participants  []string
	OccurredAt    time.Time
}

// SaleEvent is one validated sale record emitted to the relational log.
type SaleEvent struct {
	ID         string
	Faction    string
	Seller     string
	Items      map[string]int
	TotalPrice decimal.Decimal
	OccurredAt time.Time
}

// EventLog is the append-only relational sink. The tally core only writes to
// it, after local aggregate mutation has already succeeded; it never reads it
// back. Failures are best-effort by contract: the caller logs and moves on.
type EventLog interface {
	SaveHeist(ctx context.Context, event *HeistEvent) error
	SaveSale(ctx context.Context, event *SaleEvent) error
}
