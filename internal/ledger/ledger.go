// Package ledger maintains the live weekly aggregates: the heist counter
// table and the faction sales registry. All mutation goes through the durable
// keyed store's serialized read-modify-write, so concurrent record calls can
// never clobber each other's increments.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vantari-rp/tally/internal/catalog"
	"github.com/vantari-rp/tally/internal/core/storage"
	"github.com/vantari-rp/tally/internal/limiter"
	"github.com/vantari-rp/tally/internal/store"
)

// Publisher receives the heist table and catalog directory after every change
// to the totals, so the chat summary can be kept current. Calls are
// fire-and-forget from the ledger's perspective.
type Publisher func(table HeistTable, dir catalog.Directory)

// Limits are the caller-facing ceilings applied by RecordHeist.
type Limits struct {
	DailyHeists     int
	MaxParticipants int
}

// Service is the write/read surface over the weekly aggregates.
type Service struct {
	heists   *store.Store[HeistTable]
	sales    *store.Store[SalesRegistry]
	catalog  *catalog.Service
	limiter  *limiter.DailyLimiter
	eventLog storage.EventLog // nil disables the relational sink
	publish  Publisher        // nil disables republishing
	limits   Limits
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEventLog attaches the append-only relational sink.
func WithEventLog(log storage.EventLog) Option {
	return func(s *Service) { s.eventLog = log }
}

// WithPublisher attaches the republish callback.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publish = p }
}

// WithClock overrides the service's time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	heists *store.Store[HeistTable],
	sales *store.Store[SalesRegistry],
	cat *catalog.Service,
	lim *limiter.DailyLimiter,
	limits Limits,
	opts ...Option,
) *Service {
	if heists == nil || sales == nil {
		panic("ledger: stores must not be nil")
	}
	if cat == nil {
		panic("ledger: catalog must not be nil")
	}
	if lim == nil {
		panic("ledger: limiter must not be nil")
	}
	if limits.DailyHeists <= 0 {
		limits.DailyHeists = 3
	}
	if limits.MaxParticipants <= 0 {
		limits.MaxParticipants = 10
	}
	s := &Service{
		heists:  heists,
		sales:   sales,
		catalog: cat,
		limiter: lim,
		limits:  limits,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HeistStore exposes the underlying dataset for the rollover controller,
// which owns the archive-and-reset cycle.
func (s *Service) HeistStore() *store.Store[HeistTable] { return s.heists }

// SalesStore exposes the sales dataset for the rollover controller.
func (s *Service) SalesStore() *store.Store[SalesRegistry] { return s.sales }

// RecordHeist counts one heist attempt against an establishment. Every
// participant is checked against the daily limiter before any counter moves;
// a rejection fails the whole call with no table mutation (the limiter's own
// state does advance, per its leaky policy). On success the table increment
// is persisted, the event goes to the relational log best-effort, and the
// republish hook fires.
func (s *Service) RecordHeist(ctx context.Context, key string, success bool, participants []string) error {
	participants, err := normalizeParticipants(participants, s.limits.MaxParticipants)
	if err != nil {
		return err
	}

	dir := s.catalog.Directory(ctx)
	est, tier, ok := catalog.FindInDirectory(dir, key)
	if !ok {
		return &UnknownEntityError{Kind: "establishment", Key: key}
	}

	for _, subject := range participants {
		if err := s.limiter.CheckAndIncrement(subject, s.limits.DailyHeists); err != nil {
			return err
		}
	}

	countDaily := hasDailyQuota(dir, tier, est)
	table, err := s.heists.Mutate(ctx, func(t HeistTable) (HeistTable, error) {
		if t == nil {
			t = DefaultHeistTable()
		}
		if t[tier] == nil {
			t[tier] = map[string]Entry{}
		}
		entry := t[tier][est.Key]
		if success {
			entry.Succeeded++
		} else {
			entry.Failed++
		}
		if countDaily {
			if entry.Daily == nil {
				entry.Daily = &Counts{}
			}
			if success {
				entry.Daily.Succeeded++
			} else {
				entry.Daily.Failed++
			}
		}
		t[tier][est.Key] = entry
		return t, nil
	})
	if err != nil {
		return err
	}

	if s.eventLog != nil {
		event := &storage.HeistEvent{
			ID:            uuid.NewString(),
			Establishment: est.Key,
			Tier:          string(tier),
			Success:       success,
			Participants:  participants,
			OccurredAt:    s.now().UTC(),
		}
		if err := s.eventLog.SaveHeist(ctx, event); err != nil {
			slog.Warn("[Ledger] Relational log write failed, local counters kept",
				"event_id", event.ID, "establishment", est.Key, "error", err)
		}
	}

	if s.publish != nil {
		s.publish(table, dir)
	}
	return nil
}

// Summarize renders one tier of the heist table: ungrouped establishments in
// catalog order, then each group with its combined total against the group
// quota. Pure read.
func (s *Service) Summarize(ctx context.Context, tier catalog.Tier) (TierSummary, error) {
	dir := s.catalog.Directory(ctx)
	if _, ok := dir.Tiers[tier]; !ok {
		return TierSummary{}, &UnknownEntityError{Kind: "tier", Key: string(tier)}
	}
	table := s.heists.Get(ctx)
	return summarizeTier(table, dir, tier), nil
}

// SummarizeAll renders every tier in presentation order.
func (s *Service) SummarizeAll(ctx context.Context) []TierSummary {
	dir := s.catalog.Directory(ctx)
	table := s.heists.Get(ctx)
	summaries := make([]TierSummary, 0, len(catalog.TierOrder))
	for _, tier := range catalog.TierOrder {
		summaries = append(summaries, summarizeTier(table, dir, tier))
	}
	return summaries
}

func summarizeTier(table HeistTable, dir catalog.Directory, tier catalog.Tier) TierSummary {
	counts := table[tier]
	summary := TierSummary{Tier: tier, Entries: []EntrySummary{}, Groups: []GroupSummary{}}

	groupOrder := []string{}
	grouped := map[string][]EntrySummary{}

	for _, est := range dir.Tiers[tier] {
		entry := counts[est.Key]
		es := EntrySummary{
			Key:         est.Key,
			DisplayName: est.DisplayName,
			Succeeded:   entry.Succeeded,
			Failed:      entry.Failed,
			Total:       entry.Total(),
			Daily:       entry.Daily,
		}
		if est.GroupTag == "" {
			summary.Entries = append(summary.Entries, es)
			continue
		}
		if _, seen := grouped[est.GroupTag]; !seen {
			groupOrder = append(groupOrder, est.GroupTag)
		}
		grouped[est.GroupTag] = append(grouped[est.GroupTag], es)
	}

	for _, tag := range groupOrder {
		members := grouped[tag]
		total := 0
		for _, m := range members {
			total += m.Total
		}
		gs := GroupSummary{Tag: tag, Total: total, Members: members}
		if rule, ok := catalog.GroupRuleFor(dir, tier, tag); ok {
			gs.Quota = rule.Quota
			gs.Period = rule.Period
		}
		summary.Groups = append(summary.Groups, gs)
	}
	return summary
}

// RecordSale accumulates a finalized sale into the faction's weekly registry
// and emits it to the relational log best-effort.
func (s *Service) RecordSale(ctx context.Context, factionKey, seller string, items map[string]int, price decimal.Decimal) error {
	if len(items) == 0 {
		return &ValidationError{Msg: "a sale needs at least one product"}
	}
	if price.IsNegative() {
		return &ValidationError{Msg: "sale price must not be negative"}
	}

	if _, ok := s.catalog.Faction(ctx, factionKey); !ok {
		return &UnknownEntityError{Kind: "faction", Key: factionKey}
	}
	products := s.catalog.Products(ctx)
	for key, qty := range items {
		if qty <= 0 {
			return &ValidationError{Msg: fmt.Sprintf("quantity for %q must be positive", key)}
		}
		if _, ok := products[key]; !ok {
			return &UnknownEntityError{Kind: "product", Key: key}
		}
	}

	_, err := s.sales.Mutate(ctx, func(reg SalesRegistry) (SalesRegistry, error) {
		if reg == nil {
			reg = DefaultSalesRegistry()
		}
		fs := reg[factionKey]
		if fs.Products == nil {
			fs.Products = map[string]int{}
		}
		for key, qty := range items {
			fs.Products[key] += qty
		}
		fs.Total = fs.Total.Add(price)
		reg[factionKey] = fs
		return reg, nil
	})
	if err != nil {
		return err
	}

	if s.eventLog != nil {
		event := &storage.SaleEvent{
			ID:         uuid.NewString(),
			Faction:    factionKey,
			Seller:     seller,
			Items:      items,
			TotalPrice: price,
			OccurredAt: s.now().UTC(),
		}
		if err := s.eventLog.SaveSale(ctx, event); err != nil {
			slog.Warn("[Ledger] Relational log write failed, local registry kept",
				"event_id", event.ID, "faction", factionKey, "error", err)
		}
	}
	return nil
}

// SalesSummary renders the weekly registry: every faction with recorded
// sales, product lines flagged against their weekly quotas, sorted by money
// total descending. Pure read.
func (s *Service) SalesSummary(ctx context.Context) []FactionSalesSummary {
	reg := s.sales.Get(ctx)
	factions := s.catalog.Factions(ctx)
	products := s.catalog.Products(ctx)

	summaries := make([]FactionSalesSummary, 0, len(reg))
	for factionKey, fs := range reg {
		fss := FactionSalesSummary{
			Faction: factionKey,
			Total:   fs.Total,
			Lines:   []SaleLine{},
		}
		if f, ok := factions[factionKey]; ok {
			fss.DisplayName = f.DisplayName
			fss.Location = f.Location
		} else {
			fss.DisplayName = factionKey
		}

		keys := make([]string, 0, len(fs.Products))
		for key := range fs.Products {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			qty := fs.Products[key]
			line := SaleLine{Product: key, DisplayName: key, Quantity: qty, Status: SaleLineOK}
			if p, ok := products[key]; ok {
				line.DisplayName = p.DisplayName
				line.WeeklyQuota = p.WeeklyQuota
				switch {
				case qty > p.WeeklyQuota:
					line.Status = SaleLineExceeded
				case qty == p.WeeklyQuota:
					line.Status = SaleLineAtLimit
				}
			}
			fss.Lines = append(fss.Lines, line)
		}
		summaries = append(summaries, fss)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].Total.Equal(summaries[j].Total) {
			return summaries[i].Total.GreaterThan(summaries[j].Total)
		}
		return summaries[i].Faction < summaries[j].Faction
	})
	return summaries
}

// ResetDailyCounters zeroes the daily sub-counters across the table, leaving
// the weekly pairs untouched. The daily cron job calls this at midnight.
func (s *Service) ResetDailyCounters(ctx context.Context) error {
	_, err := s.heists.Mutate(ctx, func(t HeistTable) (HeistTable, error) {
		for tier, entries := range t {
			for key, entry := range entries {
				if entry.Daily != nil {
					entry.Daily = &Counts{}
					t[tier][key] = entry
				}
			}
		}
		return t, nil
	})
	return err
}

func normalizeParticipants(participants []string, max int) ([]string, error) {
	seen := map[string]struct{}{}
	normalized := make([]string, 0, len(participants))
	for _, p := range participants {
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	if len(normalized) == 0 {
		return nil, &ValidationError{Msg: "a heist needs at least one participant"}
	}
	if len(normalized) > max {
		return nil, &ValidationError{Msg: fmt.Sprintf("too many participants: %d (max %d)", len(normalized), max)}
	}
	return normalized, nil
}
