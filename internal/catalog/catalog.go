// Package catalog holds the slowly-changing reference data the tally engine
// enumerates: establishments grouped by heist tier, sellable products, and the
// factions that buy them. The catalog defines the key-space of the weekly
// counter tables; entries are appended by admin operations and never deleted
// in normal operation.
package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vantari-rp/tally/internal/store"
)

// Tier classifies an establishment by heist severity.
type Tier string

const (
	TierLow   Tier = "low"
	TierMid   Tier = "mid"
	TierMajor Tier = "major"
)

// TierOrder is the stable presentation order for tiers. Group quota
// resolution and report rendering both iterate in this order.
var TierOrder = []Tier{TierLow, TierMid, TierMajor}

// Period is the cadence a quota applies over.
type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodWeekly Period = "weekly"
)

// Establishment is one robbable location. Entries sharing a GroupTag count
// against one combined quota; Quota/QuotaPeriod on the member are the legacy
// way of expressing that quota and are consulted only when the directory has
// no explicit rule for the tag.
type Establishment struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	GroupTag    string `json:"group_tag,omitempty"`
	Quota       int    `json:"quota,omitempty"`
	QuotaPeriod Period `json:"quota_period,omitempty"`
}

// GroupRule is the explicit quota for a group tag.
type GroupRule struct {
	Quota  int    `json:"quota"`
	Period Period `json:"period"`
}

// Directory is the establishments dataset: insertion-ordered member lists per
// tier plus the explicit group rules.
type Directory struct {
	Tiers  map[Tier][]Establishment `json:"tiers"`
	Groups map[string]GroupRule     `json:"groups,omitempty"`
}

// Product is one sellable item. WeeklyQuota bounds how many units a faction
// may buy per week; zero means the product is frozen.
type Product struct {
	DisplayName string          `json:"display_name"`
	WeeklyQuota int             `json:"weekly_quota"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Faction is one buying crew.
type Faction struct {
	DisplayName string `json:"display_name"`
	Location    string `json:"location,omitempty"`
}

// DefaultDirectory returns the zero-shaped establishments dataset.
func DefaultDirectory() Directory {
	return Directory{
		Tiers: map[Tier][]Establishment{
			TierLow:   {},
			TierMid:   {},
			TierMajor: {},
		},
		Groups: map[string]GroupRule{},
	}
}

// Service reads and amends the three catalog datasets through their stores.
type Service struct {
	establishments *store.Store[Directory]
	products       *store.Store[map[string]Product]
	factions       *store.Store[map[string]Faction]
}

func NewService(
	establishments *store.Store[Directory],
	products *store.Store[map[string]Product],
	factions *store.Store[map[string]Faction],
) *Service {
	if establishments == nil || products == nil || factions == nil {
		panic("catalog: all dataset stores must be non-nil")
	}
	return &Service{
		establishments: establishments,
		products:       products,
		factions:       factions,
	}
}

// Directory returns the current establishments dataset.
func (s *Service) Directory(ctx context.Context) Directory {
	return s.establishments.Get(ctx)
}

// RefreshDirectory is the strict read used by the rollover: it bypasses the
// TTL and fails rather than degrading to an empty catalog.
func (s *Service) RefreshDirectory(ctx context.Context) (Directory, error) {
	return s.establishments.Refresh(ctx)
}

// FindEstablishment locates key across all tiers.
func (s *Service) FindEstablishment(ctx context.Context, key string) (Establishment, Tier, bool) {
	return FindInDirectory(s.Directory(ctx), key)
}

// FindInDirectory locates key in an already-loaded directory snapshot.
func FindInDirectory(dir Directory, key string) (Establishment, Tier, bool) {
	for _, tier := range TierOrder {
		for _, est := range dir.Tiers[tier] {
			if est.Key == key {
				return est, tier, true
			}
		}
	}
	return Establishment{}, "", false
}

// GroupRuleFor resolves the quota rule for a group tag within a tier. The
// explicit directory rule wins; otherwise the rule is inferred from the first
// member carrying the tag in insertion order (the legacy behavior, kept for
// catalogs that predate explicit rules).
func GroupRuleFor(dir Directory, tier Tier, tag string) (GroupRule, bool) {
	if rule, ok := dir.Groups[tag]; ok {
		return rule, true
	}
	for _, est := range dir.Tiers[tier] {
		if est.GroupTag == tag && est.Quota > 0 {
			period := est.QuotaPeriod
			if period == "" {
				period = PeriodWeekly
			}
			return GroupRule{Quota: est.Quota, Period: period}, true
		}
	}
	return GroupRule{}, false
}

// AddEstablishment appends a new member to a tier. Keys are unique across the
// whole directory.
func (s *Service) AddEstablishment(ctx context.Context, tier Tier, est Establishment) error {
	if !validTier(tier) {
		return fmt.Errorf("catalog: unknown tier %q", tier)
	}
	if est.Key == "" || est.DisplayName == "" {
		return fmt.Errorf("catalog: establishment key and display name are required")
	}
	_, err := s.establishments.Mutate(ctx, func(dir Directory) (Directory, error) {
		if dir.Tiers == nil {
			dir = DefaultDirectory()
		}
		if _, _, exists := FindInDirectory(dir, est.Key); exists {
			return dir, fmt.Errorf("catalog: establishment %q already exists", est.Key)
		}
		dir.Tiers[tier] = append(dir.Tiers[tier], est)
		return dir, nil
	})
	return err
}

// SetGroupRule creates or replaces the explicit rule for a group tag.
func (s *Service) SetGroupRule(ctx context.Context, tag string, rule GroupRule) error {
	if tag == "" {
		return fmt.Errorf("catalog: group tag is required")
	}
	if rule.Period != PeriodDaily && rule.Period != PeriodWeekly {
		return fmt.Errorf("catalog: group period must be daily or weekly, got %q", rule.Period)
	}
	_, err := s.establishments.Mutate(ctx, func(dir Directory) (Directory, error) {
		if dir.Groups == nil {
			dir.Groups = map[string]GroupRule{}
		}
		dir.Groups[tag] = rule
		return dir, nil
	})
	return err
}

// Products returns the product dataset.
func (s *Service) Products(ctx context.Context) map[string]Product {
	return s.products.Get(ctx)
}

// Product looks up one product by key.
func (s *Service) Product(ctx context.Context, key string) (Product, bool) {
	p, ok := s.products.Get(ctx)[key]
	return p, ok
}

// AddProduct creates or replaces a product entry.
func (s *Service) AddProduct(ctx context.Context, key string, p Product) error {
	if key == "" || p.DisplayName == "" {
		return fmt.Errorf("catalog: product key and display name are required")
	}
	_, err := s.products.Mutate(ctx, func(m map[string]Product) (map[string]Product, error) {
		if m == nil {
			m = map[string]Product{}
		}
		m[key] = p
		return m, nil
	})
	return err
}

// Factions returns the faction dataset.
func (s *Service) Factions(ctx context.Context) map[string]Faction {
	return s.factions.Get(ctx)
}

// Faction looks up one faction by key.
func (s *Service) Faction(ctx context.Context, key string) (Faction, bool) {
	f, ok := s.factions.Get(ctx)[key]
	return f, ok
}

// AddFaction creates or replaces a faction entry.
func (s *Service) AddFaction(ctx context.Context, key string, f Faction) error {
	if key == "" || f.DisplayName == "" {
		return fmt.Errorf("catalog: faction key and display name are required")
	}
	_, err := s.factions.Mutate(ctx, func(m map[string]Faction) (map[string]Faction, error) {
		if m == nil {
			m = map[string]Faction{}
		}
		m[key] = f
		return m, nil
	})
	return err
}

// Invalidate forces all three datasets to re-read on next access. Admin
// tooling calls this after editing the documents out of band.
func (s *Service) Invalidate() {
	s.establishments.Invalidate()
	s.products.Invalidate()
	s.factions.Invalidate()
}

func validTier(t Tier) bool {
	for _, tier := range TierOrder {
		if t == tier {
			return true
		}
	}
	return false
}
