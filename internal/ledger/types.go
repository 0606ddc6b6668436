package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/vantari-rp/tally/internal/catalog"
)

// Counts is a success/failure pair.
type Counts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Total is the combined attempt count.
func (c Counts) Total() int { return c.Succeeded + c.Failed }

// Add returns the element-wise sum.
func (c Counts) Add(o Counts) Counts {
	return Counts{Succeeded: c.Succeeded + o.Succeeded, Failed: c.Failed + o.Failed}
}

// Entry is the weekly aggregate for one establishment. Daily is present only
// for members of a group with a daily quota: it mirrors the weekly counts but
// is zeroed by the daily reset job while the weekly pair keeps accumulating
// until the rollover.
type Entry struct {
	Counts
	Daily *Counts `json:"daily,omitempty"`
}

// HeistTable is the weekly counter table: tier, then establishment key.
type HeistTable map[catalog.Tier]map[string]Entry

// DefaultHeistTable returns the zero-shaped table.
func DefaultHeistTable() HeistTable {
	t := HeistTable{}
	for _, tier := range catalog.TierOrder {
		t[tier] = map[string]Entry{}
	}
	return t
}

// ZeroedFromDirectory builds a table with a zero entry for every key in the
// directory, including a zero daily sub-counter for members of daily-quota
// groups. The rollover replaces the live table with this.
func ZeroedFromDirectory(dir catalog.Directory) HeistTable {
	t := DefaultHeistTable()
	for _, tier := range catalog.TierOrder {
		for _, est := range dir.Tiers[tier] {
			entry := Entry{}
			if hasDailyQuota(dir, tier, est) {
				entry.Daily = &Counts{}
			}
			t[tier][est.Key] = entry
		}
	}
	return t
}

func hasDailyQuota(dir catalog.Directory, tier catalog.Tier, est catalog.Establishment) bool {
	if est.GroupTag == "" {
		return false
	}
	rule, ok := catalog.GroupRuleFor(dir, tier, est.GroupTag)
	return ok && rule.Period == catalog.PeriodDaily
}

// FactionSales accumulates one faction's week: units per product plus the
// running money total.
type FactionSales struct {
	Products map[string]int  `json:"products"`
	Total    decimal.Decimal `json:"total"`
}

// SalesRegistry is the weekly sales dataset keyed by faction.
type SalesRegistry map[string]FactionSales

// DefaultSalesRegistry returns the empty registry.
func DefaultSalesRegistry() SalesRegistry { return SalesRegistry{} }

// EntrySummary is one establishment's rendered counts.
type EntrySummary struct {
	Key         string  `json:"key"`
	DisplayName string  `json:"display_name"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Total       int     `json:"total"`
	Daily       *Counts `json:"daily,omitempty"`
}

// GroupSummary renders a quota group: the combined member total against the
// group's shared ceiling.
type GroupSummary struct {
	Tag     string         `json:"tag"`
	Total   int            `json:"total"`
	Quota   int            `json:"quota"`
	Period  catalog.Period `json:"period,omitempty"`
	Members []EntrySummary `json:"members"`
}

// TierSummary is the per-tier read model: ungrouped entries first in catalog
// order, then the groups.
type TierSummary struct {
	Tier    catalog.Tier   `json:"tier"`
	Entries []EntrySummary `json:"entries"`
	Groups  []GroupSummary `json:"groups"`
}

// SaleLineStatus flags a product line against its weekly quota.
type SaleLineStatus string

const (
	SaleLineOK       SaleLineStatus = "ok"
	SaleLineAtLimit  SaleLineStatus = "at_limit"
	SaleLineExceeded SaleLineStatus = "exceeded"
)

// SaleLine is one product row in a faction's sales summary.
type SaleLine struct {
	Product     string         `json:"product"`
	DisplayName string         `json:"display_name"`
	Quantity    int            `json:"quantity"`
	WeeklyQuota int            `json:"weekly_quota"`
	Status      SaleLineStatus `json:"status"`
}

// FactionSalesSummary is the rendered week for one faction.
type FactionSalesSummary struct {
	Faction     string          `json:"faction"`
	DisplayName string          `json:"display_name"`
	Location    string          `json:"location,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Lines       []SaleLine      `json:"lines"`
}
