package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantari-rp/tally/internal/catalog"
	"github.com/vantari-rp/tally/internal/core/storage"
	"github.com/vantari-rp/tally/internal/limiter"
	"github.com/vantari-rp/tally/internal/store"
)

type capturingLog struct {
	heists []*storage.HeistEvent
	sales  []*storage.SaleEvent
	fail   bool
}

func (c *capturingLog) SaveHeist(_ context.Context, e *storage.HeistEvent) error {
	if c.fail {
		return errors.New("db down")
	}
	c.heists = append(c.heists, e)
	return nil
}

func (c *capturingLog) SaveSale(_ context.Context, e *storage.SaleEvent) error {
	if c.fail {
		return errors.New("db down")
	}
	c.sales = append(c.sales, e)
	return nil
}

type fixture struct {
	svc     *Service
	catalog *catalog.Service
	log     *capturingLog
	now     *time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	cat := catalog.NewService(
		store.New("establishments", filepath.Join(dir, "establishments.json"), 5*time.Minute, catalog.DefaultDirectory),
		store.New("products", filepath.Join(dir, "products.json"), 5*time.Minute,
			func() map[string]catalog.Product { return map[string]catalog.Product{} }),
		store.New("factions", filepath.Join(dir, "factions.json"), 5*time.Minute,
			func() map[string]catalog.Faction { return map[string]catalog.Faction{} }),
	)

	log := &capturingLog{}
	f := &fixture{catalog: cat, log: log, now: &now}

	clock := func() time.Time { return *f.now }
	base := []Option{WithEventLog(log), WithClock(clock)}
	svc := NewService(
		store.New("weekly_heists", filepath.Join(dir, "weekly_heists.json"), time.Minute, DefaultHeistTable),
		store.New("weekly_sales", filepath.Join(dir, "weekly_sales.json"), time.Minute, DefaultSalesRegistry),
		cat,
		limiter.New(limiter.WithClock(clock)),
		Limits{DailyHeists: 3, MaxParticipants: 4},
		append(base, opts...)...,
	)
	f.svc = svc
	return f
}

func seedEstablishments(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.catalog.AddEstablishment(ctx, catalog.TierLow,
		catalog.Establishment{Key: "ltd_grove", DisplayName: "LTD Grove Street"}))
	require.NoError(t, f.catalog.AddEstablishment(ctx, catalog.TierMid,
		catalog.Establishment{Key: "vangelico_x", DisplayName: "Vangelico X", GroupTag: "jewelry"}))
	require.NoError(t, f.catalog.AddEstablishment(ctx, catalog.TierMid,
		catalog.Establishment{Key: "vangelico_y", DisplayName: "Vangelico Y", GroupTag: "jewelry"}))
	require.NoError(t, f.catalog.SetGroupRule(ctx, "jewelry",
		catalog.GroupRule{Quota: 10, Period: catalog.PeriodDaily}))
}

func TestRecordHeist_IncrementsWeeklyAndDailyCounters(t *testing.T) {
	f := newFixture(t)
	seedEstablishments(t, f)
	ctx := context.Background()

	require.NoError(t, f.svc.RecordHeist(ctx, "vangelico_x", true, []string{"u1"}))
	require.NoError(t, f.svc.RecordHeist(ctx, "vangelico_x", false, []string{"u2"}))
	require.NoError(t, f.svc.RecordHeist(ctx, "ltd_grove", true, []string{"u3"}))

	table := f.svc.HeistStore().Get(ctx)

	grouped := table[catalog.TierMid]["vangelico_x"]
	require.Equal(t, Counts{Succeeded: 1, Failed: 1}, grouped.Counts)
	require.NotNil(t, grouped.Daily)
	require.Equal(t, Counts{Succeeded: 1, Failed: 1}, *grouped.Daily)

	ungrouped := table[catalog.TierLow]["ltd_grove"]
	require.Equal(t, Counts{Succeeded: 1}, ungrouped.Counts)
	require.Nil(t, ungrouped.Daily)

	require.Len(t, f.log.heists, 3)
	require.Equal(t, "mid", f.log.heists[0].Tier)
	require.NotEmpty(t, f.log.heists[0].ID)
}

func TestRecordHeist_UnknownKeyLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	seedEstablishments(t, f)
	ctx := context.Background()

	before := f.svc.HeistStore().Get(ctx)

	err := f.svc.RecordHeist(ctx, "ghost_mall", true, []string{"u1"})
	var unknown *UnknownEntityError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "ghost_mall", unknown.Key)

	require.Equal(t, before, f.svc.HeistStore().Get(ctx))
	require.Empty(t, f.log.heists)
}

func TestRecordHeist_LimiterRejectionBlocksWholeHeist(t *testing.T) {
	f := newFixture(t)
	seedEstablishments(t, f)
	ctx := context.Background()

	// Burn u2's allowance.
	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.RecordHeist(ctx, "ltd_grove", true, []string{"u2"}))
	}

	before := f.svc.HeistStore().Get(ctx)

	err := f.svc.RecordHeist(ctx, "ltd_grove", true, []string{"u1", "u2"})
	var limitErr *limiter.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, "u2", limitErr.Subject)

	// No partial table increment for u1's sake either.
	require.Equal(t, before, f.svc.HeistStore().Get(ctx))
}

func TestRecordHeist_ParticipantValidation(t *testing.T) {
	f := newFixture(t)
	seedEstablishments(t, f)
	ctx := context.Background()

	var invalid *ValidationError
	require.ErrorAs(t, f.svc.RecordHeist(ctx, "ltd_grove", true, nil), &invalid)
	require.ErrorAs(t, f.svc.RecordHeist(ctx, "ltd_grove", true,
		[]string{"a", "b", "c", "d", "e"}), &invalid)

	// Duplicates collapse to one limiter charge.
	require.NoError(t, f.svc.RecordHeist(ctx, "ltd_grove", true, []string{"u9", "u9"}))
	require.NoError(t, f.svc.RecordHeist(ctx, "ltd_grove", true, []string{"u9"}))
	require.NoError(t, f.svc.RecordHeist(ctx, "ltd_grove", true, []string{"u9"}))
	require.Error(t, f.svc.RecordHeist(ctx, "ltd_grove", true, []string{"u9"}))
}

func TestRecordHeist_SinkFailureKeepsLocalCounters(t *testing.T) {
	f := newFixture(t)
	seedEstablishments(t, f)
	f.log.fail = true
	ctx := context.Background()

	require.NoError(t, f.svc.RecordHeist(ctx, "ltd_grove", true, []string{"u1"}))
	require.Equal(t, 1, f.svc.HeistStore().Get(ctx)[catalog.TierLow]["ltd_grove"].Succeeded)
}

func TestRecordHeist_FiresPublisher(t *testing.T) {
	var published int
	var lastTable HeistTable
	f := newFixture(t, WithPublisher(func(table HeistTable, _ catalog.Directory) {
		published++
		lastTable = table
	}))
	seedEstablishments(t, f)
	ctx := context.Background()

	require.NoError(t, f.svc.RecordHeist(ctx, "ltd_grove", true, []string{"u1"}))
	require.Equal(t, 1, published)
	require.Equal(t, 1, lastTable[catalog.TierLow]["ltd_grove"].Succeeded)

	// Rejected calls must not republish.
	require.Error(t, f.svc.RecordHeist(ctx, "ghost_mall", true, []string{"u1"}))
	require.Equal(t, 1, published)
}

func TestSummarize_GroupQuotaAggregation(t *testing.T) {
	f := newFixture(t)
	seedEstablishments(t, f)
	ctx := context.Background()

	// X: 3 succeeded / 1 failed, Y: 2 succeeded. Group total 6 of 10.
	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.RecordHeist(ctx, "vangelico_x", true, []string{"x" + string(rune('a'+i))}))
	}
	require.NoError(t, f.svc.RecordHeist(ctx, "vangelico_x", false, []string{"xf"}))
	require.NoError(t, f.svc.RecordHeist(ctx, "vangelico_y", true, []string{"y1"}))
	require.NoError(t, f.svc.RecordHeist(ctx, "vangelico_y", true, []string{"y2"}))

	summary, err := f.svc.Summarize(ctx, catalog.TierMid)
	require.NoError(t, err)
	require.Empty(t, summary.Entries)
	require.Len(t, summary.Groups, 1)

	group := summary.Groups[0]
	require.Equal(t, "jewelry", group.Tag)
	require.Equal(t, 6, group.Total)
	require.Equal(t, 10, group.Quota)
	require.Equal(t, catalog.PeriodDaily, group.Period)
	require.Len(t, group.Members, 2)
	require.Equal(t, "vangelico_x", group.Members[0].Key)
	require.Equal(t, 4, group.Members[0].Total)
}

func TestSummarize_UnknownTier(t *testing.T) {
	f := newFixture(t)
	seedEstablishments(t, f)

	_, err := f.svc.Summarize(context.Background(), catalog.Tier("colossal"))
	var unknown *UnknownEntityError
	require.ErrorAs(t, err, &unknown)
}

func TestResetDailyCounters(t *testing.T) {
	f := newFixture(t)
	seedEstablishments(t, f)
	ctx := context.Background()

	require.NoError(t, f.svc.RecordHeist(ctx, "vangelico_x", true, []string{"u1"}))
	require.NoError(t, f.svc.ResetDailyCounters(ctx))

	entry := f.svc.HeistStore().Get(ctx)[catalog.TierMid]["vangelico_x"]
	require.Equal(t, 1, entry.Succeeded, "weekly counts keep accumulating")
	require.NotNil(t, entry.Daily)
	require.Equal(t, Counts{}, *entry.Daily)
}

func TestRecordSale_AccumulatesRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.catalog.AddFaction(ctx, "vagos", catalog.Faction{DisplayName: "Los Santos Vagos", Location: "East Side"}))
	require.NoError(t, f.catalog.AddProduct(ctx, "pistol_mk2", catalog.Product{DisplayName: "Pistol Mk II", WeeklyQuota: 3}))

	require.NoError(t, f.svc.RecordSale(ctx, "vagos", "seller-1",
		map[string]int{"pistol_mk2": 2}, decimal.NewFromInt(25000)))
	require.NoError(t, f.svc.RecordSale(ctx, "vagos", "seller-1",
		map[string]int{"pistol_mk2": 2}, decimal.NewFromInt(25000)))

	summaries := f.svc.SalesSummary(ctx)
	require.Len(t, summaries, 1)
	require.Equal(t, "Los Santos Vagos", summaries[0].DisplayName)
	require.True(t, summaries[0].Total.Equal(decimal.NewFromInt(50000)))
	require.Len(t, summaries[0].Lines, 1)
	require.Equal(t, 4, summaries[0].Lines[0].Quantity)
	require.Equal(t, SaleLineExceeded, summaries[0].Lines[0].Status)

	require.Len(t, f.log.sales, 2)
}

func TestRecordSale_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.catalog.AddFaction(ctx, "vagos", catalog.Faction{DisplayName: "Vagos"}))
	require.NoError(t, f.catalog.AddProduct(ctx, "pistol_mk2", catalog.Product{DisplayName: "Pistol Mk II", WeeklyQuota: 3}))

	var unknown *UnknownEntityError
	require.ErrorAs(t, f.svc.RecordSale(ctx, "ballas", "s",
		map[string]int{"pistol_mk2": 1}, decimal.NewFromInt(1)), &unknown)
	require.Equal(t, "faction", unknown.Kind)

	require.ErrorAs(t, f.svc.RecordSale(ctx, "vagos", "s",
		map[string]int{"railgun": 1}, decimal.NewFromInt(1)), &unknown)
	require.Equal(t, "product", unknown.Kind)

	var invalid *ValidationError
	require.ErrorAs(t, f.svc.RecordSale(ctx, "vagos", "s", nil, decimal.NewFromInt(1)), &invalid)
	require.ErrorAs(t, f.svc.RecordSale(ctx, "vagos", "s",
		map[string]int{"pistol_mk2": 0}, decimal.NewFromInt(1)), &invalid)
	require.ErrorAs(t, f.svc.RecordSale(ctx, "vagos", "s",
		map[string]int{"pistol_mk2": 1}, decimal.NewFromInt(-5)), &invalid)

	// Nothing accumulated by the rejected calls.
	require.Empty(t, f.svc.SalesSummary(ctx))
}
