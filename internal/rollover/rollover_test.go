package rollover

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantari-rp/tally/internal/catalog"
	"github.com/vantari-rp/tally/internal/ledger"
	"github.com/vantari-rp/tally/internal/limiter"
	"github.com/vantari-rp/tally/internal/store"
)

type fixture struct {
	controller *Controller
	ledger     *ledger.Service
	catalog    *catalog.Service
	limiter    *limiter.DailyLimiter
	archives   *ArchiveRepository
	archiveDir string
	dataDir    string
	published  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	archiveDir := filepath.Join(dataDir, "archives")
	now := time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC) // a Monday

	cat := catalog.NewService(
		store.New("establishments", filepath.Join(dataDir, "establishments.json"), 5*time.Minute, catalog.DefaultDirectory),
		store.New("products", filepath.Join(dataDir, "products.json"), 5*time.Minute,
			func() map[string]catalog.Product { return map[string]catalog.Product{} }),
		store.New("factions", filepath.Join(dataDir, "factions.json"), 5*time.Minute,
			func() map[string]catalog.Faction { return map[string]catalog.Faction{} }),
	)
	lim := limiter.New()
	led := ledger.NewService(
		store.New("weekly_heists", filepath.Join(dataDir, "weekly_heists.json"), time.Minute, ledger.DefaultHeistTable),
		store.New("weekly_sales", filepath.Join(dataDir, "weekly_sales.json"), time.Minute, ledger.DefaultSalesRegistry),
		cat, lim, ledger.Limits{DailyHeists: 100, MaxParticipants: 10},
	)

	f := &fixture{
		ledger:     led,
		catalog:    cat,
		limiter:    lim,
		archives:   NewArchiveRepository(archiveDir),
		archiveDir: archiveDir,
		dataDir:    dataDir,
	}

	ctrl, err := New(led, cat, lim, f.archives, DefaultSchedule(),
		WithClock(func() time.Time { return now }),
		WithPublisher(func(_ ledger.HeistTable, _ catalog.Directory) { f.published++ }),
	)
	require.NoError(t, err)
	f.controller = ctrl
	return f
}

func seedCatalog(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.catalog.AddEstablishment(ctx, catalog.TierLow,
		catalog.Establishment{Key: "est_a", DisplayName: "Ammu-Nation South"}))
	require.NoError(t, f.catalog.AddEstablishment(ctx, catalog.TierLow,
		catalog.Establishment{Key: "est_b", DisplayName: "Binco Vespucci"}))
	require.NoError(t, f.catalog.AddEstablishment(ctx, catalog.TierMajor,
		catalog.Establishment{Key: "est_c", DisplayName: "Casino Vault", GroupTag: "casino"}))
	require.NoError(t, f.catalog.SetGroupRule(ctx, "casino",
		catalog.GroupRule{Quota: 2, Period: catalog.PeriodDaily}))
}

func TestRunWeekly_ZeroesExactlyTheCatalogKeySpace(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	ctx := context.Background()

	require.NoError(t, f.ledger.RecordHeist(ctx, "est_a", true, []string{"u1"}))
	require.NoError(t, f.ledger.RecordHeist(ctx, "est_b", false, []string{"u2"}))

	require.NoError(t, f.controller.RunWeekly(ctx))

	table := f.ledger.HeistStore().Get(ctx)

	require.Len(t, table[catalog.TierLow], 2)
	require.Len(t, table[catalog.TierMid], 0)
	require.Len(t, table[catalog.TierMajor], 1)

	require.Equal(t, ledger.Counts{}, table[catalog.TierLow]["est_a"].Counts)
	require.Equal(t, ledger.Counts{}, table[catalog.TierLow]["est_b"].Counts)

	// est_c never had an event, yet rollover seeds it - with a zero daily
	// sub-counter because its group has a daily quota.
	entry, ok := table[catalog.TierMajor]["est_c"]
	require.True(t, ok)
	require.Equal(t, ledger.Counts{}, entry.Counts)
	require.NotNil(t, entry.Daily)
	require.Equal(t, ledger.Counts{}, *entry.Daily)

	require.Equal(t, 1, f.published)
	require.Empty(t, f.ledger.SalesSummary(ctx))
}

func TestRunWeekly_ArchiveFidelityAndIdempotence(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.ledger.RecordHeist(ctx, "est_a", true, []string{"u1"}))
	}
	require.NoError(t, f.ledger.RecordHeist(ctx, "est_a", false, []string{"u1"}))
	require.NoError(t, f.ledger.RecordHeist(ctx, "est_a", false, []string{"u1"}))

	// Snapshot state so a second run sees identical input.
	tableBefore := f.ledger.HeistStore().Get(ctx)

	require.NoError(t, f.controller.RunWeekly(ctx))

	name := HeistArchiveName(PeriodEnding(time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC)))
	require.Equal(t, "Heists_Week_18-08_24-08.txt", name)

	first, err := f.archives.Open(name)
	require.NoError(t, err)
	require.Contains(t, string(first), "Ammu-Nation South")
	require.Contains(t, string(first), "ok  5")
	require.Contains(t, string(first), "ko  2")
	require.Contains(t, string(first), "CASINO heists: 0/2")

	// Re-running for the same period with the same input overwrites the
	// artifact byte-for-byte.
	f.ledger.HeistStore().Set(ctx, tableBefore)
	require.NoError(t, f.controller.RunWeekly(ctx))

	second, err := f.archives.Open(name)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRunWeekly_AbortsOnCorruptTable(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	ctx := context.Background()

	require.NoError(t, f.ledger.RecordHeist(ctx, "est_a", true, []string{"u1"}))

	// Corrupt the backing document behind the store's cache.
	require.NoError(t, os.WriteFile(filepath.Join(f.dataDir, "weekly_heists.json"), []byte("{broken"), 0o644))

	err := f.controller.RunWeekly(ctx)
	var aborted *AbortedError
	require.ErrorAs(t, err, &aborted)

	// No artifact written, no republish, nothing reset.
	names, listErr := f.archives.List(0)
	require.NoError(t, listErr)
	require.Empty(t, names)
	require.Zero(t, f.published)
}

func TestRunWeekly_WritesSalesArchive(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	ctx := context.Background()

	require.NoError(t, f.catalog.AddFaction(ctx, "vagos",
		catalog.Faction{DisplayName: "Los Santos Vagos", Location: "East Side"}))
	require.NoError(t, f.catalog.AddProduct(ctx, "vest",
		catalog.Product{DisplayName: "Ballistic Vest", WeeklyQuota: 2}))
	require.NoError(t, f.ledger.RecordSale(ctx, "vagos", "s1",
		map[string]int{"vest": 2}, decimal.NewFromInt(30000)))

	require.NoError(t, f.controller.RunWeekly(ctx))

	content, err := f.archives.Open("Sales_Week_18-08_24-08.txt")
	require.NoError(t, err)
	require.Contains(t, string(content), "Los Santos Vagos | $30000")
	require.Contains(t, string(content), "Ballistic Vest: 2/2 (limit reached)")
}

func TestArchiveRepository_List(t *testing.T) {
	repo := NewArchiveRepository(t.TempDir())

	require.NoError(t, repo.Write("Heists_Week_01-06_07-06.txt", "a"))
	require.NoError(t, repo.Write("Heists_Week_08-06_14-06.txt", "b"))
	require.NoError(t, repo.Write("Heists_Week_15-06_21-06.txt", "c"))

	names, err := repo.List(2)
	require.NoError(t, err)
	require.Equal(t, []string{"Heists_Week_08-06_14-06.txt", "Heists_Week_15-06_21-06.txt"}, names)

	all, err := repo.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestArchiveRepository_OpenRejectsPathTraversal(t *testing.T) {
	repo := NewArchiveRepository(t.TempDir())

	_, err := repo.Open("../secrets.txt")
	require.ErrorContains(t, err, "invalid artifact name")
	_, err = repo.Open("a/b.txt")
	require.ErrorContains(t, err, "invalid artifact name")
}

func TestNew_RejectsBadScheduleAndTimezone(t *testing.T) {
	f := newFixture(t)

	bad := DefaultSchedule()
	bad.Timezone = "Mars/Olympus"
	_, err := New(f.ledger, f.catalog, f.limiter, f.archives, bad)
	require.ErrorContains(t, err, "timezone")

	bad = DefaultSchedule()
	bad.Weekly = "not a cron spec"
	_, err = New(f.ledger, f.catalog, f.limiter, f.archives, bad)
	require.Error(t, err)
}
