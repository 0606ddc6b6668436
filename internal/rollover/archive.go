package rollover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vantari-rp/tally/internal/catalog"
	"github.com/vantari-rp/tally/internal/ledger"
)

// Period is the archived week, named by its start and end dates.
type Period struct {
	Start time.Time
	End   time.Time
}

// PeriodEnding derives the archived week from the rollover fire time: the six
// days leading up to it plus the fire day itself.
func PeriodEnding(fireTime time.Time) Period {
	return Period{Start: fireTime.AddDate(0, 0, -6), End: fireTime}
}

func (p Period) label() string {
	return fmt.Sprintf("%s_%s", p.Start.Format("02-01"), p.End.Format("02-01"))
}

// HeistArchiveName returns the artifact file name for a period. Re-running
// the rollover for the same computed period produces the same name, so the
// artifact is overwritten rather than duplicated.
func HeistArchiveName(p Period) string {
	return fmt.Sprintf("Heists_Week_%s.txt", p.label())
}

// SalesArchiveName is the sales counterpart of HeistArchiveName.
func SalesArchiveName(p Period) string {
	return fmt.Sprintf("Sales_Week_%s.txt", p.label())
}

const archiveRule = 60

// RenderHeistArchive formats the weekly heist report: every establishment per
// tier in catalog order, grouped entries under a sub-header showing the
// combined total against the group quota. Output is deterministic for a given
// table and directory.
func RenderHeistArchive(p Period, table ledger.HeistTable, dir catalog.Directory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Heist record %s to %s\n\n",
		p.Start.Format("02-01"), p.End.Format("02-01"))

	for _, tier := range catalog.TierOrder {
		counts := table[tier]

		b.WriteString(strings.Repeat("=", archiveRule) + "\n")
		fmt.Fprintf(&b, "%s\n", strings.ToUpper(string(tier)))
		b.WriteString(strings.Repeat("=", archiveRule) + "\n\n")

		groupOrder := []string{}
		grouped := map[string][]catalog.Establishment{}
		for _, est := range dir.Tiers[tier] {
			if est.GroupTag == "" {
				writeEntryLine(&b, est.DisplayName, counts[est.Key])
				continue
			}
			if _, seen := grouped[est.GroupTag]; !seen {
				groupOrder = append(groupOrder, est.GroupTag)
			}
			grouped[est.GroupTag] = append(grouped[est.GroupTag], est)
		}

		for _, tag := range groupOrder {
			members := grouped[tag]
			total := 0
			for _, est := range members {
				total += counts[est.Key].Total()
			}
			quota := "-"
			if rule, ok := catalog.GroupRuleFor(dir, tier, tag); ok {
				quota = fmt.Sprintf("%d", rule.Quota)
			}

			b.WriteString("\n" + strings.Repeat("-", archiveRule) + "\n")
			fmt.Fprintf(&b, "%s heists: %d/%s\n", strings.ToUpper(tag), total, quota)
			b.WriteString(strings.Repeat("-", archiveRule) + "\n")

			for _, est := range members {
				entry := counts[est.Key]
				writeEntryLine(&b, est.DisplayName, entry)
				if entry.Daily != nil {
					fmt.Fprintf(&b, "%sDaily: %3d | ok %2d | ko %2d\n",
						strings.Repeat(" ", 27), entry.Daily.Total(), entry.Daily.Succeeded, entry.Daily.Failed)
				}
			}
		}

		b.WriteString("\n")
	}
	return b.String()
}

func writeEntryLine(b *strings.Builder, name string, entry ledger.Entry) {
	fmt.Fprintf(b, "%-25s | Total: %3d | ok %2d | ko %2d\n",
		name, entry.Total(), entry.Succeeded, entry.Failed)
}

// RenderSalesArchive formats the weekly sales report per faction, flagging
// product lines against their weekly quotas.
func RenderSalesArchive(p Period, summaries []ledger.FactionSalesSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sales record %s to %s\n\n",
		p.Start.Format("02-01"), p.End.Format("02-01"))

	for _, fs := range summaries {
		b.WriteString(strings.Repeat("=", archiveRule) + "\n")
		fmt.Fprintf(&b, "%s | $%s\n", fs.DisplayName, fs.Total.StringFixed(0))
		if fs.Location != "" {
			fmt.Fprintf(&b, "%s\n", fs.Location)
		}
		b.WriteString(strings.Repeat("=", archiveRule) + "\n\n")

		for _, line := range fs.Lines {
			status := ""
			switch line.Status {
			case ledger.SaleLineAtLimit:
				status = " (limit reached)"
			case ledger.SaleLineExceeded:
				status = " (EXCEEDED)"
			}
			fmt.Fprintf(&b, "- %s: %d/%d%s\n", line.DisplayName, line.Quantity, line.WeeklyQuota, status)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ArchiveRepository owns the artifacts directory: writing at rollover time,
// listing and opening for the download endpoint.
type ArchiveRepository struct {
	dir string
}

func NewArchiveRepository(dir string) *ArchiveRepository {
	return &ArchiveRepository{dir: dir}
}

// Write persists one artifact, overwriting any previous file with the same
// name. Artifacts are never mutated afterwards.
func (r *ArchiveRepository) Write(name, content string) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.dir, name), []byte(content), 0o644)
}

// List returns up to limit artifact names, most recent last (lexicographic
// order matches the date-range naming within a year).
func (r *ArchiveRepository) List(limit int) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[len(names)-limit:]
	}
	return names, nil
}

// Open returns the content of one artifact by name. The name is confined to
// the artifacts directory; anything path-like is rejected.
func (r *ArchiveRepository) Open(name string) ([]byte, error) {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("archive: invalid artifact name %q", name)
	}
	return os.ReadFile(filepath.Join(r.dir, name))
}
