package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML shape operators use to bootstrap a fresh deployment.
// Seeding only fills datasets that are still empty; it never overwrites an
// existing catalog.
type SeedFile struct {
	Tiers  map[Tier][]SeedEstablishment `yaml:"tiers"`
	Groups map[string]SeedGroupRule     `yaml:"groups"`

	Products map[string]SeedProduct `yaml:"products"`
	Factions map[string]SeedFaction `yaml:"factions"`
}

type SeedEstablishment struct {
	Key         string `yaml:"key"`
	DisplayName string `yaml:"display_name"`
	GroupTag    string `yaml:"group_tag"`
	Quota       int    `yaml:"quota"`
	QuotaPeriod Period `yaml:"quota_period"`
}

type SeedGroupRule struct {
	Quota  int    `yaml:"quota"`
	Period Period `yaml:"period"`
}

type SeedProduct struct {
	DisplayName string `yaml:"display_name"`
	WeeklyQuota int    `yaml:"weekly_quota"`
	UnitPrice   string `yaml:"unit_price"`
}

type SeedFaction struct {
	DisplayName string `yaml:"display_name"`
	Location    string `yaml:"location"`
}

// SeedFromFile loads a YAML seed and applies it to any empty dataset.
func (s *Service) SeedFromFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("catalog: read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return fmt.Errorf("catalog: parse seed file %s: %w", path, err)
	}

	if empty(s.Directory(ctx)) && len(seed.Tiers) > 0 {
		for _, tier := range TierOrder {
			for _, e := range seed.Tiers[tier] {
				est := Establishment{
					Key:         e.Key,
					DisplayName: e.DisplayName,
					GroupTag:    e.GroupTag,
					Quota:       e.Quota,
					QuotaPeriod: e.QuotaPeriod,
				}
				if err := s.AddEstablishment(ctx, tier, est); err != nil {
					return err
				}
			}
		}
		for tag, r := range seed.Groups {
			if err := s.SetGroupRule(ctx, tag, GroupRule{Quota: r.Quota, Period: r.Period}); err != nil {
				return err
			}
		}
		slog.Info("[Catalog] Seeded establishments", "source", path)
	}

	if len(s.Products(ctx)) == 0 && len(seed.Products) > 0 {
		for key, p := range seed.Products {
			price, err := parsePrice(p.UnitPrice)
			if err != nil {
				return fmt.Errorf("catalog: product %q: %w", key, err)
			}
			prod := Product{DisplayName: p.DisplayName, WeeklyQuota: p.WeeklyQuota, UnitPrice: price}
			if err := s.AddProduct(ctx, key, prod); err != nil {
				return err
			}
		}
		slog.Info("[Catalog] Seeded products", "source", path, "count", len(seed.Products))
	}

	if len(s.Factions(ctx)) == 0 && len(seed.Factions) > 0 {
		for key, f := range seed.Factions {
			if err := s.AddFaction(ctx, key, Faction{DisplayName: f.DisplayName, Location: f.Location}); err != nil {
				return err
			}
		}
		slog.Info("[Catalog] Seeded factions", "source", path, "count", len(seed.Factions))
	}

	return nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func empty(dir Directory) bool {
	for _, tier := range TierOrder {
		if len(dir.Tiers[tier]) > 0 {
			return false
		}
	}
	return true
}
