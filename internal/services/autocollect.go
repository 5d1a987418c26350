package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

// AutoCollect promotes frequently seen item names, descriptions and
// prices into the shared suggestion lists. Blacklisted values are never
// re-added, even when they cross the threshold again.
type AutoCollect struct {
	store    *storage.SQLiteRepository
	settings *Settings
}

func NewAutoCollect(store *storage.SQLiteRepository, settings *Settings) *AutoCollect {
	return &AutoCollect{store: store, settings: settings}
}

// AutoCollectResult summarizes one run.
type AutoCollectResult struct {
	Added   int
	Skipped int
}

type collectSpec struct {
	kind         string
	enabledKey   string
	thresholdKey string
	counts       func(ctx context.Context, threshold int) ([]storage.ValueCount, error)
	foldCase     bool
}

// Run executes one auto-collect pass over all three value kinds. When
// the debug setting is on, every decision is written to the job log.
func (a *AutoCollect) Run(ctx context.Context) (AutoCollectResult, error) {
	debug := a.settings.Get(ctx, "common_auto_debug", "0") == "1"
	specs := []collectSpec{
		{storage.CommonKindItem, "common_items_auto", "common_items_threshold", a.store.ItemNameCounts, true},
		{storage.CommonKindDescription, "common_descriptions_auto", "common_descriptions_threshold", a.store.DescriptionCounts, true},
		{storage.CommonKindPrice, "common_prices_auto", "common_prices_threshold", a.store.PriceCounts, false},
	}

	var result AutoCollectResult
	for _, spec := range specs {
		if a.settings.Get(ctx, spec.enabledKey, "0") != "1" {
			continue
		}
		threshold, err := strconv.Atoi(a.settings.Get(ctx, spec.thresholdKey, "5"))
		if err != nil || threshold < 1 {
			threshold = 5
		}
		added, skipped, err := a.collect(ctx, spec, threshold, debug)
		if err != nil {
			return result, fmt.Errorf("auto-collect %s: %w", spec.kind, err)
		}
		result.Added += added
		result.Skipped += skipped
	}

	if debug {
		msg := fmt.Sprintf("Run complete: %d added, %d skipped", result.Added, result.Skipped)
		if err := a.store.AddAutoCollectLog(ctx, "INFO", "system", msg); err != nil {
			return result, err
		}
	}
	slog.InfoContext(ctx, "Auto-collect run complete",
		"added", result.Added, "skipped", result.Skipped)
	return result, nil
}

func (a *AutoCollect) collect(ctx context.Context, spec collectSpec, threshold int, debug bool) (added, skipped int, err error) {
	blacklist, err := a.store.ListBlacklist(ctx, spec.kind)
	if err != nil {
		return 0, 0, err
	}
	blacklisted := make(map[string]bool, len(blacklist))
	for _, v := range blacklist {
		if spec.foldCase {
			v = strings.ToLower(v)
		}
		blacklisted[v] = true
	}

	counts, err := spec.counts(ctx, threshold)
	if err != nil {
		return 0, 0, err
	}
	for _, vc := range counts {
		key := vc.Value
		if spec.foldCase {
			key = strings.ToLower(key)
		}
		if blacklisted[key] {
			skipped++
			if debug {
				msg := fmt.Sprintf("%q (blacklist)", vc.Value)
				if err := a.store.AddAutoCollectLog(ctx, "SKIP", spec.kind, msg); err != nil {
					return added, skipped, err
				}
			}
			continue
		}
		exists, err := a.store.HasCommonValue(ctx, spec.kind, vc.Value)
		if err != nil {
			return added, skipped, err
		}
		if exists {
			continue
		}
		if err := a.store.AddCommonValue(ctx, spec.kind, vc.Value); err != nil {
			return added, skipped, err
		}
		added++
		if debug {
			msg := fmt.Sprintf("Added %q", vc.Value)
			if err := a.store.AddAutoCollectLog(ctx, "ADDED", spec.kind, msg); err != nil {
				return added, skipped, err
			}
		}
	}
	return added, skipped, nil
}
