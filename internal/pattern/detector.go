// Package pattern runs the lexical category checks over extracted segments.
package pattern

import (
	"context"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/af-corp/sentinel-gate/internal/types"
)

const defaultParallelism = 4

// Detector runs category checks concurrently on a bounded pool.
type Detector struct {
	checks      []Check
	parallelism func() int
}

// NewDetector creates a detector over the default checks. parallelism is
// read on every call so config reloads apply.
func NewDetector(parallelism func() int) *Detector {
	return &Detector{checks: DefaultChecks(), parallelism: parallelism}
}

// Checks returns the detector's checks in declaration order.
func (d *Detector) Checks() []Check { return d.checks }

// Check runs every enabled category check over segments and returns the
// flagged findings in declaration order, independent of completion order.
func (d *Detector) Check(ctx context.Context, segments []string, enabled []types.Category) []types.Finding {
	if len(segments) == 0 {
		return nil
	}
	results := make([]*types.Finding, len(d.checks))

	limit := defaultParallelism
	if d.parallelism != nil && d.parallelism() > 0 {
		limit = d.parallelism()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range d.checks {
		if !slices.Contains(enabled, c.Category) {
			continue
		}
		g.Go(func() error {
			results[i] = run(gctx, c, segments)
			return nil
		})
	}
	_ = g.Wait()

	var out []types.Finding
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// run applies one check with first-match semantics. It returns nil when
// nothing matched or ctx ended.
func run(ctx context.Context, c Check, segments []string) *types.Finding {
	start := time.Now()
	for _, seg := range segments {
		if ctx.Err() != nil {
			return nil
		}
		for _, r := range c.Rules {
			if r.Regex.MatchString(seg) {
				return &types.Finding{
					ContentPreview:  types.Preview(seg),
					Flagged:         true,
					Categories:      []types.Category{c.Category},
					Reason:          c.Reason,
					Confidence:      types.Float(c.Confidence),
					DetectionMethod: c.Method,
					ProcessingMs:    float64(time.Since(start).Microseconds()) / 1000,
					Actions:         []string{},
				}
			}
		}
	}
	return nil
}

// Authoritative picks the finding that speaks for a scan: highest category
// severity first, then the earliest in the given order. It returns nil for
// an empty slice.
func Authoritative(findings []types.Finding) *types.Finding {
	var best *types.Finding
	bestSev := -1
	for i := range findings {
		sev := severity(findings[i])
		if sev > bestSev {
			best, bestSev = &findings[i], sev
		}
	}
	return best
}

func severity(f types.Finding) int {
	sev := 0
	for _, c := range f.Categories {
		sev = max(sev, c.Severity())
	}
	return sev
}

// EnabledCategories parses configured category names, skipping unknown ones.
func EnabledCategories(names []string) []types.Category {
	out := make([]types.Category, 0, len(names))
	for _, n := range names {
		if c, ok := types.ParseCategory(n); ok {
			out = append(out, c)
		}
	}
	return out
}
