package catalog

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Lister is the subset of the engine used to discover the catalog. Both
// listings are plain text whose format is owned by the engine.
type Lister interface {
	ListMetrics(ctx context.Context) (string, error)
	ListDimensions(ctx context.Context) (string, error)
}

// Load fetches the metric and dimension listings concurrently and parses
// them into a catalog snapshot. Called once at process start; the snapshot
// is re-derived only by restart.
func Load(ctx context.Context, lister Lister) (*Catalog, error) {
	var metricsRaw, dimensionsRaw string

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		metricsRaw, err = lister.ListMetrics(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		dimensionsRaw, err = lister.ListDimensions(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load catalog from engine: %w", err)
	}

	entries := ParseListing(metricsRaw, dimensionsRaw)
	if len(entries) == 0 {
		return nil, fmt.Errorf("engine listing produced no catalog entries")
	}
	return New(entries)
}
