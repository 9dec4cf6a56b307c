// Package reloader keeps the normalized catalog current.
package reloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"donor_check/internal/catalog"
	"donor_check/internal/metrics"
	"donor_check/internal/model"
	"donor_check/internal/storage"
)

// Loader reads the raw catalog from an upstream source.
type Loader interface {
	Load(ctx context.Context) (model.RawCatalog, error)
	Source() string
}

// Reloader rebuilds the catalog from storage and swaps it in atomically.
// Readers see either the previous catalog or the new one, never a partial
// build.
type Reloader struct {
	store   storage.Storage
	loader  Loader
	log     *slog.Logger
	tick    time.Duration
	metrics *metrics.Metrics
	current atomic.Pointer[catalog.Catalog]
}

// New creates a Reloader. loader may be nil when the catalog is only read
// from storage.
func New(store storage.Storage, loader Loader, log *slog.Logger) *Reloader {
	return &Reloader{
		store:  store,
		loader: loader,
		log:    log,
		tick:   time.Hour,
	}
}

// SetTickInterval overrides the default one-hour reload interval. A zero
// interval disables periodic reloads.
func (r *Reloader) SetTickInterval(d time.Duration) {
	r.tick = d
}

// SetMetrics enables reload metrics.
func (r *Reloader) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Current returns the active catalog, or nil before the first successful load.
func (r *Reloader) Current() *catalog.Catalog {
	return r.current.Load()
}

// Reload pulls the upstream source into storage when one is configured,
// then normalizes the stored snapshot and makes it current. Upstream
// failures fall back to the stored snapshot; a snapshot that fails to
// normalize leaves the current catalog in place.
func (r *Reloader) Reload(ctx context.Context) error {
	start := time.Now()
	err := r.reload(ctx)
	r.metrics.ObserveReload(err, time.Since(start))
	return err
}

func (r *Reloader) reload(ctx context.Context) error {
	if r.loader != nil {
		r.pull(ctx)
	}

	raw, err := r.store.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	c, err := catalog.Normalize(raw)
	if err != nil {
		return err
	}

	r.current.Store(c)
	r.metrics.SetCatalogRecords(c.Len())
	r.log.Info("catalog loaded", "records", c.Len(), "dropped_country_rules", c.Dropped())
	return nil
}

func (r *Reloader) pull(ctx context.Context) {
	raw, err := r.loader.Load(ctx)
	if err != nil {
		r.log.Error("fetch catalog", "source", r.loader.Source(), "error", err)
		r.metrics.IncrementUpstreamFailure()
		return
	}
	if _, err := catalog.Normalize(raw); err != nil {
		r.log.Error("reject fetched catalog", "source", r.loader.Source(), "error", err)
		r.metrics.IncrementUpstreamFailure()
		return
	}
	imp, err := r.store.ReplaceCatalog(ctx, raw, r.loader.Source())
	if err != nil {
		r.log.Error("save catalog", "source", r.loader.Source(), "error", err)
		r.metrics.IncrementUpstreamFailure()
		return
	}
	r.log.Debug("catalog imported", "import_id", imp.ID, "source", imp.Source, "records", imp.RecordCount)
}

// Run reloads periodically, blocking until ctx is cancelled. The initial
// load is expected to have been done by the caller.
func (r *Reloader) Run(ctx context.Context) {
	if r.tick <= 0 {
		return
	}

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("reload catalog", "error", err)
			}
		}
	}
}
