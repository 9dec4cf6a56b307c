// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"donor_check/internal/model"
)

// ErrNoCatalog is returned when no catalog snapshot has been imported yet.
var ErrNoCatalog = errors.New("no catalog imported")

// Storage keeps snapshots of the raw catalog.
type Storage interface {
	// ReplaceCatalog saves raw as the current snapshot in one transaction.
	ReplaceCatalog(ctx context.Context, raw model.RawCatalog, source string) (*model.CatalogImport, error)
	LoadCatalog(ctx context.Context) (model.RawCatalog, error)
	LatestImport(ctx context.Context) (*model.CatalogImport, error)

	Close() error
}
