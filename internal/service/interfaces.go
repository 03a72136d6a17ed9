package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"migration_dash/internal/cache"
	"migration_dash/internal/domain"
)

type StatsRepository interface {
	ComputeSnapshot(ctx context.Context) (*domain.Snapshot, error)
}

type SnapshotCache interface {
	Lookup() cache.Lookup
	Store(snapshot *domain.Snapshot) error
	GetOrRefresh(ctx context.Context, compute cache.ComputeFunc) (*domain.Snapshot, cache.Status, error)
}

type Publisher interface {
	Publish(ctx context.Context, snapshot *domain.Snapshot) error
	Close() error
}
