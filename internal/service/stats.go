package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"migration_dash/internal/cache"
	"migration_dash/internal/domain"
	"migration_dash/internal/observability"
)

type StatsService struct {
	repo      StatsRepository
	cache     SnapshotCache
	publisher Publisher
	logger    *slog.Logger
}

// NewStatsService wires the repository behind the cache. publisher may be nil.
func NewStatsService(
	repo StatsRepository,
	snapshots SnapshotCache,
	publisher Publisher,
	logger *slog.Logger,
) *StatsService {
	return &StatsService{
		repo:      repo,
		cache:     snapshots,
		publisher: publisher,
		logger:    logger.With("component", "stats"),
	}
}

// Snapshot returns the cached snapshot while it is fresh and recomputes it otherwise.
// Database failures are returned as *domain.RepositoryError.
func (s *StatsService) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	ctx, span := observability.Tracer.Start(ctx, "StatsService.Snapshot")
	defer span.End()

	snapshot, found, err := s.cache.GetOrRefresh(ctx, s.compute)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot unavailable")
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	hit := found == cache.StatusFresh
	span.SetAttributes(attribute.Bool("cache.hit", hit), attribute.String("cache.status", found.String()))
	if hit {
		observability.CacheHitsTotal.Inc()
	} else {
		observability.CacheMissesTotal.WithLabelValues(found.String()).Inc()
	}

	return snapshot, nil
}

// Refresh recomputes and stores a snapshot regardless of the cache age.
func (s *StatsService) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	ctx, span := observability.Tracer.Start(ctx, "StatsService.Refresh")
	defer span.End()

	snapshot, err := s.compute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return nil, fmt.Errorf("refresh snapshot: %w", err)
	}

	if err := s.cache.Store(snapshot); err != nil {
		s.logger.Error("failed to store snapshot", "error", err)
	}

	return snapshot, nil
}

// CacheStatus reports the current state of the cache file.
func (s *StatsService) CacheStatus() cache.Lookup {
	return s.cache.Lookup()
}

func (s *StatsService) compute(ctx context.Context) (*domain.Snapshot, error) {
	ctx, span := observability.Tracer.Start(ctx, "StatsRepository.ComputeSnapshot", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	startTime := time.Now()
	snapshot, err := s.repo.ComputeSnapshot(ctx)
	observability.RefreshDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		observability.RefreshErrorsTotal.Inc()
		span.RecordError(err)
		s.logger.Error("snapshot computation failed", "error", err)
		return nil, err
	}

	observability.UsersTotal.Set(float64(snapshot.TotalUsers))
	observability.MigratedUsers.Set(float64(snapshot.MigratedUsers))
	observability.MigrationRate.Set(snapshot.MigrationRate)

	s.logger.Info("snapshot refreshed",
		"total_users", snapshot.TotalUsers,
		"migrated_users", snapshot.MigratedUsers,
		"migration_rate", snapshot.MigrationRate,
		"duration", time.Since(startTime),
	)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, snapshot); err != nil {
			observability.PublishErrorsTotal.Inc()
			s.logger.Warn("failed to publish snapshot", "error", err)
		}
	}

	return snapshot, nil
}
