package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"

	"migration_dash/internal/domain"
)

const (
	HourlyWindow = 24 * time.Hour
	DailyWindow  = 7 * 24 * time.Hour
)

type StatsStore struct {
	sessions *SessionManager
	dialect  Dialect
	queries  queries
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewStatsStore(connector Connector, driver string, schema Schema, clock clockwork.Clock, logger *slog.Logger) (*StatsStore, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &StatsStore{
		sessions: NewSessionManager(connector),
		dialect:  dialect,
		queries:  buildQueries(dialect, schema),
		clock:    clock,
		logger:   logger.With("driver", driver, "table", schema.Table),
	}, nil
}

// ComputeSnapshot reads the counters and the hourly and daily series from the user store.
// Failures are returned as *domain.RepositoryError.
func (s *StatsStore) ComputeSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	startTime := s.clock.Now()

	var (
		total, migrated int64
		hourly          []domain.HourlyCount
		daily           []domain.DailyCount
	)

	err := s.sessions.WithSession(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &total, s.queries.total); err != nil {
			return &domain.RepositoryError{Op: "count users", Err: err}
		}

		if err := tx.GetContext(ctx, &migrated, s.queries.migrated); err != nil {
			return &domain.RepositoryError{Op: "count migrated users", Err: err}
		}

		hourlySince := s.dialect.WindowArg(startTime.Add(-HourlyWindow))
		if err := tx.SelectContext(ctx, &hourly, tx.Rebind(s.queries.hourly), hourlySince); err != nil {
			return &domain.RepositoryError{Op: "hourly migrations", Err: err}
		}

		dailySince := s.dialect.WindowArg(startTime.Add(-DailyWindow))
		if err := tx.SelectContext(ctx, &daily, tx.Rebind(s.queries.daily), dailySince); err != nil {
			return &domain.RepositoryError{Op: "daily migrations", Err: err}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	snapshot := domain.NewSnapshot(total, migrated, hourly, daily, s.clock.Now())

	s.logger.Debug("snapshot computed",
		"total_users", snapshot.TotalUsers,
		"migrated_users", snapshot.MigratedUsers,
		"hourly_buckets", len(snapshot.Hourly),
		"daily_buckets", len(snapshot.Daily),
		"duration", s.clock.Since(startTime),
	)

	return snapshot, nil
}
