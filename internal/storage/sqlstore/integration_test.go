//go:build integration

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"migration_dash/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	connStr   string
	db        *sqlx.DB
	clock     *clockwork.FakeClock
	store     *StatsStore
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(filepath.Join(migrationsPath, "001_create_users.up.sql")),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.connStr = connStr

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, "DELETE FROM users")
	s.Require().NoError(err)

	s.clock = clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	store, err := NewStatsStore(NewDSNConnector("postgres", s.connStr), "postgres", DefaultSchema(), s.clock, slog.New(slog.DiscardHandler))
	s.Require().NoError(err)
	s.store = store
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) insert(n int, token *string, updatedAt time.Time) {
	for i := 0; i < n; i++ {
		_, err := s.db.ExecContext(s.ctx,
			"INSERT INTO users (email, cm_firebase_token, updated_at) VALUES ($1, $2, $3)",
			fmt.Sprintf("user-%d-%d@example.com", updatedAt.UnixNano(), i), token, updatedAt,
		)
		s.Require().NoError(err)
	}
}

func (s *PostgresIntegrationSuite) TestComputeSnapshot() {
	token := "fcm-token"
	now := s.clock.Now()

	s.insert(3, nil, now.Add(-time.Hour))
	s.insert(2, &token, time.Date(2026, 10, 18, 11, 15, 0, 0, time.UTC))
	s.insert(1, &token, time.Date(2026, 10, 18, 9, 40, 0, 0, time.UTC))
	s.insert(4, &token, time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC))
	s.insert(5, &token, time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC))

	snapshot, err := s.store.ComputeSnapshot(s.ctx)
	s.Require().NoError(err)

	s.Equal(int64(15), snapshot.TotalUsers)
	s.Equal(int64(12), snapshot.MigratedUsers)
	s.Equal(int64(3), snapshot.PendingUsers)
	s.Equal(80.0, snapshot.MigrationRate)
	s.Equal([]domain.HourlyCount{
		{Hour: "2026-10-18 09:00:00", Count: 1},
		{Hour: "2026-10-18 11:00:00", Count: 2},
	}, snapshot.Hourly)
	s.Equal([]domain.DailyCount{
		{Date: "2026-10-15", Count: 4},
		{Date: "2026-10-18", Count: 3},
	}, snapshot.Daily)
}

func (s *PostgresIntegrationSuite) TestComputeSnapshot_EmptyTable() {
	snapshot, err := s.store.ComputeSnapshot(s.ctx)
	s.Require().NoError(err)

	s.Equal(int64(0), snapshot.TotalUsers)
	s.Equal(0.0, snapshot.MigrationRate)
	s.Empty(snapshot.Hourly)
	s.Empty(snapshot.Daily)
}

func (s *PostgresIntegrationSuite) TestComputeSnapshot_Unreachable() {
	store, err := NewStatsStore(
		NewDSNConnector("postgres", "host=127.0.0.1 port=1 user=x password=x dbname=x sslmode=disable connect_timeout=1"),
		"postgres", DefaultSchema(), s.clock, slog.New(slog.DiscardHandler),
	)
	s.Require().NoError(err)

	_, err = store.ComputeSnapshot(s.ctx)

	var repoErr *domain.RepositoryError
	s.True(errors.As(err, &repoErr))
	s.Equal("connect", repoErr.Op)
}
