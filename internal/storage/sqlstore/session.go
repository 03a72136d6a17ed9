package sqlstore

import (
	"context"

	"github.com/jmoiron/sqlx"

	"migration_dash/internal/domain"
)

// Connector opens a database handle. Each statistics computation gets its own handle,
// which is closed when the computation ends.
type Connector interface {
	Connect(ctx context.Context) (*sqlx.DB, error)
}

type DSNConnector struct {
	DriverName string
	DSN        string
}

func NewDSNConnector(driverName, dsn string) *DSNConnector {
	return &DSNConnector{DriverName: driverName, DSN: dsn}
}

func (c *DSNConnector) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, c.DriverName, c.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)
	return db, nil
}

type SessionManager struct {
	connector Connector
}

func NewSessionManager(connector Connector) *SessionManager {
	return &SessionManager{connector: connector}
}

// WithSession opens a connection, runs fn inside a transaction and releases both on
// every exit path. The transaction is always rolled back: sessions only read.
func (m *SessionManager) WithSession(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	db, err := m.connector.Connect(ctx)
	if err != nil {
		return &domain.RepositoryError{Op: "connect", Err: err}
	}
	defer db.Close()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return &domain.RepositoryError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	return fn(ctx, tx)
}
