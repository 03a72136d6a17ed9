package sqlstore

import (
	"fmt"
	"regexp"
	"time"
)

// Dialect holds the driver-specific parts of the statistics queries. Bucket expressions
// yield strings so scanning does not depend on how a driver returns dates.
type Dialect struct {
	Driver     string
	HourBucket func(col string) string
	DayBucket  func(col string) string
	// WindowArg converts the lower bound of a time window into a query argument.
	WindowArg func(t time.Time) any
}

var dialects = map[string]Dialect{
	"mysql": {
		Driver: "mysql",
		HourBucket: func(col string) string {
			return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d %%H:00:00')", col)
		},
		DayBucket: func(col string) string {
			return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d')", col)
		},
		WindowArg: func(t time.Time) any { return t },
	},
	"postgres": {
		Driver: "postgres",
		HourBucket: func(col string) string {
			return fmt.Sprintf("to_char(date_trunc('hour', %s), 'YYYY-MM-DD HH24:00:00')", col)
		},
		DayBucket: func(col string) string {
			return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", col)
		},
		WindowArg: func(t time.Time) any { return t },
	},
	"sqlite": {
		Driver: "sqlite",
		HourBucket: func(col string) string {
			return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H:00:00', %s)", col)
		},
		DayBucket: func(col string) string {
			return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", col)
		},
		// SQLite compares timestamps as text.
		WindowArg: func(t time.Time) any { return t.UTC().Format("2006-01-02 15:04:05") },
	},
}

// DialectFor returns the dialect registered for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
	return d, nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Schema names the user table and the columns the statistics are computed from.
type Schema struct {
	Table           string
	TokenColumn     string
	UpdatedAtColumn string
}

func DefaultSchema() Schema {
	return Schema{
		Table:           "users",
		TokenColumn:     "cm_firebase_token",
		UpdatedAtColumn: "updated_at",
	}
}

// Validate rejects names that are not plain identifiers since they are interpolated into SQL.
func (s Schema) Validate() error {
	for _, name := range []string{s.Table, s.TokenColumn, s.UpdatedAtColumn} {
		if !identPattern.MatchString(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}

type queries struct {
	total    string
	migrated string
	hourly   string
	daily    string
}

func buildQueries(d Dialect, s Schema) queries {
	return queries{
		total: fmt.Sprintf("SELECT COUNT(*) FROM %s", s.Table),
		migrated: fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL",
			s.Table, s.TokenColumn,
		),
		hourly: fmt.Sprintf(`
		SELECT
			%s AS hour_bucket,
			COUNT(*) AS migrations
		FROM %s
		WHERE %s IS NOT NULL
		AND %s >= ?
		GROUP BY hour_bucket
		ORDER BY hour_bucket`,
			d.HourBucket(s.UpdatedAtColumn), s.Table, s.TokenColumn, s.UpdatedAtColumn,
		),
		daily: fmt.Sprintf(`
		SELECT
			%s AS day_bucket,
			COUNT(*) AS migrations
		FROM %s
		WHERE %s IS NOT NULL
		AND %s >= ?
		GROUP BY day_bucket
		ORDER BY day_bucket`,
			d.DayBucket(s.UpdatedAtColumn), s.Table, s.TokenColumn, s.UpdatedAtColumn,
		),
	}
}
