package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// HourlyCount is the number of migrations whose last update falls into one hour.
type HourlyCount struct {
	Hour  string `json:"hour" db:"hour_bucket"` // "2006-01-02 15:00:00"
	Count int64  `json:"count" db:"migrations"`
}

// DailyCount is the number of migrations whose last update falls on one calendar day.
type DailyCount struct {
	Date  string `json:"date" db:"day_bucket"` // "2006-01-02"
	Count int64  `json:"count" db:"migrations"`
}

// Snapshot holds the migration counters and time-bucketed series for one refresh cycle.
// A snapshot is never modified after creation; a refresh produces a new one.
type Snapshot struct {
	TotalUsers    int64         `json:"total_users"`
	MigratedUsers int64         `json:"migrated_users"`
	PendingUsers  int64         `json:"pending_users"`
	MigrationRate float64       `json:"migration_rate"`
	Hourly        []HourlyCount `json:"hourly_data"`
	Daily         []DailyCount  `json:"daily_data"`
	GeneratedAt   time.Time     `json:"last_update"`
}

// NewSnapshot assembles a snapshot from raw counts and derives the pending count and rate.
// migrated is clamped into [0, total].
func NewSnapshot(total, migrated int64, hourly []HourlyCount, daily []DailyCount, generatedAt time.Time) *Snapshot {
	if total < 0 {
		total = 0
	}
	if migrated < 0 {
		migrated = 0
	}
	if migrated > total {
		migrated = total
	}
	if hourly == nil {
		hourly = []HourlyCount{}
	}
	if daily == nil {
		daily = []DailyCount{}
	}

	return &Snapshot{
		TotalUsers:    total,
		MigratedUsers: migrated,
		PendingUsers:  total - migrated,
		MigrationRate: MigrationRate(total, migrated),
		Hourly:        hourly,
		Daily:         daily,
		GeneratedAt:   generatedAt,
	}
}

// MigrationRate returns migrated/total as a percentage rounded to two decimals.
// It is 0 when total is 0.
func MigrationRate(total, migrated int64) float64 {
	if total <= 0 {
		return 0
	}
	rate := decimal.NewFromInt(migrated).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(total), 2)
	return rate.InexactFloat64()
}

// Progress returns the migration rate as a fraction clamped to [0, 1].
func (s *Snapshot) Progress() float64 {
	p := s.MigrationRate / 100
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// Validate checks the counter invariants of a snapshot read from outside the process.
func (s *Snapshot) Validate() error {
	if s.TotalUsers < 0 || s.MigratedUsers < 0 {
		return fmt.Errorf("negative counters: total=%d migrated=%d", s.TotalUsers, s.MigratedUsers)
	}
	if s.MigratedUsers > s.TotalUsers {
		return fmt.Errorf("migrated users %d exceed total users %d", s.MigratedUsers, s.TotalUsers)
	}
	if s.PendingUsers != s.TotalUsers-s.MigratedUsers {
		return fmt.Errorf("pending users %d do not match total-migrated %d", s.PendingUsers, s.TotalUsers-s.MigratedUsers)
	}
	return nil
}
