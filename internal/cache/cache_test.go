package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"migration_dash/internal/domain"
)

type FileCacheTestSuite struct {
	suite.Suite
	clock *clockwork.FakeClock
	path  string
	cache *FileCache
}

func (s *FileCacheTestSuite) SetupTest() {
	s.clock = clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	s.path = filepath.Join(s.T().TempDir(), "migration_stats_cache.json")
	s.cache = NewFileCache(s.path, 300*time.Second, WithClock(s.clock))
}

func TestFileCacheTestSuite(t *testing.T) {
	suite.Run(t, new(FileCacheTestSuite))
}

func (s *FileCacheTestSuite) snapshot() *domain.Snapshot {
	return domain.NewSnapshot(
		4, 1,
		[]domain.HourlyCount{
			{Hour: "2026-10-18 09:00:00", Count: 3},
			{Hour: "2026-10-18 11:00:00", Count: 1},
		},
		[]domain.DailyCount{
			{Date: "2026-10-15", Count: 2},
			{Date: "2026-10-18", Count: 4},
		},
		s.clock.Now(),
	)
}

func (s *FileCacheTestSuite) writeRaw(content string) {
	s.Require().NoError(os.WriteFile(s.path, []byte(content), 0o600))
}

func (s *FileCacheTestSuite) TestLookup_MissingFile() {
	l := s.cache.Lookup()
	s.Equal(StatusMissing, l.Status)
	s.True(l.Stale())
	s.Nil(l.Snapshot)
	s.True(s.cache.IsStale())
}

func (s *FileCacheTestSuite) TestStoreThenLoad_RoundTrip() {
	stored := s.snapshot()
	s.Require().NoError(s.cache.Store(stored))

	s.False(s.cache.IsStale())
	loaded, err := s.cache.Load()
	s.Require().NoError(err)
	s.Equal(stored, loaded)
}

func (s *FileCacheTestSuite) TestRoundTrip_EmptySeries() {
	stored := domain.NewSnapshot(0, 0, nil, nil, s.clock.Now())
	s.Require().NoError(s.cache.Store(stored))

	loaded, err := s.cache.Load()
	s.Require().NoError(err)
	s.Equal(stored, loaded)
	s.Equal(0.0, loaded.MigrationRate)
}

func (s *FileCacheTestSuite) TestStore_WritesExpectedLayout() {
	s.Require().NoError(s.cache.Store(s.snapshot()))

	data, err := os.ReadFile(s.path)
	s.Require().NoError(err)
	s.JSONEq(`{
		"total_users": 4,
		"migrated_users": 1,
		"pending_users": 3,
		"migration_rate": 25,
		"hourly_data": [{"hour": "2026-10-18 09:00:00", "count": 3}, {"hour": "2026-10-18 11:00:00", "count": 1}],
		"daily_data": [{"date": "2026-10-15", "count": 2}, {"date": "2026-10-18", "count": 4}],
		"last_update": "2026-10-18T12:00:00Z"
	}`, string(data))

	_, err = os.Stat(s.path + ".tmp")
	s.True(errors.Is(err, os.ErrNotExist))
}

func (s *FileCacheTestSuite) TestStore_OverwritesPreviousSnapshot() {
	s.Require().NoError(s.cache.Store(s.snapshot()))

	s.clock.Advance(time.Minute)
	next := domain.NewSnapshot(10, 9, nil, nil, s.clock.Now())
	s.Require().NoError(s.cache.Store(next))

	loaded, err := s.cache.Load()
	s.Require().NoError(err)
	s.Equal(next, loaded)
}

func (s *FileCacheTestSuite) TestStore_CreatesDirectory() {
	path := filepath.Join(s.T().TempDir(), "nested", "dir", "cache.json")
	c := NewFileCache(path, time.Minute, WithClock(s.clock))

	s.Require().NoError(c.Store(s.snapshot()))
	s.False(c.IsStale())
}

func (s *FileCacheTestSuite) TestLookup_TTLBoundary() {
	s.Require().NoError(s.cache.Store(s.snapshot()))

	s.clock.Advance(299 * time.Second)
	s.False(s.cache.IsStale())

	s.clock.Advance(1 * time.Second)
	l := s.cache.Lookup()
	s.Equal(StatusFresh, l.Status)
	s.Equal(300*time.Second, l.Age)

	s.clock.Advance(1 * time.Second)
	l = s.cache.Lookup()
	s.Equal(StatusExpired, l.Status)
	s.Equal(301*time.Second, l.Age)
	s.Nil(l.Snapshot)
}

func (s *FileCacheTestSuite) TestLookup_TimestampWrittenByOthers() {
	tests := []struct {
		name  string
		age   time.Duration
		stale bool
	}{
		{name: "301 seconds old", age: 301 * time.Second, stale: true},
		{name: "299 seconds old", age: 299 * time.Second, stale: false},
		{name: "just written", age: 0, stale: false},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			ts := s.clock.Now().Add(-tt.age).Format(time.RFC3339)
			s.writeRaw(`{"total_users": 1, "migrated_users": 0, "pending_users": 1, "migration_rate": 0,
				"hourly_data": [], "daily_data": [], "last_update": "` + ts + `"}`)
			s.Equal(tt.stale, s.cache.IsStale())
		})
	}
}

func (s *FileCacheTestSuite) TestLookup_NaiveLocalTimestamp() {
	ts := s.clock.Now().Add(-10 * time.Second).In(time.Local).Format("2006-01-02T15:04:05.000000")
	s.writeRaw(`{"total_users": 2, "migrated_users": 1, "pending_users": 1, "migration_rate": 50.0,
		"hourly_data": [{"hour": "2026-10-18 11:00:00", "count": 1}], "daily_data": [], "last_update": "` + ts + `"}`)

	l := s.cache.Lookup()
	s.Require().Equal(StatusFresh, l.Status)
	s.Equal(int64(2), l.Snapshot.TotalUsers)
	s.Equal(50.0, l.Snapshot.MigrationRate)
	s.Equal(10*time.Second, l.Age)
}

func (s *FileCacheTestSuite) TestLookup_CorruptContent() {
	tests := []struct {
		name    string
		content string
		status  Status
	}{
		{name: "truncated json", content: `{"total_users": 4, "migrated_us`, status: StatusCorrupt},
		{name: "empty file", content: ``, status: StatusCorrupt},
		{name: "not an object", content: `[1, 2, 3]`, status: StatusCorrupt},
		{name: "binary garbage", content: "\x00\x01\x02", status: StatusCorrupt},
		{name: "wrong field type", content: `{"total_users": "many", "last_update": "2026-10-18T12:00:00Z"}`, status: StatusCorrupt},
		{name: "broken invariant", content: `{"total_users": 1, "migrated_users": 5, "pending_users": -4, "last_update": "2026-10-18T12:00:00Z"}`, status: StatusCorrupt},
		{name: "missing timestamp", content: `{"total_users": 1, "migrated_users": 0, "pending_users": 1}`, status: StatusNoTimestamp},
		{name: "empty timestamp", content: `{"total_users": 1, "migrated_users": 0, "pending_users": 1, "last_update": ""}`, status: StatusNoTimestamp},
		{name: "garbage timestamp", content: `{"total_users": 1, "migrated_users": 0, "pending_users": 1, "last_update": "yesterday"}`, status: StatusNoTimestamp},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.writeRaw(tt.content)

			l := s.cache.Lookup()
			s.Equal(tt.status, l.Status)
			s.True(l.Stale())
			s.True(s.cache.IsStale())

			_, err := s.cache.Load()
			s.ErrorIs(err, ErrNotFresh)
		})
	}
}

func (s *FileCacheTestSuite) TestGetOrRefresh_MissComputesAndStores() {
	want := s.snapshot()
	calls := 0

	got, found, err := s.cache.GetOrRefresh(context.Background(), func(ctx context.Context) (*domain.Snapshot, error) {
		calls++
		return want, nil
	})
	s.Require().NoError(err)
	s.Equal(StatusMissing, found)
	s.Equal(want, got)
	s.Equal(1, calls)

	loaded, err := s.cache.Load()
	s.Require().NoError(err)
	s.Equal(want, loaded)
}

func (s *FileCacheTestSuite) TestGetOrRefresh_HitSkipsCompute() {
	s.Require().NoError(s.cache.Store(s.snapshot()))

	got, found, err := s.cache.GetOrRefresh(context.Background(), func(ctx context.Context) (*domain.Snapshot, error) {
		s.Fail("compute must not be called on a fresh cache")
		return nil, nil
	})
	s.Require().NoError(err)
	s.Equal(StatusFresh, found)
	s.Equal(s.snapshot(), got)
}

func (s *FileCacheTestSuite) TestGetOrRefresh_ExpiredRecomputes() {
	s.Require().NoError(s.cache.Store(s.snapshot()))
	s.clock.Advance(301 * time.Second)

	next := domain.NewSnapshot(5, 5, nil, nil, s.clock.Now())
	got, found, err := s.cache.GetOrRefresh(context.Background(), func(ctx context.Context) (*domain.Snapshot, error) {
		return next, nil
	})
	s.Require().NoError(err)
	s.Equal(StatusExpired, found)
	s.Equal(next, got)
	s.False(s.cache.IsStale())
}

func (s *FileCacheTestSuite) TestGetOrRefresh_CorruptFileSelfHeals() {
	s.writeRaw(`{"total_users": `)

	want := s.snapshot()
	got, found, err := s.cache.GetOrRefresh(context.Background(), func(ctx context.Context) (*domain.Snapshot, error) {
		return want, nil
	})
	s.Require().NoError(err)
	s.Equal(StatusCorrupt, found)
	s.Equal(want, got)
	s.Equal(StatusFresh, s.cache.Lookup().Status)
}

func (s *FileCacheTestSuite) TestGetOrRefresh_ComputeErrorKeepsOldFile() {
	s.Require().NoError(s.cache.Store(s.snapshot()))
	s.clock.Advance(10 * time.Minute)

	before, err := os.ReadFile(s.path)
	s.Require().NoError(err)

	repoErr := &domain.RepositoryError{Op: "connect", Err: errors.New("connection refused")}
	got, found, err := s.cache.GetOrRefresh(context.Background(), func(ctx context.Context) (*domain.Snapshot, error) {
		return nil, repoErr
	})
	s.Nil(got)
	s.Equal(StatusExpired, found)
	s.ErrorIs(err, repoErr)

	after, err := os.ReadFile(s.path)
	s.Require().NoError(err)
	s.Equal(before, after)
}

func (s *FileCacheTestSuite) TestInvalidate() {
	s.Require().NoError(s.cache.Store(s.snapshot()))
	s.Require().NoError(s.cache.Invalidate())
	s.Equal(StatusMissing, s.cache.Lookup().Status)

	s.NoError(s.cache.Invalidate())
}

func TestFileCache_ConcurrentStoreKeepsFileWhole(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	dir := t.TempDir()
	c := NewFileCache(filepath.Join(dir, "stats.json"), time.Minute, WithClock(clock))
	require.NoError(t, c.Store(domain.NewSnapshot(1, 0, nil, nil, clock.Now())))

	const writers, stores = 8, 100

	var (
		wg        sync.WaitGroup
		storeErrs atomic.Int32
		bad       atomic.Int32
		done      = make(chan struct{})
	)

	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			if st := c.Lookup().Status; st != StatusFresh {
				bad.Add(1)
			}
		}
	}()

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < stores; i++ {
				snapshot := domain.NewSnapshot(int64(w*stores+i+1), int64(i), nil, nil, clock.Now())
				if err := c.Store(snapshot); err != nil {
					storeErrs.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	close(done)

	assert.Zero(t, storeErrs.Load(), "store errors")
	assert.Zero(t, bad.Load(), "lookups that saw a non-fresh file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "stats.json", entries[0].Name())
}

func TestFileCache_Compressed(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "cache.json.zst")

	compressor, err := NewZstdCompressor()
	require.NoError(t, err)
	defer compressor.Close()

	c := NewFileCache(path, time.Minute, WithClock(clock), WithCompressor(compressor))
	stored := domain.NewSnapshot(3, 1, []domain.HourlyCount{{Hour: "2026-10-18 11:00:00", Count: 1}}, nil, clock.Now())
	require.NoError(t, c.Store(stored))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, zstdMagic, raw[:4])

	loaded, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, stored, loaded)

	plain := NewFileCache(path, time.Minute, WithClock(clock))
	assert.Equal(t, StatusCorrupt, plain.Lookup().Status)
}

func TestFileCache_CompressorReadsPlainFile(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "cache.json")

	stored := domain.NewSnapshot(3, 2, nil, []domain.DailyCount{{Date: "2026-10-17", Count: 2}}, clock.Now())
	require.NoError(t, NewFileCache(path, time.Minute, WithClock(clock)).Store(stored))

	compressor, err := NewZstdCompressor()
	require.NoError(t, err)
	defer compressor.Close()

	loaded, err := NewFileCache(path, time.Minute, WithClock(clock), WithCompressor(compressor)).Load()
	require.NoError(t, err)
	assert.Equal(t, stored, loaded)
}

func TestNewFileCache_DefaultTTL(t *testing.T) {
	c := NewFileCache("cache.json", 0)
	assert.Equal(t, DefaultTTL, c.TTL())
	assert.Equal(t, "cache.json", c.Path())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "fresh", StatusFresh.String())
	assert.Equal(t, "missing", StatusMissing.String())
	assert.Equal(t, "corrupt", StatusCorrupt.String())
	assert.Equal(t, "no_timestamp", StatusNoTimestamp.String())
	assert.Equal(t, "expired", StatusExpired.String())
}
