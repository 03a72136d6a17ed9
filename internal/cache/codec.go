package cache

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"migration_dash/internal/domain"
)

// zstd frame magic number, little endian.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Naive layouts for last_update as written by older dashboards: local time, no offset.
// Fractional seconds are accepted by time.Parse without being in the layout.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// record is the on-disk layout of a snapshot.
type record struct {
	TotalUsers    int64                `json:"total_users"`
	MigratedUsers int64                `json:"migrated_users"`
	PendingUsers  int64                `json:"pending_users"`
	MigrationRate float64              `json:"migration_rate"`
	Hourly        []domain.HourlyCount `json:"hourly_data"`
	Daily         []domain.DailyCount  `json:"daily_data"`
	LastUpdate    *string              `json:"last_update"`
}

type Compressor interface {
	Compress(val []byte) ([]byte, error)
	Decompress(val []byte) ([]byte, error)
	Close()
}

type ZstdCompression struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewZstdCompressor() (*ZstdCompression, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ZstdCompression{encoder: encoder, decoder: decoder}, nil
}

func (z *ZstdCompression) Compress(val []byte) ([]byte, error) {
	return z.encoder.EncodeAll(val, make([]byte, 0, len(val)/2)), nil
}

func (z *ZstdCompression) Decompress(val []byte) ([]byte, error) {
	return z.decoder.DecodeAll(val, nil)
}

func (z *ZstdCompression) Close() {
	_ = z.encoder.Close()
	z.decoder.Close()
}

func encodeSnapshot(s *domain.Snapshot, compressor Compressor) ([]byte, error) {
	ts := s.GeneratedAt.Format(time.RFC3339Nano)
	rec := record{
		TotalUsers:    s.TotalUsers,
		MigratedUsers: s.MigratedUsers,
		PendingUsers:  s.PendingUsers,
		MigrationRate: s.MigrationRate,
		Hourly:        s.Hourly,
		Daily:         s.Daily,
		LastUpdate:    &ts,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if compressor == nil {
		return data, nil
	}
	return compressor.Compress(data)
}

// decodeSnapshot maps every failure to a non-fresh status instead of an error.
// StatusFresh here only means the content decoded; the caller checks the age.
func decodeSnapshot(data []byte, compressor Compressor) (*domain.Snapshot, Status) {
	if bytes.HasPrefix(data, zstdMagic) {
		if compressor == nil {
			return nil, StatusCorrupt
		}
		plain, err := compressor.Decompress(data)
		if err != nil {
			return nil, StatusCorrupt
		}
		data = plain
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, StatusCorrupt
	}
	if rec.LastUpdate == nil {
		return nil, StatusNoTimestamp
	}
	generatedAt, ok := parseTimestamp(*rec.LastUpdate)
	if !ok {
		return nil, StatusNoTimestamp
	}

	s := &domain.Snapshot{
		TotalUsers:    rec.TotalUsers,
		MigratedUsers: rec.MigratedUsers,
		PendingUsers:  rec.PendingUsers,
		MigrationRate: rec.MigrationRate,
		Hourly:        rec.Hourly,
		Daily:         rec.Daily,
		GeneratedAt:   generatedAt,
	}
	if s.Hourly == nil {
		s.Hourly = []domain.HourlyCount{}
	}
	if s.Daily == nil {
		s.Daily = []domain.DailyCount{}
	}
	if err := s.Validate(); err != nil {
		return nil, StatusCorrupt
	}
	return s, StatusFresh
}

func parseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
