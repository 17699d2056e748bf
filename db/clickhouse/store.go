// Package clickhouse stores canonical load series and solar reference series
// in ClickHouse. Series are append-heavy and read whole, which suits a
// columnar engine ordered by (owner, ts).
package clickhouse

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"gridsim/internal/timeseries"
)

//go:embed schema.sql
var schema string

// Config holds ClickHouse connection configuration
type Config struct {
	Host      string
	Port      int
	Database  string
	Username  string
	Password  string
	Debug     bool
	BatchSize int
}

// DefaultConfig returns default development configuration
func DefaultConfig() *Config {
	return &Config{
		Host:      "localhost",
		Port:      9000,
		Database:  "gridsim",
		Username:  "default",
		Password:  "",
		Debug:     false,
		BatchSize: 10000,
	}
}

// Store reads and writes interval series
type Store struct {
	conn clickhouse.Conn
	cfg  *Config
}

// NewStore opens a ClickHouse connection
func NewStore(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return &Store{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Migrate creates the series tables
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range statements(schema) {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply ClickHouse schema: %w", err)
		}
	}
	return nil
}

// =============================================================================
// LOAD SERIES
// =============================================================================

// InsertLoadSeries appends a profile's series in batches
func (s *Store) InsertLoadSeries(ctx context.Context, profileID uuid.UUID, series timeseries.Series) error {
	return s.insert(ctx, `INSERT INTO load_series (profile_id, ts, value)`, profileID, series)
}

// ReplaceLoadSeries drops any stored series for the profile and inserts the new one
func (s *Store) ReplaceLoadSeries(ctx context.Context, profileID uuid.UUID, series timeseries.Series) error {
	if err := s.DeleteLoadSeries(ctx, profileID); err != nil {
		return err
	}
	return s.InsertLoadSeries(ctx, profileID, series)
}

// GetLoadSeries returns a profile's series ordered by time, or nil when none is stored
func (s *Store) GetLoadSeries(ctx context.Context, profileID uuid.UUID) (timeseries.Series, error) {
	return s.query(ctx, `
		SELECT ts, value
		FROM load_series FINAL
		WHERE profile_id = ?
		ORDER BY ts
	`, profileID)
}

// DeleteLoadSeries removes a profile's series
func (s *Store) DeleteLoadSeries(ctx context.Context, profileID uuid.UUID) error {
	query := `ALTER TABLE load_series DELETE WHERE profile_id = ? SETTINGS mutations_sync = 1`
	if err := s.conn.Exec(ctx, query, profileID); err != nil {
		return fmt.Errorf("failed to delete load series %s: %w", profileID, err)
	}
	return nil
}

// CountLoadPoints returns the number of stored points for a profile
func (s *Store) CountLoadPoints(ctx context.Context, profileID uuid.UUID) (int, error) {
	row := s.conn.QueryRow(ctx, `SELECT count() FROM load_series FINAL WHERE profile_id = ?`, profileID)
	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count load points: %w", err)
	}
	return int(count), nil
}

// =============================================================================
// SOLAR REFERENCE
// =============================================================================

// InsertSolarReference stores a site's per-kW generation series
func (s *Store) InsertSolarReference(ctx context.Context, siteID int64, series timeseries.Series) error {
	return s.insert(ctx, `INSERT INTO solar_reference (site_id, ts, per_kw_generation)`, siteID, series)
}

// GetSolarReference returns a site's per-kW generation ordered by time
func (s *Store) GetSolarReference(ctx context.Context, siteID int64) (timeseries.Series, error) {
	return s.query(ctx, `
		SELECT ts, per_kw_generation
		FROM solar_reference FINAL
		WHERE site_id = ?
		ORDER BY ts
	`, siteID)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *Store) insert(ctx context.Context, stmt string, owner any, series timeseries.Series) error {
	for i := 0; i < len(series); i += s.cfg.BatchSize {
		end := i + s.cfg.BatchSize
		if end > len(series) {
			end = len(series)
		}

		batch, err := s.conn.PrepareBatch(ctx, stmt)
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		for _, p := range series[i:end] {
			if err := batch.Append(owner, p.Time.UTC(), p.Value); err != nil {
				return fmt.Errorf("failed to append to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch at offset %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) (timeseries.Series, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	var series timeseries.Series
	for rows.Next() {
		var (
			ts    time.Time
			value float64
		)
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("failed to scan series point: %w", err)
		}
		series = append(series, timeseries.Point{Time: ts.UTC(), Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read series: %w", err)
	}
	return series, nil
}

// statements splits a schema file on semicolons, dropping comments and blanks
func statements(src string) []string {
	var out []string
	for _, raw := range strings.Split(src, ";") {
		var lines []string
		for _, line := range strings.Split(raw, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return out
}
