// Package cache keeps prepared house profiles in an on-disk Badger store so
// repeated simulations and summaries skip the series reads and solar scaling.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"gridsim/internal/energy"
	"gridsim/internal/timeseries"
	"gridsim/pkg/platform"
)

// Config holds cache configuration
type Config struct {
	Path             string
	TTL              time.Duration
	InMemory         bool
	CompressionLevel int // 1 fastest .. 4 best
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data/profile-cache",
		TTL:              time.Hour,
		InMemory:         platform.GetEnvBool("GRIDSIM_CACHE_IN_MEMORY", false),
		CompressionLevel: 2,
	}
}

// Metrics counts cache lookups
type Metrics interface {
	CacheHit()
	CacheMiss()
}

type nopMetrics struct{}

func (nopMetrics) CacheHit()  {}
func (nopMetrics) CacheMiss() {}

// ProfileCache decorates a profile source with a TTL cache. Errors from the
// source are never cached.
type ProfileCache struct {
	db      *badger.DB
	source  energy.ProfileSource
	ttl     time.Duration
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	metrics Metrics
	logger  zerolog.Logger
}

// New opens the cache in front of source
func New(cfg *Config, source energy.ProfileSource) (*ProfileCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel(cfg.CompressionLevel)))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &ProfileCache{
		db:      db,
		source:  source,
		ttl:     cfg.TTL,
		encoder: encoder,
		decoder: decoder,
		metrics: nopMetrics{},
		logger:  zerolog.Nop(),
	}, nil
}

// WithMetrics sets the hit/miss counters
func (c *ProfileCache) WithMetrics(m Metrics) *ProfileCache {
	if m != nil {
		c.metrics = m
	}
	return c
}

// WithLogger sets the logger
func (c *ProfileCache) WithLogger(l zerolog.Logger) *ProfileCache {
	c.logger = l
	return c
}

// HouseProfile implements energy.ProfileSource
func (c *ProfileCache) HouseProfile(ctx context.Context, houseID uuid.UUID) (*energy.HouseProfile, error) {
	if p, ok := c.get(houseID); ok {
		c.metrics.CacheHit()
		return p, nil
	}
	c.metrics.CacheMiss()

	p, err := c.source.HouseProfile(ctx, houseID)
	if err != nil {
		return nil, err
	}
	if err := c.put(houseID, p); err != nil {
		c.logger.Warn().Err(err).Str("house_id", houseID.String()).Msg("failed to cache house profile")
	}
	return p, nil
}

// Invalidate drops a house's cached profile
func (c *ProfileCache) Invalidate(houseID uuid.UUID) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(houseID))
	})
}

// InvalidateAll drops every cached profile. Used when an input shared by
// many houses changes, such as the solar reference series.
func (c *ProfileCache) InvalidateAll() error {
	if err := c.db.DropAll(); err != nil {
		return fmt.Errorf("failed to flush profile cache: %w", err)
	}
	return nil
}

// Close releases the store and codecs
func (c *ProfileCache) Close() error {
	c.encoder.Close()
	c.decoder.Close()
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// entry stores the source series column-wise; derived fields are rebuilt on read
type entry struct {
	HouseID uuid.UUID `json:"h"`
	Times   []int64   `json:"t"`
	Load    []float64 `json:"l"`
	Solar   []float64 `json:"s"`
}

func (c *ProfileCache) put(houseID uuid.UUID, p *energy.HouseProfile) error {
	e := entry{
		HouseID: houseID,
		Times:   make([]int64, p.Len()),
		Load:    make([]float64, p.Len()),
		Solar:   make([]float64, p.Len()),
	}
	for i, iv := range p.Intervals {
		e.Times[i] = iv.Time.UnixNano()
		e.Load[i] = iv.Load
		e.Solar[i] = iv.Solar
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	compressed := c.encoder.EncodeAll(raw, nil)

	return c.db.Update(func(txn *badger.Txn) error {
		ent := badger.NewEntry(key(houseID), compressed)
		if c.ttl > 0 {
			ent = ent.WithTTL(c.ttl)
		}
		return txn.SetEntry(ent)
	})
}

func (c *ProfileCache) get(houseID uuid.UUID) (*energy.HouseProfile, bool) {
	var compressed []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(houseID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			compressed = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn().Err(err).Str("house_id", houseID.String()).Msg("profile cache read failed")
		}
		return nil, false
	}

	p, err := c.decode(compressed)
	if err != nil {
		c.logger.Warn().Err(err).Str("house_id", houseID.String()).Msg("discarding unreadable cache entry")
		_ = c.Invalidate(houseID)
		return nil, false
	}
	return p, true
}

func (c *ProfileCache) decode(compressed []byte) (*energy.HouseProfile, error) {
	raw, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress profile: %w", err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	if len(e.Load) != len(e.Times) || len(e.Solar) != len(e.Times) {
		return nil, fmt.Errorf("corrupt profile entry: %d times, %d load, %d solar", len(e.Times), len(e.Load), len(e.Solar))
	}

	load := make(timeseries.Series, len(e.Times))
	solar := make(timeseries.Series, len(e.Times))
	for i, ns := range e.Times {
		t := time.Unix(0, ns).UTC()
		load[i] = timeseries.Point{Time: t, Value: e.Load[i]}
		solar[i] = timeseries.Point{Time: t, Value: e.Solar[i]}
	}
	return energy.NewHouseProfile(e.HouseID, load, solar)
}

func key(houseID uuid.UUID) []byte {
	return []byte("profile/" + houseID.String())
}

func encoderLevel(level int) zstd.EncoderLevel {
	switch level {
	case 1:
		return zstd.SpeedFastest
	case 3:
		return zstd.SpeedBetterCompression
	case 4:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
