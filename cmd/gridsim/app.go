package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"gridsim/db/cache"
	"gridsim/db/clickhouse"
	"gridsim/db/ingestion"
	"gridsim/db/postgres"
	"gridsim/decision/billing"
	"gridsim/decision/simulation"
	"gridsim/internal/energy"
	"gridsim/internal/events"
	"gridsim/internal/metrics"
	"gridsim/internal/pattern"
	"gridsim/pkg/platform"
)

const defaultCacheTTL = time.Hour

// app holds the stores and engines one command works with
type app struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics

	pg      *postgres.Store
	series  *clickhouse.Store
	objects *minio.Client

	profiles  energy.ProfileSource
	cache     *cache.ProfileCache
	publisher *events.Publisher

	closers []io.Closer
}

// openApp connects every backend the global flags name. Optional backends
// (profile cache, Kafka, MinIO) stay nil when their flags are empty.
func openApp(c *cli.Context) (*app, error) {
	a := &app{
		logger:  platform.InitLogger(c.String("log-level")),
		metrics: metrics.New(),
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.DSN = c.String("pg-dsn")
	pg, err := postgres.Open(c.Context, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	a.pg = pg
	a.closers = append(a.closers, pg)

	series, err := clickhouse.NewStore(&clickhouse.Config{
		Host:      c.String("clickhouse-host"),
		Port:      c.Int("clickhouse-port"),
		Database:  c.String("clickhouse-database"),
		Username:  c.String("clickhouse-user"),
		Password:  c.String("clickhouse-password"),
		BatchSize: clickhouse.DefaultConfig().BatchSize,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	a.series = series
	a.closers = append(a.closers, series)

	preparerCfg := energy.DefaultPreparerConfig()
	preparerCfg.SolarSiteID = c.Int64("solar-site-id")
	preparer := energy.NewPreparer(energy.Sources{
		LoadProfiles: pg,
		Patterns:     pg,
		Series:       series,
		Solar:        pg,
	}, preparerCfg).WithLogger(a.logger)
	a.profiles = preparer

	if path := c.String("cache-path"); path != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Path = path
		cacheCfg.TTL = c.Duration("cache-ttl")
		pc, err := cache.New(cacheCfg, preparer)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open profile cache: %w", err)
		}
		a.cache = pc.WithMetrics(a.metrics).WithLogger(a.logger)
		a.profiles = a.cache
		a.closers = append(a.closers, pc)
	}

	if brokers := platform.SplitList(c.String("kafka-brokers")); len(brokers) > 0 {
		evCfg := events.DefaultConfig()
		evCfg.Brokers = brokers
		evCfg.Topic = c.String("kafka-topic")
		pub, err := events.NewPublisher(evCfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub)
	}

	if endpoint := c.String("minio-endpoint"); endpoint != "" {
		client, err := ingestion.NewObjectClient(&ingestion.ObjectConfig{
			Endpoint:      endpoint,
			AccessKey:     c.String("minio-access-key"),
			SecretKey:     c.String("minio-secret-key"),
			Secure:        c.Bool("minio-secure"),
			ArchiveBucket: c.String("minio-archive-bucket"),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create object storage client: %w", err)
		}
		a.objects = client
	}

	return a, nil
}

// Close releases backends in reverse order of opening
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close backend")
		}
	}
	a.closers = nil
}

func (a *app) simulator() *simulation.Engine {
	bills := billing.NewDefaultEngine(a.pg, a.pg)
	engine := simulation.NewEngine(a.pg, a.pg, a.pg, a.profiles, bills).
		WithMetrics(a.metrics).
		WithLogger(a.logger)
	if a.publisher != nil {
		engine = engine.WithPublisher(a.publisher)
	}
	return engine
}

func (a *app) aggregator() *energy.Aggregator {
	return energy.NewAggregator(a.pg, a.profiles).WithLogger(a.logger)
}

func (a *app) synthesizer() *pattern.Synthesizer {
	s := pattern.NewSynthesizer(a.pg).WithLogger(a.logger)
	if a.cache != nil {
		s = s.WithCache(a.cache, a.pg)
	}
	return s
}

func (a *app) ingestor(c *cli.Context) *ingestion.MeterIngestor {
	cfg := ingestion.DefaultConfig()
	cfg.Validate.MinDays = c.Int("ingest-min-days")
	cfg.Validate.MaxIntervalHours = c.Int("ingest-max-interval-hours")

	objects := ingestion.NewObjectStore(a.objects, c.String("minio-archive-bucket"))
	m := ingestion.NewMeterIngestor(cfg, objects, a.pg, a.series).
		WithArchive(objects).
		WithMetrics(a.metrics).
		WithLogger(a.logger)
	if a.cache != nil {
		m = m.WithCache(a.cache)
	}
	return m
}

// withApp opens the backends around one command action
func withApp(fn func(c *cli.Context, a *app) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := openApp(c)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(c, a)
	}
}

func pingAll(ctx context.Context, a *app) error {
	if err := a.pg.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := a.series.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	return nil
}
