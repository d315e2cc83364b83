// Command tinycached runs a tinycache instance with WAL durability, periodic
// expiry sweeps and checkpoints, and a Prometheus /metrics endpoint.
//
// Usage:
//
//	tinycached -config tinycached.yaml
//
// Every setting can be overridden with TINYCACHE_<SECTION>_<KEY>, for
// example TINYCACHE_WAL_DIR=/var/lib/tinycache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hupe1980/tinycache"
	"github.com/hupe1980/tinycache/blobstore"
	miniostore "github.com/hupe1980/tinycache/blobstore/minio"
	s3store "github.com/hupe1980/tinycache/blobstore/s3"
	"github.com/hupe1980/tinycache/codec"
	"github.com/hupe1980/tinycache/metric"
	"github.com/hupe1980/tinycache/resource"
	"github.com/hupe1980/tinycache/wal"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tinycached: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("tinycached failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(s ServiceConfig) *tinycache.Logger {
	level, _ := s.Level()
	if s.LogFormat == "json" {
		return tinycache.NewJSONLogger(level)
	}
	return tinycache.NewTextLogger(level)
}

// run serves until ctx is done. ready, if non-nil, receives the metrics
// listener address once the cache is open.
func run(ctx context.Context, cfg *Config, logger *tinycache.Logger, ready chan<- string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rc := resource.NewController(resource.Config{
		MaxBackgroundWorkers: cfg.Resources.MaxBackgroundWorkers,
		IOLimitBytesPerSec:   cfg.Resources.IOLimitBytesPerSec,
	})

	c, _ := codec.ByName(cfg.Service.Codec)

	opts := []tinycache.Option{
		tinycache.WithCodec(c),
		tinycache.WithLogger(logger),
		tinycache.WithMetricsCollector(metric.NewCollector(reg)),
		tinycache.WithResourceController(rc),
		tinycache.WithSweepInterval(cfg.Service.SweepInterval),
	}

	walOpts, err := cfg.WALOptions()
	if err != nil {
		return err
	}
	if walOpts != nil {
		archive, err := openArchive(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		if archive != nil {
			walOpts = append(walOpts, func(o *wal.Options) { o.Archive = archive })
		}
		opts = append(opts,
			tinycache.WithWAL(cfg.WAL.Dir, walOpts...),
			tinycache.WithCheckpointInterval(cfg.Service.CheckpointInterval),
		)
	}

	for name, d := range cfg.Databases {
		dbCfg, err := d.Build()
		if err != nil {
			return fmt.Errorf("database %q: %w", name, err)
		}
		opts = append(opts, tinycache.WithDatabase(name, dbCfg))
	}

	tc, err := tinycache.Open(ctx, opts...)
	if err != nil {
		return err
	}

	shutdown := func() error {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()
		return tc.Close(sctx)
	}

	for name, d := range cfg.Databases {
		for _, field := range d.Indexes {
			if err := tc.AddIndex(ctx, name, field, tinycache.WithBackfill()); err != nil && !errors.Is(err, tinycache.ErrDurabilityDegraded) {
				_ = shutdown()
				return fmt.Errorf("database %q: add index %q: %w", name, field, err)
			}
		}
	}

	reg.MustRegister(metric.NewStatsCollector(tc))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", cfg.Service.MetricsAddr)
	if err != nil {
		_ = shutdown()
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Info("tinycached started",
		"metrics_addr", ln.Addr().String(),
		"databases", tc.Databases(),
		"wal", cfg.WAL.Dir,
	)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		reportStats(gctx, tc, logger.Logger, cfg.Service.StatsInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("tinycached stopping")

	return errors.Join(err, shutdown())
}

func reportStats(ctx context.Context, tc *tinycache.TinyCache, log *slog.Logger, every time.Duration) {
	if every <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range tc.AllStats() {
				log.Info("database stats",
					"database", s.Name,
					"items", s.Len,
					"max_size", s.MaxSize,
					"hit_rate", s.HitRate(),
					"evictions", s.Evictions,
					"expirations", s.Expirations,
				)
			}
		}
	}
}

func openArchive(ctx context.Context, cfg ArchiveConfig) (blobstore.BlobStore, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "local":
		return blobstore.NewLocalStore(cfg.Path), nil
	case "s3":
		return s3store.New(ctx, cfg.Bucket, func(o *s3store.Options) {
			o.Region = cfg.Region
		})
	case "minio":
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.Secure,
		})
		if err != nil {
			return nil, err
		}
		return miniostore.NewStore(client, cfg.Bucket, ""), nil
	default:
		return nil, fmt.Errorf("unknown archive type %q", cfg.Type)
	}
}
