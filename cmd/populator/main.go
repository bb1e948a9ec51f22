package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/springfiles/edgecache/internal/catalog"
	"github.com/springfiles/edgecache/internal/config"
	"github.com/springfiles/edgecache/internal/extract"
	"github.com/springfiles/edgecache/internal/health"
	"github.com/springfiles/edgecache/internal/httpclient"
	"github.com/springfiles/edgecache/internal/index/redisindex"
	"github.com/springfiles/edgecache/internal/logger"
	"github.com/springfiles/edgecache/internal/observability"
	"github.com/springfiles/edgecache/internal/populate"
	"github.com/springfiles/edgecache/internal/queue/kafka"
	"github.com/springfiles/edgecache/internal/regions"
	"github.com/springfiles/edgecache/internal/server"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address override")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "populator",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version, "populator")
	appLog.Info("starting populator",
		"addr", cfg.Addr,
		"version", Version,
		"upstream", cfg.UpstreamURL,
		"regions", len(cfg.Regions),
		"queue_driver", cfg.Queue.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// the idempotency gate reads the authoritative index, never a
	// client-side cached view
	rdb, err := redisindex.New(startCtx, cfg.RedisAddr,
		redisindex.WithReadTimeout(cfg.IndexOpTimeout),
		redisindex.WithWriteTimeout(cfg.IndexOpTimeout))
	if err != nil {
		appLog.Error("metadata index unavailable", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	defer func() { _ = rdb.Close() }()

	set, err := regions.FromConfig(cfg.Regions, cfg.DefaultLat, cfg.DefaultLon,
		regions.S3BucketMaker(cfg.S3, &zl))
	if err != nil {
		appLog.Error("regional stores setup failed", "err", err)
		return 1
	}

	opts := populate.Options{StagingDir: cfg.StagingDir}
	if cfg.UploadBucket != "" {
		bkt, err := regions.OpenBucket(cfg.S3, cfg.UploadBucket, &zl)
		if err != nil {
			appLog.Error("upload bucket setup failed", "bucket", cfg.UploadBucket, "err", err)
			return 1
		}
		ex, err := extract.New(cfg.ExtractorPath, cfg.ExtractorTimeout)
		if err != nil {
			appLog.Error("extractor setup failed", "path", cfg.ExtractorPath, "err", err)
			return 1
		}
		opts.UploadBucket = bkt
		opts.Extractor = ex
	}

	pop := populate.New(appLog,
		catalog.New(httpclient.NewOutbound(), cfg.UpstreamURL),
		rdb, set, httpclient.NewDownload(), opts)

	if cfg.Queue.Driver == "kafka" {
		consumer := kafka.NewConsumer(cfg.Queue, appLog, populate.HandleSync(appLog, pop))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("queue consumer exited", "err", err)
				stop()
			}
		}()
	}

	r := server.NewRouter(appLog, map[string]health.Pinger{"redis": rdb})
	populate.Routes(r, appLog, pop)

	if os.Getenv("METRICS_ENABLED") == "true" {
		addr := os.Getenv("METRICS_ADDR")
		if addr == "" {
			addr = ":9090"
		}
		path := os.Getenv("METRICS_PATH")
		if path == "" {
			path = "/metrics"
		}
		server.RunMetrics(ctx, addr, path, appLog)
	}

	if err := server.Run(ctx, cfg.Addr, appLog, r, server.Options{}); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
