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
	"github.com/springfiles/edgecache/internal/edge"
	"github.com/springfiles/edgecache/internal/health"
	"github.com/springfiles/edgecache/internal/httpclient"
	"github.com/springfiles/edgecache/internal/index"
	"github.com/springfiles/edgecache/internal/index/redisindex"
	"github.com/springfiles/edgecache/internal/logger"
	"github.com/springfiles/edgecache/internal/observability"
	"github.com/springfiles/edgecache/internal/queue"
	"github.com/springfiles/edgecache/internal/queue/kafka"
	"github.com/springfiles/edgecache/internal/regions"
	"github.com/springfiles/edgecache/internal/respcache"
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
		Component: "edge",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version, "edge")
	appLog.Info("starting edge",
		"addr", cfg.Addr,
		"version", Version,
		"upstream", cfg.UpstreamURL,
		"regions", len(cfg.Regions))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rdb, err := redisindex.New(startCtx, cfg.RedisAddr,
		redisindex.WithReadTimeout(cfg.IndexOpTimeout),
		redisindex.WithWriteTimeout(cfg.IndexOpTimeout))
	if err != nil {
		appLog.Error("metadata index unavailable", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	defer func() { _ = rdb.Close() }()

	var idx index.Index = rdb
	if cfg.IndexCacheTTL > 0 {
		idx = index.NewCached(rdb, cfg.IndexCacheSize, cfg.IndexCacheTTL)
	}

	set, err := regions.FromConfig(cfg.Regions, cfg.DefaultLat, cfg.DefaultLon,
		regions.S3BucketMaker(cfg.S3, &zl))
	if err != nil {
		appLog.Error("regional stores setup failed", "err", err)
		return 1
	}

	geo, err := regions.NewResolver(cfg.GeoIPDB)
	if err != nil {
		appLog.Error("geoip setup failed", "db", cfg.GeoIPDB, "err", err)
		return 1
	}
	defer func() { _ = geo.Close() }()

	var pub queue.Publisher = queue.NopPublisher{}
	if cfg.Queue.Driver == "kafka" {
		kp, err := kafka.NewPublisher(cfg.Queue.Brokers, cfg.Queue.Topic, cfg.Queue.PublishBuf, appLog)
		if err != nil {
			appLog.Error("queue publisher setup failed", "brokers", cfg.Queue.Brokers, "err", err)
			return 1
		}
		pub = kp
	}
	defer func() { _ = pub.Close() }()

	svc := edge.New(appLog,
		catalog.New(httpclient.NewOutbound(), cfg.UpstreamURL),
		idx, set, geo, pub,
		edge.Options{
			AllowedCategories: cfg.AllowedCategories,
			SpringnameMaxLen:  cfg.SpringnameMaxLen,
			ResponseCache:     respcache.New(cfg.RespCacheEntries, cfg.RespCacheMaxObject),
		})

	r := server.NewRouter(appLog, map[string]health.Pinger{"redis": rdb})
	svc.Routes(r)

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

	if err := server.Run(ctx, cfg.Addr, appLog, r, server.Options{Drain: svc.Wait}); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
