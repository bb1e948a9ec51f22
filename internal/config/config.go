// Package config builds service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type RegionCfg struct {
	Name string
	Lat  float64
	Lon  float64
}

type S3Cfg struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	BucketPrefix string
	Insecure     bool
}

type QueueCfg struct {
	Driver      string // "kafka" or "none" (push delivery only)
	Brokers     []string
	Topic       string
	GroupID     string
	PublishBuf  int
	SessionTO   time.Duration
	Heartbeat   time.Duration
	RebalanceTO time.Duration
	FromOldest  bool
}

type Config struct {
	Addr     string
	LogLevel string

	UpstreamURL       string
	AllowedCategories []string
	SpringnameMaxLen  int

	RedisAddr      string
	IndexOpTimeout time.Duration
	IndexCacheTTL  time.Duration
	IndexCacheSize int

	Regions    []RegionCfg
	DefaultLat float64
	DefaultLon float64
	GeoIPDB    string

	S3 S3Cfg

	Queue QueueCfg

	RespCacheEntries   int
	RespCacheMaxObject int64

	UploadBucket     string
	ExtractorPath    string
	ExtractorTimeout time.Duration
	StagingDir       string
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		UpstreamURL:       getenv("UPSTREAM_URL", "https://springfiles.springrts.com/json.php"),
		AllowedCategories: splitCSV(getenv("ALLOWED_CATEGORIES", "map")),
		SpringnameMaxLen:  getint("SPRINGNAME_MAX_LEN", 100),

		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		IndexOpTimeout: getduration("INDEX_OP_TIMEOUT", 2*time.Second),
		IndexCacheTTL:  getduration("INDEX_CACHE_TTL", 8*time.Hour),
		IndexCacheSize: getint("INDEX_CACHE_SIZE", 4096),

		Regions:    parseRegions(getenv("REGIONS", "weur=48.86:2.35")),
		DefaultLat: getfloat("DEFAULT_ORIGIN_LAT", 50.1),
		DefaultLon: getfloat("DEFAULT_ORIGIN_LON", 8.68),
		GeoIPDB:    getenv("GEOIP_DB", ""),

		S3: S3Cfg{
			Endpoint:     getenv("S3_ENDPOINT", ""),
			AccessKey:    getenv("S3_ACCESS_KEY", ""),
			SecretKey:    getenv("S3_SECRET_KEY", ""),
			BucketPrefix: getenv("S3_BUCKET_PREFIX", "springfiles"),
			Insecure:     getbool("S3_INSECURE", false),
		},

		Queue: QueueCfg{
			Driver:      getenv("QUEUE_DRIVER", "kafka"),
			Brokers:     splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:       getenv("KAFKA_TOPIC", "asset-sync"),
			GroupID:     getenv("KAFKA_GROUP_ID", "origin-populator"),
			PublishBuf:  getint("QUEUE_PUBLISH_BUF", 1024),
			SessionTO:   getduration("KAFKA_SESSION_TIMEOUT", 30*time.Second),
			Heartbeat:   getduration("KAFKA_HEARTBEAT", 3*time.Second),
			RebalanceTO: getduration("KAFKA_REBALANCE_TIMEOUT", 30*time.Second),
			FromOldest:  getbool("KAFKA_FROM_OLDEST", true),
		},

		RespCacheEntries:   getint("RESPCACHE_ENTRIES", 256),
		RespCacheMaxObject: getint64("RESPCACHE_MAX_OBJECT", 4<<20),

		UploadBucket:     getenv("UPLOAD_BUCKET", ""),
		ExtractorPath:    getenv("EXTRACTOR_PATH", ""),
		ExtractorTimeout: getduration("EXTRACTOR_TIMEOUT", time.Minute),
		StagingDir:       getenv("STAGING_DIR", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "weur=48.86:2.35,enam=40.71:-74.01" into ordered region configs.
// Order is significant: it is the router's tie-break order.
func parseRegions(s string) []RegionCfg {
	var out []RegionCfg
	for p := range strings.SplitSeq(strings.TrimSpace(s), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		coords := strings.SplitN(strings.TrimSpace(kv[1]), ":", 2)
		if name == "" || len(coords) != 2 {
			continue
		}
		lat, err1 := strconv.ParseFloat(coords[0], 64)
		lon, err2 := strconv.ParseFloat(coords[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, RegionCfg{Name: name, Lat: lat, Lon: lon})
	}
	return out
}
