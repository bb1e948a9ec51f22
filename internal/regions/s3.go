package regions

import (
	gokitlog "github.com/go-kit/log"
	"github.com/rs/zerolog"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/s3"

	"github.com/springfiles/edgecache/internal/config"
)

// S3BucketMaker returns a bucket constructor for FromConfig that opens one
// S3-compatible bucket per region, named "{prefix}-{region}".
func S3BucketMaker(s3cfg config.S3Cfg, zl *zerolog.Logger) func(config.RegionCfg) (objstore.Bucket, error) {
	logger := gokitAdapter(zl)
	return func(rc config.RegionCfg) (objstore.Bucket, error) {
		cfg := s3.Config{
			Bucket:    s3cfg.BucketPrefix + "-" + rc.Name,
			Endpoint:  s3cfg.Endpoint,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			Insecure:  s3cfg.Insecure,
		}
		return s3.NewBucketWithConfig(logger, cfg, "edgecache-"+rc.Name, nil)
	}
}

// OpenBucket opens a single named S3 bucket (used for the upload
// notification source bucket).
func OpenBucket(s3cfg config.S3Cfg, name string, zl *zerolog.Logger) (objstore.Bucket, error) {
	cfg := s3.Config{
		Bucket:    name,
		Endpoint:  s3cfg.Endpoint,
		AccessKey: s3cfg.AccessKey,
		SecretKey: s3cfg.SecretKey,
		Insecure:  s3cfg.Insecure,
	}
	return s3.NewBucketWithConfig(gokitAdapter(zl), cfg, "edgecache-upload", nil)
}

// objstore constructors want a go-kit logger.
func gokitAdapter(zl *zerolog.Logger) gokitlog.Logger {
	return gokitlog.LoggerFunc(func(keyvals ...interface{}) error {
		if zl != nil {
			zl.Info().Fields(keyvals).Msg("objstore")
		}
		return nil
	})
}
