// Package populate implements the asynchronous write path: idempotent
// population of every regional object store plus the metadata index from a
// single delivered sync request.
package populate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thanos-io/objstore"

	"github.com/springfiles/edgecache/internal/catalog"
	"github.com/springfiles/edgecache/internal/extract"
	"github.com/springfiles/edgecache/internal/httperr"
	"github.com/springfiles/edgecache/internal/index"
	"github.com/springfiles/edgecache/internal/model"
	"github.com/springfiles/edgecache/internal/observability"
	"github.com/springfiles/edgecache/internal/queue/push"
	"github.com/springfiles/edgecache/internal/regions"
)

// NameExtractor recovers the logical asset name from staged content.
// Satisfied by *extract.Extractor.
type NameExtractor interface {
	Springname(ctx context.Context, path string) (string, error)
}

var _ NameExtractor = (*extract.Extractor)(nil)

type Populator struct {
	logger     *slog.Logger
	catalog    *catalog.Client
	idx        index.Index
	set        *regions.Set
	download   *http.Client
	stagingDir string

	// upload ingestion path, optional
	uploads   objstore.Bucket
	extractor NameExtractor
}

type Options struct {
	// StagingDir overrides the OS temp dir for transient content staging.
	StagingDir string
	// UploadBucket is the notification source bucket for direct uploads.
	UploadBucket objstore.Bucket
	// Extractor recovers springnames on the upload path.
	Extractor NameExtractor
}

func New(logger *slog.Logger, cat *catalog.Client, idx index.Index, set *regions.Set, download *http.Client, opts Options) *Populator {
	if logger == nil {
		logger = slog.Default()
	}
	if download == nil {
		download = http.DefaultClient
	}
	return &Populator{
		logger:     logger,
		catalog:    cat,
		idx:        idx,
		set:        set,
		download:   download,
		stagingDir: opts.StagingDir,
		uploads:    opts.UploadBucket,
		extractor:  opts.Extractor,
	}
}

// Populate handles one delivered SyncRequest. Safe to invoke any number of
// times for the same arguments: the metadata index entry is the sole
// de-duplication mechanism and the commit point.
func (p *Populator) Populate(ctx context.Context, req model.SyncRequest) error {
	asset, err := p.catalog.Resolve(ctx, req.Category, req.Springname)
	if err != nil {
		observability.IncPopulateRun(observability.PopulateFailed)
		return fmt.Errorf("resolve %s/%s: %w", req.Category, req.Springname, err)
	}

	// Idempotency gate, before any content transfer: a duplicate delivery
	// costs one index read, not a multi-region upload.
	key := model.CacheKey(asset.Category, asset.Springname)
	cached, err := p.alreadyCached(ctx, key)
	if err != nil {
		observability.IncPopulateRun(observability.PopulateFailed)
		return err
	}
	if cached {
		observability.IncPopulateRun(observability.PopulateDuplicate)
		p.logger.Info("already cached, skipping", "key", key)
		return nil
	}

	if len(asset.Mirrors) == 0 {
		observability.IncPopulateRun(observability.PopulateFailed)
		return httperr.BadRequest("catalog entry for %q has no mirrors", asset.Springname)
	}

	staging, err := p.newStaging()
	if err != nil {
		observability.IncPopulateRun(observability.PopulateFailed)
		return err
	}
	defer staging.cleanup(p.logger)

	// First mirror is canonical.
	size, digest, err := p.fetchMirror(ctx, asset.Mirrors[0], staging.contentPath())
	if err != nil {
		observability.IncPopulateRun(observability.PopulateFailed)
		return err
	}
	if asset.MD5 != "" && digest != asset.MD5 {
		observability.IncPopulateRun(observability.PopulateFailed)
		return httperr.BadGateway("mirror content digest %s does not match catalog digest %s", digest, asset.MD5)
	}
	asset.MD5 = digest
	asset.Size = size

	if err := p.commit(ctx, asset, staging.contentPath()); err != nil {
		observability.IncPopulateRun(observability.PopulateFailed)
		return err
	}
	observability.IncPopulateRun(observability.PopulateCommitted)
	return nil
}

// PopulateUpload handles a direct-upload notification: the descriptor is
// derived locally instead of resolved from the catalog, then the same
// commit path runs.
func (p *Populator) PopulateUpload(ctx context.Context, obj push.ObjectNotification) error {
	if p.uploads == nil || p.extractor == nil {
		return errors.New("upload ingestion is not configured")
	}
	p.logger.Info("upload finalized", "bucket", obj.Bucket, "object", obj.Name)

	staging, err := p.newStaging()
	if err != nil {
		observability.IncPopulateRun(observability.PopulateFailed)
		return err
	}
	defer staging.cleanup(p.logger)

	size, digest, err := p.fetchUpload(ctx, obj.Name, staging.contentPath())
	if err != nil {
		observability.IncPopulateRun(observability.PopulateFailed)
		return err
	}

	springname, err := p.extractor.Springname(ctx, staging.contentPath())
	if err != nil {
		observability.IncPopulateRun(observability.PopulateFailed)
		return fmt.Errorf("extract springname from %q: %w", obj.Name, err)
	}

	asset := model.AssetDescriptor{
		Springname: springname,
		Category:   "map",
		Path:       "maps",
		Filename:   NormalizeFilename(springname, obj.Name),
		MD5:        digest,
		Size:       size,
		Timestamp:  time.Now().UTC().Format("2006-01-02T15:04:05"),
		Tags:       []string{},
		Mirrors:    []string{},
	}

	key := model.CacheKey(asset.Category, asset.Springname)
	cached, err := p.alreadyCached(ctx, key)
	if err != nil {
		observability.IncPopulateRun(observability.PopulateFailed)
		return err
	}
	if cached {
		observability.IncPopulateRun(observability.PopulateDuplicate)
		p.logger.Info("already cached, skipping", "key", key)
		return nil
	}

	if err := p.commit(ctx, asset, staging.contentPath()); err != nil {
		observability.IncPopulateRun(observability.PopulateFailed)
		return err
	}
	observability.IncPopulateRun(observability.PopulateCommitted)
	return nil
}

func (p *Populator) alreadyCached(ctx context.Context, key string) (bool, error) {
	_, err := p.idx.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, index.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("idempotency check %q: %w", key, err)
}

// commit uploads staged content to every region and then writes the index
// record. The index write is the commit point: until it succeeds nothing is
// observable, and any regional blobs written by a failed run are
// unreferenced garbage.
func (p *Populator) commit(ctx context.Context, asset model.AssetDescriptor, srcPath string) error {
	if err := p.uploadAll(ctx, srcPath, asset.MD5); err != nil {
		return err
	}

	record := asset
	record.Tags = []string{}
	record.Mirrors = []string{model.ContentPath(asset.MD5, asset.Filename)}

	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	key := model.CacheKey(asset.Category, asset.Springname)
	if err := p.idx.Put(ctx, key, b); err != nil {
		return httperr.Internal("index write for %q: %v", key, err)
	}
	p.logger.Info("populated", "key", key, "md5", asset.MD5, "size", asset.Size)
	return nil
}

// uploadAll writes the staged content to every configured region in
// parallel under a shared cancellation: the first failure aborts all
// in-flight siblings and fails the whole run.
func (p *Populator) uploadAll(ctx context.Context, srcPath, contentKey string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	all := p.set.All()
	errCh := make(chan error, len(all))
	var wg sync.WaitGroup

	for _, r := range all {
		wg.Add(1)
		go func(r regions.Region) {
			defer wg.Done()
			start := time.Now()
			err := uploadOne(ctx, r, srcPath, contentKey)
			observability.ObserveRegionUpload(r.Name, err, time.Since(start).Seconds())
			if err != nil {
				cancel()
				errCh <- fmt.Errorf("upload to region %s: %w", r.Name, err)
			}
		}(r)
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return httperr.Internal("%v", err)
	}
	return nil
}

// each goroutine reads through its own handle
func uploadOne(ctx context.Context, r regions.Region, srcPath, contentKey string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open staged content: %w", err)
	}
	defer func() { _ = f.Close() }()
	return r.Bucket.Upload(ctx, contentKey, f)
}

// fetchMirror streams the asset's content into the staging file, computing
// its digest on the way through.
func (p *Populator) fetchMirror(ctx context.Context, mirrorURL, dst string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirrorURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("build mirror request: %w", err)
	}

	start := time.Now()
	resp, err := p.download.Do(req)
	observability.ObserveUpstreamLatency("mirror", time.Since(start).Seconds())
	if err != nil {
		return 0, "", httperr.BadGateway("mirror fetch: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, "", httperr.BadGateway("mirror responded with status %d", resp.StatusCode)
	}
	return stageStream(resp.Body, dst)
}

func (p *Populator) fetchUpload(ctx context.Context, objectName, dst string) (int64, string, error) {
	rc, err := p.uploads.Get(ctx, objectName)
	if err != nil {
		return 0, "", httperr.Internal("fetch uploaded object %q: %v", objectName, err)
	}
	defer func() { _ = rc.Close() }()
	return stageStream(rc, dst)
}

func stageStream(src io.Reader, dst string) (int64, string, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, "", fmt.Errorf("create staging file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	n, err := io.Copy(f, io.TeeReader(src, h))
	if err != nil {
		return 0, "", httperr.BadGateway("stream content: %v", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

type staging struct {
	dir string
}

func (p *Populator) newStaging() (*staging, error) {
	dir, err := os.MkdirTemp(p.stagingDir, "asset-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &staging{dir: dir}, nil
}

func (s *staging) contentPath() string {
	return filepath.Join(s.dir, "content")
}

func (s *staging) cleanup(logger *slog.Logger) {
	if err := os.RemoveAll(s.dir); err != nil {
		logger.Error("staging cleanup", "dir", s.dir, "err", err)
	}
}
