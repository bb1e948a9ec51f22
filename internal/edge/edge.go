// Package edge implements the synchronous read path: asset lookup with
// read-through population triggering, and content reads routed to the
// nearest regional store.
package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/springfiles/edgecache/internal/catalog"
	"github.com/springfiles/edgecache/internal/httperr"
	"github.com/springfiles/edgecache/internal/index"
	"github.com/springfiles/edgecache/internal/model"
	"github.com/springfiles/edgecache/internal/observability"
	"github.com/springfiles/edgecache/internal/queue"
	"github.com/springfiles/edgecache/internal/regions"
	"github.com/springfiles/edgecache/internal/respcache"
)

const publishTimeout = 10 * time.Second

type Service struct {
	logger  *slog.Logger
	catalog *catalog.Client
	idx     index.Index
	set     *regions.Set
	geo     *regions.Resolver
	pub     queue.Publisher
	resp    *respcache.Cache

	allowed       map[string]struct{}
	springnameMax int

	// in-flight background publishes, drained on shutdown
	bg sync.WaitGroup
}

type Options struct {
	// AllowedCategories is the set of categories the cache fronts. Queries
	// for anything else redirect to the upstream catalog.
	AllowedCategories []string
	// SpringnameMaxLen bounds the key space; longer names are rejected.
	SpringnameMaxLen int
	// ResponseCache is optional; nil disables in-process content caching.
	ResponseCache *respcache.Cache
}

func New(logger *slog.Logger, cat *catalog.Client, idx index.Index, set *regions.Set, geo *regions.Resolver, pub queue.Publisher, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = queue.NopPublisher{}
	}
	allowed := make(map[string]struct{}, len(opts.AllowedCategories))
	for _, c := range opts.AllowedCategories {
		allowed[c] = struct{}{}
	}
	maxLen := opts.SpringnameMaxLen
	if maxLen <= 0 {
		maxLen = 100
	}
	return &Service{
		logger:        logger,
		catalog:       cat,
		idx:           idx,
		set:           set,
		geo:           geo,
		pub:           pub,
		resp:          opts.ResponseCache,
		allowed:       allowed,
		springnameMax: maxLen,
	}
}

func (s *Service) Routes(r chi.Router) {
	r.Get("/find", s.handleFind)
	r.Get("/file/{md5}/{filename}", s.handleFile)
}

// Wait blocks until every in-flight background publish has finished. The
// server calls this during graceful shutdown so population triggers for
// already-answered requests are not silently dropped.
func (s *Service) Wait() {
	s.bg.Wait()
}

func (s *Service) handleFind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for k := range q {
		if k != "category" && k != "springname" {
			s.logger.WarnContext(r.Context(), "unknown find parameter", "param", k)
		}
	}

	category := q.Get("category")
	springname := q.Get("springname")
	if category == "" || springname == "" {
		httperr.Write(w, httperr.BadRequest("category and springname are required"))
		return
	}
	if len(springname) > s.springnameMax {
		httperr.Write(w, httperr.BadRequest("springname exceeds %d characters", s.springnameMax))
		return
	}

	// Non-fronted categories go straight to the upstream catalog.
	if _, ok := s.allowed[category]; !ok {
		observability.IncFind("redirect")
		http.Redirect(w, r, s.catalog.SearchURL(category, springname), http.StatusFound)
		return
	}

	key := model.CacheKey(category, springname)
	raw, err := s.idx.Get(r.Context(), key)
	switch {
	case err == nil:
		asset, uerr := decodeRecord(raw)
		if uerr != nil {
			s.logger.ErrorContext(r.Context(), "corrupt index record", "key", key, "err", uerr)
			httperr.Write(w, httperr.Internal("corrupt index record for %q", key))
			return
		}
		observability.IncFind("hit")
		rewriteMirrors(&asset, requestOrigin(r))
		writeJSON(w, []model.AssetDescriptor{asset})

	case errors.Is(err, index.ErrNotFound):
		s.findMiss(w, r, category, springname)

	default:
		s.logger.ErrorContext(r.Context(), "index lookup failed", "key", key, "err", err)
		httperr.Write(w, httperr.Internal("index lookup for %q", key))
	}
}

// findMiss answers from the upstream catalog and schedules population in
// the background. The caller gets the uncached answer immediately; the
// publish outcome never affects the response.
func (s *Service) findMiss(w http.ResponseWriter, r *http.Request, category, springname string) {
	asset, err := s.catalog.Resolve(r.Context(), category, springname)
	if err != nil {
		observability.IncFind("error")
		httperr.Write(w, err)
		return
	}
	observability.IncFind("miss")
	writeJSON(w, []model.AssetDescriptor{asset})

	req := model.SyncRequest{Category: category, Springname: springname}
	logger := s.logger.With("category", category, "springname", springname)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		err := s.pub.Publish(ctx, req)
		observability.IncQueuePublish(err)
		if err != nil {
			// losing the trigger only delays caching; the next miss retries
			logger.Error("publish sync request failed", "err", err)
			return
		}
		logger.Info("scheduled population")
	}()
}

func (s *Service) handleFile(w http.ResponseWriter, r *http.Request) {
	md5 := chi.URLParam(r, "md5")
	filename := chi.URLParam(r, "filename")
	if !model.ValidMD5(md5) {
		httperr.Write(w, httperr.BadRequest("malformed content hash"))
		return
	}
	if filename == "" || len(filename) > 255 {
		httperr.Write(w, httperr.BadRequest("malformed filename"))
		return
	}

	contentPath := model.ContentPath(md5, filename)
	noCache := strings.Contains(r.Header.Get("Cache-Control"), "no-cache")

	if s.resp != nil && !noCache {
		if body, ok := s.resp.Get(contentPath); ok {
			observability.IncContentRead("hit", "memory")
			writeContent(w, md5, filename, int64(len(body)))
			_, _ = w.Write(body)
			return
		}
	}

	region := s.set.Select(s.geo.Origin(r), r.Header.Get(regions.OverrideHeader))

	attrs, err := region.Bucket.Attributes(r.Context(), md5)
	if err != nil {
		if region.Bucket.IsObjNotFoundErr(err) {
			// the region may simply not have caught up yet
			observability.IncContentRead("miss", region.Name)
			httperr.Write(w, httperr.NotFound("content %s not found", md5))
			return
		}
		observability.IncContentRead("error", region.Name)
		s.logger.ErrorContext(r.Context(), "content attributes failed", "region", region.Name, "md5", md5, "err", err)
		httperr.Write(w, httperr.Internal("content read for %s", md5))
		return
	}

	rc, err := region.Bucket.Get(r.Context(), md5)
	if err != nil {
		observability.IncContentRead("error", region.Name)
		s.logger.ErrorContext(r.Context(), "content read failed", "region", region.Name, "md5", md5, "err", err)
		httperr.Write(w, httperr.Internal("content read for %s", md5))
		return
	}
	defer func() { _ = rc.Close() }()

	observability.IncContentRead("hit", region.Name)
	writeContent(w, md5, filename, attrs.Size)

	if s.resp != nil && s.resp.Fits(attrs.Size) {
		body, rerr := io.ReadAll(rc)
		if rerr != nil {
			s.logger.ErrorContext(r.Context(), "content stream failed", "region", region.Name, "md5", md5, "err", rerr)
			return
		}
		_, _ = w.Write(body)
		s.resp.Put(contentPath, body)
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.ErrorContext(r.Context(), "content stream failed", "region", region.Name, "md5", md5, "err", err)
	}
}

// writeContent sets the immutable caching headers. Content is addressed by
// its digest, so it can be cached forever.
func writeContent(w http.ResponseWriter, md5, filename string, size int64) {
	h := w.Header()
	h.Set("ETag", `"`+md5+`"`)
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
}

func decodeRecord(raw []byte) (model.AssetDescriptor, error) {
	var a model.AssetDescriptor
	if err := json.Unmarshal(raw, &a); err != nil {
		return model.AssetDescriptor{}, err
	}
	return a, nil
}

// rewriteMirrors turns the stored relative content paths into absolute URLs
// rooted at the origin the client reached us on.
func rewriteMirrors(a *model.AssetDescriptor, origin string) {
	for i, m := range a.Mirrors {
		if strings.HasPrefix(m, "http://") || strings.HasPrefix(m, "https://") {
			continue
		}
		a.Mirrors[i] = origin + "/" + strings.TrimPrefix(m, "/")
	}
}

func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are already out; nothing useful left to do
		return
	}
}
