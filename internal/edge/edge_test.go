package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/thanos-io/objstore"

	"github.com/springfiles/edgecache/internal/catalog"
	"github.com/springfiles/edgecache/internal/index"
	"github.com/springfiles/edgecache/internal/index/redisindex"
	"github.com/springfiles/edgecache/internal/model"
	"github.com/springfiles/edgecache/internal/regions"
	"github.com/springfiles/edgecache/internal/respcache"
)

const testMD5 = "9e107d9d372bb6826bd81d3542a419d6"

type recordingPublisher struct {
	mu   sync.Mutex
	got  []model.SyncRequest
	fail bool
}

func (p *recordingPublisher) Publish(_ context.Context, req model.SyncRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, req)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []model.SyncRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.SyncRequest(nil), p.got...)
}

type env struct {
	svc     *Service
	srv     *httptest.Server
	idx     index.Index
	pub     *recordingPublisher
	buckets map[string]objstore.Bucket
	catURL  string
}

func newEnv(t *testing.T, resp *respcache.Cache) *env {
	t.Helper()

	cat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		descriptor := model.AssetDescriptor{
			Springname: r.URL.Query().Get("springname"),
			Filename:   "upstream.sd7",
			Category:   r.URL.Query().Get("category"),
			MD5:        testMD5,
			Mirrors:    []string{"http://mirror.example/maps/upstream.sd7"},
		}
		b, _ := json.Marshal([]model.AssetDescriptor{descriptor})
		_, _ = w.Write(b)
	}))
	t.Cleanup(cat.Close)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	idx, err := redisindex.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisindex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	buckets := map[string]objstore.Bucket{
		"weur": objstore.NewInMemBucket(),
		"enam": objstore.NewInMemBucket(),
	}
	set, err := regions.NewSet([]regions.Region{
		{Name: "weur", Lat: 48.86, Lon: 2.35, Bucket: buckets["weur"]},
		{Name: "enam", Lat: 40.71, Lon: -74.01, Bucket: buckets["enam"]},
	}, 48.86, 2.35)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	geo, err := regions.NewResolver("")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	pub := &recordingPublisher{}
	svc := New(
		slog.New(slog.DiscardHandler),
		catalog.New(cat.Client(), cat.URL),
		idx,
		set,
		geo,
		pub,
		Options{AllowedCategories: []string{"map"}, SpringnameMaxLen: 100, ResponseCache: resp},
	)
	r := chi.NewRouter()
	svc.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &env{svc: svc, srv: srv, idx: idx, pub: pub, buckets: buckets, catURL: cat.URL}
}

func (e *env) seedIndex(t *testing.T, category, springname string, a model.AssetDescriptor) {
	t.Helper()
	b, _ := json.Marshal(a)
	if err := e.idx.Put(t.Context(), model.CacheKey(category, springname), b); err != nil {
		t.Fatalf("seed index: %v", err)
	}
}

func get(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestFind_RequiresParams(t *testing.T) {
	e := newEnv(t, nil)

	for _, u := range []string{
		"/find",
		"/find?category=map",
		"/find?springname=x",
	} {
		if resp := get(t, e.srv.URL+u, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status=%d want 400", u, resp.StatusCode)
		}
	}
}

func TestFind_CapsSpringnameLength(t *testing.T) {
	e := newEnv(t, nil)

	long := bytes.Repeat([]byte("a"), 101)
	resp := get(t, e.srv.URL+"/find?category=map&springname="+string(long), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", resp.StatusCode)
	}
}

func TestFind_UnknownParamIsWarningOnly(t *testing.T) {
	e := newEnv(t, nil)
	e.seedIndex(t, "map", "Aberdeen3v3v3", model.AssetDescriptor{
		Springname: "Aberdeen3v3v3", Filename: "aberdeen3v3v3.sd7", Category: "map",
		MD5: testMD5, Mirrors: []string{"file/" + testMD5 + "/aberdeen3v3v3.sd7"},
	})

	resp := get(t, e.srv.URL+"/find?category=map&springname=Aberdeen3v3v3&torrent=true", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want 200", resp.StatusCode)
	}
}

func TestFind_RedirectsNonFrontedCategory(t *testing.T) {
	e := newEnv(t, nil)

	resp := get(t, e.srv.URL+"/find?category=game&springname=BA", nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status=%d want 302", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !bytes.Contains([]byte(loc), []byte(e.catURL)) {
		t.Fatalf("Location=%q does not point at upstream", loc)
	}
}

func TestFind_HitRewritesMirrorsAbsolute(t *testing.T) {
	e := newEnv(t, nil)
	e.seedIndex(t, "map", "Aberdeen3v3v3", model.AssetDescriptor{
		Springname: "Aberdeen3v3v3", Filename: "aberdeen3v3v3.sd7", Category: "map",
		MD5: testMD5, Mirrors: []string{"file/" + testMD5 + "/aberdeen3v3v3.sd7"},
	})

	resp := get(t, e.srv.URL+"/find?category=map&springname=Aberdeen3v3v3", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want 200", resp.StatusCode)
	}
	var got []model.AssetDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(got))
	}
	want := e.srv.URL + "/file/" + testMD5 + "/aberdeen3v3v3.sd7"
	if got[0].Mirrors[0] != want {
		t.Fatalf("mirror=%q want %q", got[0].Mirrors[0], want)
	}

	e.svc.Wait()
	if n := len(e.pub.published()); n != 0 {
		t.Fatalf("hit must not schedule population, published %d", n)
	}
}

func TestFind_MissAnswersUpstreamAndSchedulesPopulation(t *testing.T) {
	e := newEnv(t, nil)

	resp := get(t, e.srv.URL+"/find?category=map&springname=Aberdeen3v3v3", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want 200", resp.StatusCode)
	}
	var got []model.AssetDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// upstream mirrors pass through untouched on a miss
	if got[0].Mirrors[0] != "http://mirror.example/maps/upstream.sd7" {
		t.Fatalf("mirror=%q", got[0].Mirrors[0])
	}

	e.svc.Wait()
	pubs := e.pub.published()
	if len(pubs) != 1 {
		t.Fatalf("published %d sync requests, want 1", len(pubs))
	}
	if pubs[0].Category != "map" || pubs[0].Springname != "Aberdeen3v3v3" {
		t.Fatalf("published %+v", pubs[0])
	}
}

func TestFind_PublishFailureDoesNotAffectResponse(t *testing.T) {
	e := newEnv(t, nil)
	e.pub.fail = true

	resp := get(t, e.srv.URL+"/find?category=map&springname=Aberdeen3v3v3", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want 200", resp.StatusCode)
	}
	e.svc.Wait()
}

func TestFile_RejectsMalformedPaths(t *testing.T) {
	e := newEnv(t, nil)

	cases := []struct {
		url  string
		want int
	}{
		{"/file/nothex/map.sd7", http.StatusBadRequest},
		{"/file/" + testMD5[:10] + "/map.sd7", http.StatusBadRequest},
		{"/file/" + testMD5, http.StatusNotFound},              // missing segment, no route
		{"/file/" + testMD5 + "/a/b", http.StatusNotFound},     // extra segment, no route
		{"/file/" + testMD5 + "/map.sd7", http.StatusNotFound}, // well-formed but absent
	}
	for _, c := range cases {
		if resp := get(t, e.srv.URL+c.url, nil); resp.StatusCode != c.want {
			t.Errorf("%s: status=%d want %d", c.url, resp.StatusCode, c.want)
		}
	}
}

func TestFile_ServesWithImmutableHeaders(t *testing.T) {
	e := newEnv(t, nil)
	content := []byte("map archive bytes")
	for _, b := range e.buckets {
		if err := b.Upload(t.Context(), testMD5, bytes.NewReader(content)); err != nil {
			t.Fatalf("seed bucket: %v", err)
		}
	}

	resp := get(t, e.srv.URL+"/file/"+testMD5+"/aberdeen3v3v3.sd7", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("ETag"); got != `"`+testMD5+`"` {
		t.Errorf("ETag=%q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=31536000, immutable" {
		t.Errorf("Cache-Control=%q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, content) {
		t.Fatalf("body=%q want %q", body, content)
	}
}

func TestFile_RegionOverride(t *testing.T) {
	e := newEnv(t, nil)
	// only enam holds the content; without the override the default
	// coordinate routes to weur and misses
	if err := e.buckets["enam"].Upload(t.Context(), testMD5, bytes.NewReader([]byte("enam bytes"))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	url := e.srv.URL + "/file/" + testMD5 + "/map.sd7"
	if resp := get(t, url, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("default route: status=%d want 404", resp.StatusCode)
	}
	resp := get(t, url, map[string]string{regions.OverrideHeader: "enam"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("override route: status=%d want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "enam bytes" {
		t.Fatalf("body=%q", body)
	}
}

func TestFile_ResponseCacheAndNoCacheBypass(t *testing.T) {
	cache := respcache.New(16, 1<<20)
	e := newEnv(t, cache)
	content := []byte("cached once")
	for _, b := range e.buckets {
		if err := b.Upload(t.Context(), testMD5, bytes.NewReader(content)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	url := e.srv.URL + "/file/" + testMD5 + "/map.sd7"

	// first read fills the cache
	if resp := get(t, url, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	// delete from every bucket: a second read can only be served from memory
	for _, b := range e.buckets {
		if err := b.Delete(t.Context(), testMD5); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	resp := get(t, url, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("memory read: status=%d want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, content) {
		t.Fatalf("body=%q", body)
	}

	// no-cache skips the memory copy and hits the (now empty) store
	resp = get(t, url, map[string]string{"Cache-Control": "no-cache"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("no-cache read: status=%d want 404", resp.StatusCode)
	}
}

func TestFile_OversizedObjectIsStreamedNotCached(t *testing.T) {
	cache := respcache.New(16, 8) // cap below the object size
	e := newEnv(t, cache)
	content := []byte("larger than eight bytes")
	for _, b := range e.buckets {
		if err := b.Upload(t.Context(), testMD5, bytes.NewReader(content)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	url := e.srv.URL + "/file/" + testMD5 + "/map.sd7"

	resp := get(t, url, nil)
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, content) {
		t.Fatalf("body=%q", body)
	}
	if _, ok := cache.Get(model.ContentPath(testMD5, "map.sd7")); ok {
		t.Fatalf("oversized object must not be cached")
	}
}
