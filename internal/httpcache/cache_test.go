package httpcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	entry := &Entry{FetchedAt: time.Now(), MaxAge: time.Minute, HasMaxAge: true}
	if err := store.Put("https://example.test/a", []byte("hello"), entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	body, got, ok, err := store.Get("https://example.test/a")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
	if !got.HasMaxAge || got.MaxAge != time.Minute {
		t.Fatalf("unexpected entry metadata %+v", got)
	}
}

func TestFileStoreMissReturnsNotOK(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_, _, ok, err := store.Get("https://example.test/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected cache miss")
	}
}

func TestEntryFreshness(t *testing.T) {
	now := time.Now()

	fresh := &Entry{FetchedAt: now.Add(-10 * time.Second), MaxAge: time.Minute, HasMaxAge: true}
	if !fresh.Fresh(now) {
		t.Fatalf("expected entry within max-age to be fresh")
	}

	stale := &Entry{FetchedAt: now.Add(-2 * time.Minute), MaxAge: time.Minute, HasMaxAge: true}
	if stale.Fresh(now) {
		t.Fatalf("expected entry past max-age to be stale")
	}

	immutable := &Entry{FetchedAt: now.Add(-24 * time.Hour), Immutable: true}
	if !immutable.Fresh(now) {
		t.Fatalf("expected immutable entry to always be fresh")
	}

	noDirective := &Entry{FetchedAt: now}
	if noDirective.Fresh(now) {
		t.Fatalf("expected entry with no max-age directive to be treated as stale")
	}
}

func TestParseCacheControl(t *testing.T) {
	d := parseCacheControl("max-age=60, immutable")
	if !d.hasMaxAge || d.maxAge != 60*time.Second || !d.immutable {
		t.Fatalf("unexpected directives: %+v", d)
	}

	d2 := parseCacheControl("no-store")
	if !d2.noStore {
		t.Fatalf("expected no-store to be recognized")
	}

	d3 := parseCacheControl("")
	if d3.hasMaxAge || d3.noStore || d3.immutable {
		t.Fatalf("expected no directives for empty header, got %+v", d3)
	}
}

func TestFetcherCachesWithinFreshnessWindow(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Cache-Control", "max-age=60")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	fetcher := NewFetcher(store)

	ctx := context.Background()
	body1, err := fetcher.Fetch(ctx, srv.URL)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	body2, err := fetcher.Fetch(ctx, srv.URL)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if string(body1) != "payload" || string(body2) != "payload" {
		t.Fatalf("unexpected bodies %q %q", body1, body2)
	}
	if atomic.LoadInt64(&hits) != 1 {
		t.Fatalf("expected exactly one network request within the freshness window, got %d", hits)
	}
}

func TestFetcherSurfacesFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	fetcher := NewFetcher(store)

	_, err = fetcher.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatalf("expected an error for a 404 response")
	}
	var fe *FetchError
	if !isFetchError(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.Status != http.StatusNotFound {
		t.Fatalf("unexpected status %d", fe.Status)
	}
}

func isFetchError(err error, target **FetchError) bool {
	if fe, ok := err.(*FetchError); ok {
		*target = fe
		return true
	}
	return false
}
