package httpcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FetchError reports a non-2xx response from the origin.
type FetchError struct {
	Status int
	URL    string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// NetworkError reports a transport-level failure reaching the origin.
type NetworkError struct {
	URL    string
	Reason string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: network error: %s", e.URL, e.Reason)
}

// Fetcher resolves judge input URLs through an on-disk cache, honoring
// Cache-Control max-age/immutable/no-store.
type Fetcher struct {
	Client *http.Client
	Store  Store
}

// NewFetcher returns a Fetcher with a bounded-timeout HTTP client (HTTP
// fetches must have a finite timeout) backed by store.
func NewFetcher(store Store) *Fetcher {
	return &Fetcher{
		Client: &http.Client{Timeout: 20 * time.Second},
		Store:  store,
	}
}

// Fetch returns the body for url, reusing a fresh cache entry when present
// and refetching otherwise. A stale entry is unconditionally refetched
// (rather than conditionally revalidated with If-None-Match/If-Modified-
// Since) — a valid resolution of the spec's "revalidated or refetched"
// choice, simpler and sufficient since judge inputs are small.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if body, entry, ok, err := f.Store.Get(url); err == nil && ok {
		if entry.Fresh(time.Now()) {
			return body, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Reason: err.Error()}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Status: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: url, Reason: err.Error()}
	}

	directives := parseCacheControl(resp.Header.Get("Cache-Control"))
	if directives.noStore {
		return body, nil
	}

	entry := &Entry{
		FetchedAt:    time.Now(),
		MaxAge:       directives.maxAge,
		HasMaxAge:    directives.hasMaxAge,
		Immutable:    directives.immutable,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if err := f.Store.Put(url, body, entry); err != nil {
		return nil, fmt.Errorf("httpcache: cache write: %w", err)
	}
	return body, nil
}

type cacheDirectives struct {
	noStore   bool
	immutable bool
	maxAge    time.Duration
	hasMaxAge bool
}

// parseCacheControl reads the subset of RFC 9111 this cache honors:
// no-store, max-age=N, immutable. Unknown directives are ignored.
func parseCacheControl(header string) cacheDirectives {
	var d cacheDirectives
	if header == "" {
		return d
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.EqualFold(part, "no-store"):
			d.noStore = true
		case strings.EqualFold(part, "immutable"):
			d.immutable = true
		case strings.HasPrefix(strings.ToLower(part), "max-age="):
			val := strings.TrimPrefix(strings.ToLower(part), "max-age=")
			if seconds, err := strconv.Atoi(val); err == nil && seconds >= 0 {
				d.maxAge = time.Duration(seconds) * time.Second
				d.hasMaxAge = true
			}
		}
	}
	return d
}
