package docs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage
	puts    atomic.Int64
	failing bool
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]json.RawMessage{}}
}

func (c *memCache) Get(key string) (json.RawMessage, error) {
	if c.failing {
		return nil, assert.AnError
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *memCache) Put(key string, payload json.RawMessage, _ time.Duration) error {
	if c.failing {
		return assert.AnError
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts.Add(1)
	c.entries[key] = payload
	return nil
}

func (c *memCache) Cleanup() (int, error) { return 0, nil }

func newTestProxy(t *testing.T, upstream http.HandlerFunc, cache Cache) *Proxy {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)
	p := NewProxy(srv.URL, "doc-key", cache, time.Hour, time.Hour, zap.NewNop())
	t.Cleanup(p.Close)
	return p
}

func TestResolveLibraryID_SecondCallServedFromCache(t *testing.T) {
	var calls atomic.Int64
	p := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"libraryId":"/facebook/react"}`))
	}, newMemCache())

	first, err := p.ResolveLibraryID(context.Background(), "react")
	require.NoError(t, err)
	second, err := p.ResolveLibraryID(context.Background(), "react")
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, int64(1), calls.Load(), "cache hit must not reach the remote")
}

func TestGetLibraryDocs_CacheKeyIncludesTopicAndTokens(t *testing.T) {
	var calls atomic.Int64
	p := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"docs":"..."}`))
	}, newMemCache())

	_, err := p.GetLibraryDocs(context.Background(), "/facebook/react", DocsOptions{Topic: "hooks"})
	require.NoError(t, err)
	_, err = p.GetLibraryDocs(context.Background(), "/facebook/react", DocsOptions{Topic: "routing"})
	require.NoError(t, err)
	_, err = p.GetLibraryDocs(context.Background(), "/facebook/react", DocsOptions{Topic: "hooks", Tokens: 500})
	require.NoError(t, err)
	_, err = p.GetLibraryDocs(context.Background(), "/facebook/react", DocsOptions{Topic: "hooks"})
	require.NoError(t, err)

	assert.Equal(t, int64(3), calls.Load(), "distinct topic/tokens are distinct cache entries")
}

func TestFetch_AuthStatusNotRetried(t *testing.T) {
	var calls atomic.Int64
	p := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, newMemCache())

	_, err := p.ResolveLibraryID(context.Background(), "react")
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetch_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int64
	p := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"libraryId":"/facebook/react"}`))
	}, newMemCache())

	out, err := p.ResolveLibraryID(context.Background(), "react")
	require.NoError(t, err)
	assert.JSONEq(t, `{"libraryId":"/facebook/react"}`, string(out))
	assert.Equal(t, int64(2), calls.Load())
}

func TestCacheFailureNeverFailsTheCall(t *testing.T) {
	cache := newMemCache()
	cache.failing = true
	p := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"libraryId":"/x/y"}`))
	}, cache)

	out, err := p.ResolveLibraryID(context.Background(), "y")
	require.NoError(t, err)
	assert.JSONEq(t, `{"libraryId":"/x/y"}`, string(out))
}

func TestValidationOfRequiredArguments(t *testing.T) {
	p := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {}, newMemCache())

	_, err := p.ResolveLibraryID(context.Background(), "")
	assert.Error(t, err)
	_, err = p.GetLibraryDocs(context.Background(), "", DocsOptions{})
	assert.Error(t, err)
}
