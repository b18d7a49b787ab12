// Package docs proxies library documentation lookups to the hosted docs
// service, fronted by the workspace TTL cache.
package docs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	maxAttempts    = 3
	retryBase      = time.Second
	retryCap       = 10 * time.Second
	maxBodySize    = 4 << 20
	cleanupEvery   = 10 * time.Minute
	resolvePath    = "/v1/resolve"
	libraryDocPath = "/v1/docs"
)

// Cache is the storage surface the proxy needs.
type Cache interface {
	Get(key string) (json.RawMessage, error)
	Put(key string, payload json.RawMessage, ttl time.Duration) error
	Cleanup() (int, error)
}

// Proxy resolves library names and fetches docs, caching successful
// responses. Cache failures are logged and never fail the call.
type Proxy struct {
	baseURL   string
	apiKey    string
	http      *http.Client
	cache     Cache
	searchTTL time.Duration
	docsTTL   time.Duration
	logger    *zap.Logger
	done      chan struct{}
}

func NewProxy(baseURL, apiKey string, cache Cache, searchTTL, docsTTL time.Duration, logger *zap.Logger) *Proxy {
	p := &Proxy{
		baseURL:   baseURL,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 15 * time.Second},
		cache:     cache,
		searchTTL: searchTTL,
		docsTTL:   docsTTL,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go p.cleanupLoop()
	return p
}

// Close stops the cache cleanup loop.
func (p *Proxy) Close() {
	close(p.done)
}

// ResolveLibraryID maps a human library name to a canonical library id.
func (p *Proxy) ResolveLibraryID(ctx context.Context, libraryName string) (json.RawMessage, error) {
	if libraryName == "" {
		return nil, fmt.Errorf("libraryName is required")
	}
	key := "search:" + url.QueryEscape(libraryName)
	return p.cached(ctx, key, p.searchTTL, func(ctx context.Context) (json.RawMessage, error) {
		u := p.baseURL + resolvePath + "?name=" + url.QueryEscape(libraryName)
		return p.fetch(ctx, u)
	})
}

// DocsOptions narrow a GetLibraryDocs call.
type DocsOptions struct {
	Topic  string
	Tokens int
}

// GetLibraryDocs fetches documentation for a resolved library id.
func (p *Proxy) GetLibraryDocs(ctx context.Context, libraryID string, opts DocsOptions) (json.RawMessage, error) {
	if libraryID == "" {
		return nil, fmt.Errorf("libraryId is required")
	}
	key := "docs:" + url.QueryEscape(libraryID)
	if opts.Topic != "" {
		key += ":" + url.QueryEscape(opts.Topic)
	}
	if opts.Tokens > 0 {
		key += ":" + strconv.Itoa(opts.Tokens)
	}
	return p.cached(ctx, key, p.docsTTL, func(ctx context.Context) (json.RawMessage, error) {
		q := url.Values{"library": {libraryID}}
		if opts.Topic != "" {
			q.Set("topic", opts.Topic)
		}
		if opts.Tokens > 0 {
			q.Set("tokens", strconv.Itoa(opts.Tokens))
		}
		return p.fetch(ctx, p.baseURL+libraryDocPath+"?"+q.Encode())
	})
}

func (p *Proxy) cached(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if hit, err := p.cache.Get(key); err != nil {
		p.logger.Warn("doc cache read failed", zap.Error(err))
	} else if hit != nil {
		return hit, nil
	}

	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Put(key, payload, ttl); err != nil {
		p.logger.Warn("doc cache write failed", zap.Error(err))
	}
	return payload, nil
}

// fetch GETs the URL with bounded retry: up to maxAttempts, exponential
// backoff with jitter, retry only on transport errors and 5xx. 401, 403, 404,
// and 429 abort immediately.
func (p *Proxy) fetch(ctx context.Context, rawURL string) (json.RawMessage, error) {
	var lastErr error
	backoff := retryBase
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		payload, retryable, err := p.fetchOnce(ctx, rawURL)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !retryable || attempt == maxAttempts {
			break
		}
		sleep := time.Duration(rand.Int63n(int64(backoff) + 1))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
		if backoff > retryCap {
			backoff = retryCap
		}
	}
	return nil, lastErr
}

func (p *Proxy) fetchOnce(ctx context.Context, rawURL string) (json.RawMessage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if !json.Valid(body) {
			return nil, false, fmt.Errorf("docs service returned invalid JSON")
		}
		return json.RawMessage(body), false, nil
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, false, fmt.Errorf("docs service status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("docs service status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("docs service status %d", resp.StatusCode)
	}
}

func (p *Proxy) cleanupLoop() {
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if _, err := p.cache.Cleanup(); err != nil {
				p.logger.Warn("doc cache cleanup failed", zap.Error(err))
			}
		}
	}
}
