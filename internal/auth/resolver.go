package auth

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/telemetry"
)

const (
	cacheSize = 1000
	cacheTTL  = 60 * time.Second
)

// Result is the outcome of verifying a caller credential.
type Result struct {
	Valid       bool     `json:"valid"`
	Tier        Tier     `json:"tier"`
	Permissions []string `json:"permissions,omitempty"`
	UserID      string   `json:"userId,omitempty"`
	OrgID       string   `json:"orgId,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Verification is what the external identity service reports for a key.
type Verification struct {
	Valid       bool
	Plan        string
	Permissions []string
	UserID      string
	OrgID       string
}

// Verifier is the external identity service contract.
type Verifier interface {
	Verify(ctx context.Context, rawKey string) (*Verification, error)
}

// Resolver authenticates raw keys against the verifier, caching results in a
// bounded TTL'd LRU. It never returns an error: verifier failures degrade to
// an invalid free-tier result.
type Resolver struct {
	verifier Verifier
	cache    *lru.LRU[string, Result]
	logger   *zap.Logger
	sink     *telemetry.Sink
}

func NewResolver(verifier Verifier, logger *zap.Logger, sink *telemetry.Sink) *Resolver {
	return &Resolver{
		verifier: verifier,
		cache:    lru.NewLRU[string, Result](cacheSize, nil, cacheTTL),
		logger:   logger,
		sink:     sink,
	}
}

// Authenticate resolves a raw key to a Result, consulting the cache first.
func (r *Resolver) Authenticate(ctx context.Context, rawKey string) Result {
	if cached, ok := r.cache.Get(rawKey); ok {
		return cached
	}

	verification, err := r.verifier.Verify(ctx, rawKey)
	if err != nil {
		r.logger.Warn("authentication service unavailable", zap.Error(err))
		if r.sink != nil {
			r.sink.Record(telemetry.Event{
				Kind:   telemetry.EventAuthFailure,
				Reason: "verifier_unavailable",
			})
		}
		return Result{Valid: false, Tier: TierFree, Error: "authentication service unavailable"}
	}

	result := Result{
		Valid:       verification.Valid,
		Tier:        MapTier(verification.Plan),
		Permissions: verification.Permissions,
		UserID:      verification.UserID,
		OrgID:       verification.OrgID,
	}
	if !verification.Valid {
		result.Tier = TierFree
		result.Error = "invalid credential"
		if r.sink != nil {
			r.sink.Record(telemetry.Event{
				Kind:   telemetry.EventAuthFailure,
				Reason: "invalid_key",
			})
		}
	}

	r.cache.Add(rawKey, result)
	return result
}

// HasPermission reports whether the result carries a permission string.
// An empty requirement is open to any valid principal.
func HasPermission(result Result, permission string) bool {
	if permission == "" {
		return result.Valid
	}
	if !result.Valid {
		return false
	}
	for _, p := range result.Permissions {
		if p == permission {
			return true
		}
	}
	return result.Tier == TierAdmin
}
