// Package router decides per call whether analysis runs locally or against
// the hosted service.
package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/analyzer"
	"github.com/snapback-dev/snapback-go/internal/auth"
	"github.com/snapback-dev/snapback-go/internal/config"
	"github.com/snapback-dev/snapback-go/internal/telemetry"
)

// upgradeRecommendation is appended to every free-tier result.
const upgradeRecommendation = "Upgrade to a Pro subscription for ML-backed analysis: https://snapback.dev/upgrade"

// Backend is the hosted analysis surface the router may delegate to.
type Backend interface {
	Analyze(ctx context.Context, code string, userContext map[string]string) (*analyzer.Result, error)
}

// Router routes analyze calls between the local facade and the hosted
// backend, honoring tier, the ml-detection kill switch, and breaker state.
type Router struct {
	local   *analyzer.Facade
	backend Backend
	flags   *config.FlagStore
	logger  *zap.Logger
	sink    *telemetry.Sink
}

func New(local *analyzer.Facade, backend Backend, flags *config.FlagStore, logger *zap.Logger, sink *telemetry.Sink) *Router {
	return &Router{local: local, backend: backend, flags: flags, logger: logger, sink: sink}
}

// Request carries one analyze call through the router.
type Request struct {
	Code        string
	Metadata    *analyzer.Metadata
	UserContext map[string]string
	Tier        auth.Tier
}

// Analyze applies the routing decision tree, first match wins:
//
//  1. free tier: local analyzer, upgrade prompt attached.
//  2. backend present and ml-detection not explicitly off: hosted backend
//     through the breaker, local fallback on any failure.
//  3. local analyzer.
func (r *Router) Analyze(ctx context.Context, req Request) analyzer.Result {
	if req.Tier == auth.TierFree {
		result := r.local.Analyze(req.Code, req.Metadata)
		result.UpgradePrompt = true
		result.Recommendations = append(result.Recommendations, upgradeRecommendation)
		return result
	}

	if r.backend != nil && r.mlDetectionEnabled() {
		result, err := r.backend.Analyze(ctx, req.Code, req.UserContext)
		if err == nil {
			return *result
		}
		r.logger.Warn("hosted analysis failed, falling back to local analyzer",
			zap.Error(err))
		if r.sink != nil {
			r.sink.Record(telemetry.Event{
				Kind:   telemetry.EventUpstreamFallback,
				Reason: "backend_error",
			})
		}
	}

	return r.local.Analyze(req.Code, req.Metadata)
}

func (r *Router) mlDetectionEnabled() bool {
	if r.flags == nil {
		return true
	}
	return r.flags.Snapshot().Enabled(config.FlagMLDetection)
}
