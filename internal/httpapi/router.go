// Package httpapi is the HTTP+SSE transport: it mounts the MCP streamable
// endpoint behind the middleware stack and serves the operational probes.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/config"
)

// Version is the reported semver; overridden at link time on release builds.
var Version = "1.0.0"

// HealthProber reports per-dependency health for /health.
type HealthProber interface {
	Probes() map[string]string
}

// Options wire the transport.
type Options struct {
	Config *config.Config
	MCP    *mcpserver.MCPServer
	Prober HealthProber
	Logger *zap.Logger
}

// NewRouter builds the chi router with the full middleware stack and the
// /mcp, /health, and /version endpoints.
func NewRouter(opts Options) chi.Router {
	cfg := opts.Config
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "X-API-Key", "Content-Type", "Mcp-Session-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(newRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax).middleware)
	r.Use(bodyLimits(cfg.MaxBodyBytes))
	r.Use(authenticate(cfg, opts.Logger))

	streamable := mcpserver.NewStreamableHTTPServer(opts.MCP)
	r.Handle("/mcp", streamable)
	r.Handle("/mcp/*", streamable)

	r.Get("/health", healthHandler(opts.Prober))
	r.Get("/version", versionHandler())

	return r
}

func healthHandler(prober HealthProber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probes := map[string]string{}
		if prober != nil {
			probes = prober.Probes()
		}
		status := "ok"
		code := http.StatusOK
		for key, state := range probes {
			// Keys ending in _at carry timestamps, not states.
			if strings.HasSuffix(key, "_at") {
				continue
			}
			if state != "ok" && state != "closed" {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"probes": probes,
		})
	}
}

func versionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name":    "snapback",
			"version": Version,
		})
	}
}
