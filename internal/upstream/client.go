// Package upstream calls the hosted analysis service through the resilience
// pipeline and maps its responses onto the local result shape.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/analyzer"
	"github.com/snapback-dev/snapback-go/internal/resilience"
)

const (
	analyzePath     = "/v1/analyze"
	maxResponseSize = 4 << 20
)

// analyzeRequest is the wire request for the hosted analyzer.
type analyzeRequest struct {
	Code    string            `json:"code"`
	Context map[string]string `json:"context,omitempty"`
}

// analyzeResponse is the wire response. Shape violations are non-retryable.
type analyzeResponse struct {
	RiskLevel       string           `json:"riskLevel"`
	Confidence      float64          `json:"confidence"`
	Issues          []analyzer.Issue `json:"issues"`
	AnalysisTimeMS  int64            `json:"analysisTimeMs"`
	Recommendations []string         `json:"recommendations"`
}

var validUpstreamRisk = map[string]bool{
	"safe": true, "low": true, "medium": true, "high": true, "critical": true,
}

func (r *analyzeResponse) validate() error {
	if !validUpstreamRisk[r.RiskLevel] {
		return fmt.Errorf("upstream response: unknown riskLevel %q", r.RiskLevel)
	}
	if r.Confidence != r.Confidence {
		return fmt.Errorf("upstream response: confidence is NaN")
	}
	return nil
}

// AnalyzeClient is the HTTP client for the hosted analyzer. All calls flow
// through a resilience pipeline; the bearer credential is attached per
// request, never stored on the transport.
type AnalyzeClient struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	pipeline *resilience.Pipeline
	logger   *zap.Logger
}

func NewAnalyzeClient(baseURL, apiKey string, pipeline *resilience.Pipeline, logger *zap.Logger) *AnalyzeClient {
	return &AnalyzeClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 15 * time.Second},
		pipeline: pipeline,
		logger:   logger,
	}
}

// Analyze submits code to the hosted analyzer and maps the response onto the
// local result shape. Upstream results never carry an upgrade prompt.
func (c *AnalyzeClient) Analyze(ctx context.Context, code string, userContext map[string]string) (*analyzer.Result, error) {
	payload, err := json.Marshal(analyzeRequest{Code: code, Context: userContext})
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}

	var wire analyzeResponse
	err = c.pipeline.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, bytes.NewReader(payload))
		if err != nil {
			return resilience.NonRetryable(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500:
			return fmt.Errorf("upstream status %d", resp.StatusCode)
		default:
			return resilience.NonRetryable(fmt.Errorf("upstream status %d", resp.StatusCode))
		}

		wire = analyzeResponse{}
		if err := json.Unmarshal(body, &wire); err != nil {
			return resilience.NonRetryable(fmt.Errorf("decode upstream response: %w", err))
		}
		if err := wire.validate(); err != nil {
			return resilience.NonRetryable(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &analyzer.Result{
		RiskLevel:       analyzer.MapUpstreamRisk(wire.RiskLevel),
		Confidence:      clamp01(wire.Confidence),
		Issues:          wire.Issues,
		ExecutionTimeMS: wire.AnalysisTimeMS,
		UpgradePrompt:   false,
		Recommendations: wire.Recommendations,
	}
	if result.Issues == nil {
		result.Issues = []analyzer.Issue{}
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	return result, nil
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// State reports the breaker state for health probes.
func (c *AnalyzeClient) State() string {
	return c.pipeline.State().String()
}
