package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/analyzer"
	"github.com/snapback-dev/snapback-go/internal/resilience"
)

func testPipeline() *resilience.Pipeline {
	return resilience.NewPipeline("upstream-test", resilience.Options{
		Timeout:   2 * time.Second,
		RetryBase: time.Millisecond,
		RetryCap:  5 * time.Millisecond,
	}, zap.NewNop())
}

func TestAnalyze_MapsResponseAndAttachesBearer(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"riskLevel":      "critical",
			"confidence":     1.4,
			"issues":         []map[string]any{{"type": "secret", "severity": "high", "message": "m"}},
			"analysisTimeMs": 12,
		})
	}))
	defer srv.Close()

	client := NewAnalyzeClient(srv.URL, "k-123456", testPipeline(), zap.NewNop())
	result, err := client.Analyze(context.Background(), "code", nil)
	require.NoError(t, err)

	assert.Equal(t, "Bearer k-123456", gotAuth.Load())
	assert.Equal(t, analyzer.RiskHigh, result.RiskLevel, "critical maps to high")
	assert.Equal(t, 1.0, result.Confidence, "confidence is clamped")
	assert.False(t, result.UpgradePrompt)
	assert.Len(t, result.Issues, 1)
}

func TestAnalyze_BadShapeIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"riskLevel": "extreme"})
	}))
	defer srv.Close()

	client := NewAnalyzeClient(srv.URL, "k", testPipeline(), zap.NewNop())
	_, err := client.Analyze(context.Background(), "code", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "riskLevel")
	assert.Equal(t, int64(1), calls.Load(), "schema violations must not be retried")
}

func TestAnalyze_ClientErrorStatusIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewAnalyzeClient(srv.URL, "k", testPipeline(), zap.NewNop())
	_, err := client.Analyze(context.Background(), "code", nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestAnalyze_ServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"riskLevel": "safe", "confidence": 0.2})
	}))
	defer srv.Close()

	client := NewAnalyzeClient(srv.URL, "k", testPipeline(), zap.NewNop())
	result, err := client.Analyze(context.Background(), "code", nil)
	require.NoError(t, err)
	assert.Equal(t, analyzer.RiskLow, result.RiskLevel)
	assert.Equal(t, int64(3), calls.Load())
}
