package perf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/telemetry"
)

func TestTrack_PropagatesError(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop(), nil)

	want := errors.New("boom")
	got := tr.Track(context.Background(), OpAnalyzeRisk, func(context.Context) error {
		return want
	})
	assert.ErrorIs(t, got, want)
}

func TestTrack_BudgetBreachRecorded(t *testing.T) {
	sink := telemetry.NewSink(zap.NewNop())
	defer sink.Close()

	tr := NewTracker(map[string]int64{OpListSnapshots: 1}, zap.NewNop(), sink)

	err := tr.Track(context.Background(), OpListSnapshots, func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		sink.Counter(telemetry.EventPerfBudgetBreach, OpListSnapshots)))
}

func TestNewTracker_Overrides(t *testing.T) {
	tr := NewTracker(map[string]int64{OpAnalyzeRisk: 250, "custom_op": 100}, zap.NewNop(), nil)

	assert.Equal(t, 250*time.Millisecond, tr.Budget(OpAnalyzeRisk))
	assert.Equal(t, 100*time.Millisecond, tr.Budget("custom_op"))
	assert.Equal(t, time.Second, tr.Budget(OpCheckDependencies))
}
