package perf

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/telemetry"
)

// Operation names with a declared budget.
const (
	OpAnalyzeRisk       = "analyze_risk"
	OpCheckDependencies = "check_dependencies"
	OpCreateSnapshot    = "create_snapshot"
	OpListSnapshots     = "list_snapshots"
	OpRestoreSnapshot   = "restore_snapshot"
	OpResolveLibrary    = "resolve_library_id"
	OpGetLibraryDocs    = "get_library_docs"
)

// defaultBudgets are operational thresholds in one table; breaches are
// warnings, never failures.
var defaultBudgets = map[string]time.Duration{
	OpAnalyzeRisk:       2 * time.Second,
	OpCheckDependencies: time.Second,
	OpCreateSnapshot:    5 * time.Second,
	OpListSnapshots:     500 * time.Millisecond,
	OpRestoreSnapshot:   10 * time.Second,
	OpResolveLibrary:    5 * time.Second,
	OpGetLibraryDocs:    10 * time.Second,
}

// Tracker times named operations against their budgets.
type Tracker struct {
	budgets map[string]time.Duration
	logger  *zap.Logger
	sink    *telemetry.Sink
}

// NewTracker builds a tracker. overridesMS replaces individual budgets;
// unknown names add new entries.
func NewTracker(overridesMS map[string]int64, logger *zap.Logger, sink *telemetry.Sink) *Tracker {
	budgets := make(map[string]time.Duration, len(defaultBudgets))
	for name, budget := range defaultBudgets {
		budgets[name] = budget
	}
	for name, ms := range overridesMS {
		if ms > 0 {
			budgets[name] = time.Duration(ms) * time.Millisecond
		}
	}
	return &Tracker{budgets: budgets, logger: logger, sink: sink}
}

// Budget returns the declared budget for an operation, or zero when none is
// declared.
func (t *Tracker) Budget(name string) time.Duration {
	return t.budgets[name]
}

// Track runs fn, logs one line with the elapsed wall clock, and warns when
// the operation overran its budget.
func (t *Tracker) Track(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	budget := t.budgets[name]
	if budget > 0 && elapsed > budget {
		t.logger.Warn("operation exceeded budget",
			zap.String("operation", name),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", budget))
		if t.sink != nil {
			t.sink.Record(telemetry.Event{
				Kind:   telemetry.EventPerfBudgetBreach,
				Reason: name,
			})
		}
	} else {
		t.logger.Debug("operation completed",
			zap.String("operation", name),
			zap.Duration("elapsed", elapsed))
	}
	return err
}
