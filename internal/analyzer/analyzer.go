// Package analyzer provides the local risk analysis facade and its pluggable
// detectors. Detectors are pure functions of their input: no I/O, no clock
// reads. The facade owns sequencing and merging.
package analyzer

import (
	"strings"
	"time"
)

// Severity levels, ordered low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// RiskLevel is the caller-facing bucket.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// MapUpstreamRisk maps the upstream service's risk vocabulary onto the local
// one. Unknown values map to none.
func MapUpstreamRisk(s string) RiskLevel {
	switch s {
	case "safe", "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high", "critical":
		return RiskHigh
	default:
		return RiskNone
	}
}

// riskFromSeverity buckets a merged detector severity for the caller.
func riskFromSeverity(s Severity) RiskLevel {
	switch s {
	case SeverityLow:
		return RiskLow
	case SeverityMedium:
		return RiskMedium
	case SeverityHigh, SeverityCritical:
		return RiskHigh
	default:
		return RiskNone
	}
}

// Issue is a single finding.
type Issue struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Pattern  string   `json:"pattern,omitempty"`
	Line     int      `json:"line,omitempty"`
}

// Metadata is the optional per-file context passed to detectors. ChangedLines
// holds ordered 1-based line numbers; when present, detectors restrict their
// scans to those lines.
type Metadata struct {
	FilePath     string
	ChangedLines []int
}

// InChangedLines reports whether line participates in the scan.
func (m *Metadata) InChangedLines(line int) bool {
	if m == nil || len(m.ChangedLines) == 0 {
		return true
	}
	for _, l := range m.ChangedLines {
		if l == line {
			return true
		}
	}
	return false
}

// Detection is one detector's output.
type Detection struct {
	Score           float64
	Severity        Severity
	Issues          []Issue
	Factors         []string
	Recommendations []string
}

// Detector is the plug-in contract. Implementations must be pure for a given
// input and must skip comment-only lines.
type Detector interface {
	Name() string
	Detect(content string, meta *Metadata) Detection
}

// Result is the merged analysis outcome.
type Result struct {
	RiskLevel       RiskLevel `json:"riskLevel"`
	Confidence      float64   `json:"confidence"`
	Issues          []Issue   `json:"issues"`
	ExecutionTimeMS int64     `json:"executionTimeMs"`
	UpgradePrompt   bool      `json:"upgradePrompt"`
	Recommendations []string  `json:"recommendations"`
}

// Facade sequences a fixed, ordered detector set and merges their outputs.
type Facade struct {
	detectors []Detector
}

// NewFacade builds a facade over the given detectors, run in order.
func NewFacade(detectors ...Detector) *Facade {
	return &Facade{detectors: detectors}
}

// DefaultFacade ships the baseline detector set. vulnDB may be nil, which
// disables advisory lookups in the dependency detector.
func DefaultFacade(vulnDB *VulnDB) *Facade {
	return NewFacade(
		NewSecretsDetector(),
		NewDangerousAPIDetector(),
		NewEnvFileDetector(),
		NewDependencyDetector(vulnDB),
	)
}

// Analyze runs every detector over content and merges per the fixed rule:
// severity and score are the maxima, factors and recommendations concatenate
// in detector order with string-identity dedup.
func (f *Facade) Analyze(content string, meta *Metadata) Result {
	start := time.Now()

	merged := Detection{Severity: SeverityLow}
	seenFactor := map[string]bool{}
	seenRec := map[string]bool{}
	any := false

	for _, d := range f.detectors {
		det := d.Detect(content, meta)
		if len(det.Issues) == 0 && det.Score == 0 {
			continue
		}
		any = true
		merged.Severity = MaxSeverity(merged.Severity, det.Severity)
		if det.Score > merged.Score {
			merged.Score = det.Score
		}
		merged.Issues = append(merged.Issues, det.Issues...)
		for _, f := range det.Factors {
			if !seenFactor[f] {
				seenFactor[f] = true
				merged.Factors = append(merged.Factors, f)
			}
		}
		for _, r := range det.Recommendations {
			if !seenRec[r] {
				seenRec[r] = true
				merged.Recommendations = append(merged.Recommendations, r)
			}
		}
	}

	result := Result{
		RiskLevel:       RiskNone,
		Confidence:      clampConfidence(merged.Score),
		Issues:          merged.Issues,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		Recommendations: merged.Recommendations,
	}
	if any {
		result.RiskLevel = riskFromSeverity(merged.Severity)
	}
	if result.Issues == nil {
		result.Issues = []Issue{}
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	return result
}

func clampConfidence(v float64) float64 {
	if v < 0 || v != v { // NaN guards
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// commentPrefixes are language-appropriate comment tokens. Detectors use
// isCommentLine to skip comment-only lines.
var commentPrefixes = []string{"//", "#", "/*", "*", "--", ";", "<!--"}

func isCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, prefix := range commentPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
