package analyzer

import (
	"regexp"
	"strings"
)

// secretPattern is a provider-specific key shape.
type secretPattern struct {
	name     string
	re       *regexp.Regexp
	severity Severity
}

var secretPatterns = []secretPattern{
	{"aws_access_key", regexp.MustCompile(`AKIA[A-Z0-9]{16}`), SeverityHigh},
	{"jwt_token", regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`), SeverityHigh},
	{"github_token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`), SeverityHigh},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`), SeverityHigh},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`), SeverityCritical},
	{"generic_api_key", regexp.MustCompile(`(?i)(api[_-]?key|secret|token|passwd|password)\s*[:=]\s*['"][^'"]{8,}['"]`), SeverityMedium},
}

// placeholderMarkers identify template values that are not real secrets.
var placeholderMarkers = []string{
	"xxxx", "your_key_here", "your-key-here", "your_api_key", "example",
	"sample", "placeholder", "changeme", "change-me", "<", "${", "%s",
	"insert_", "dummy", "test_key", "redacted",
}

func isPlaceholder(s string) bool {
	lowered := strings.ToLower(s)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// SecretsDetector flags provider-shaped credentials and high-entropy tokens.
type SecretsDetector struct{}

func NewSecretsDetector() *SecretsDetector { return &SecretsDetector{} }

func (d *SecretsDetector) Name() string { return "secrets" }

func (d *SecretsDetector) Detect(content string, meta *Metadata) Detection {
	det := Detection{Severity: SeverityLow}

	for lineNo, line := range strings.Split(content, "\n") {
		lineNum := lineNo + 1
		if !meta.InChangedLines(lineNum) || isCommentLine(line) {
			continue
		}

		matchedPattern := false
		for _, p := range secretPatterns {
			match := p.re.FindString(line)
			if match == "" || isPlaceholder(match) {
				continue
			}
			matchedPattern = true
			det.Severity = MaxSeverity(det.Severity, p.severity)
			if det.Score < 0.9 {
				det.Score = 0.9
			}
			det.Issues = append(det.Issues, Issue{
				Type:     "secret",
				Severity: p.severity,
				Message:  "potential hardcoded credential detected",
				Pattern:  p.name,
				Line:     lineNum,
			})
			det.Factors = append(det.Factors, "hardcoded credential: "+p.name)
		}

		if matchedPattern {
			continue
		}

		for _, token := range highEntropyTokens(line) {
			if isPlaceholder(token) {
				continue
			}
			// Require an assignment-like context so minified identifiers
			// and import paths do not fire.
			if !strings.ContainsAny(line, "=:") {
				continue
			}
			det.Severity = MaxSeverity(det.Severity, SeverityHigh)
			if det.Score < 0.7 {
				det.Score = 0.7
			}
			det.Issues = append(det.Issues, Issue{
				Type:     "secret",
				Severity: SeverityHigh,
				Message:  "high-entropy token assigned to a variable",
				Pattern:  "high_entropy",
				Line:     lineNum,
			})
			det.Factors = append(det.Factors, "high-entropy token in assignment")
			break // one entropy finding per line is enough
		}
	}

	if len(det.Issues) > 0 {
		det.Recommendations = append(det.Recommendations,
			"Move credentials to environment variables or a secret manager")
	}
	return det
}
