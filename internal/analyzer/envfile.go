package analyzer

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Env var names that carry configuration rather than secrets.
var envAllowlist = map[string]bool{
	"NODE_ENV":  true,
	"PORT":      true,
	"HOST":      true,
	"LOG_LEVEL": true,
}

var envAssignment = regexp.MustCompile(`^\s*(?:export\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.*)$`)

// EnvFileDetector inspects dotenv-style files for committed secrets and unsafe
// development settings. It only fires when Metadata names a .env-style file;
// template files (.env.example, .env.sample) are exempt.
type EnvFileDetector struct{}

func NewEnvFileDetector() *EnvFileDetector { return &EnvFileDetector{} }

func (d *EnvFileDetector) Name() string { return "env_file" }

func isEnvFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if !strings.HasPrefix(base, ".env") {
		return false
	}
	return base != ".env.example" && base != ".env.sample"
}

func isVariableRef(value string) bool {
	return strings.HasPrefix(value, "$") || strings.Contains(value, "${")
}

func (d *EnvFileDetector) Detect(content string, meta *Metadata) Detection {
	det := Detection{Severity: SeverityLow}
	if meta == nil || !isEnvFile(meta.FilePath) {
		return det
	}

	for lineNo, line := range strings.Split(content, "\n") {
		lineNum := lineNo + 1
		if !meta.InChangedLines(lineNum) || isCommentLine(line) {
			continue
		}
		m := envAssignment.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, value := m[1], strings.Trim(strings.TrimSpace(m[2]), `"'`)
		if value == "" {
			continue
		}

		settingFlag := true
		switch {
		case strings.EqualFold(name, "DEBUG") && strings.EqualFold(value, "true"):
			det.addEnvIssue(SeverityMedium, "DEBUG enabled in committed env file", "debug_enabled", lineNum)
		case strings.EqualFold(name, "NODE_ENV") && strings.EqualFold(value, "development"):
			det.addEnvIssue(SeverityMedium, "NODE_ENV set to development in committed env file", "dev_mode", lineNum)
		case strings.Contains(strings.ToUpper(name), "SSL") && strings.EqualFold(value, "false"):
			det.addEnvIssue(SeverityMedium, "SSL verification disabled", "ssl_disabled", lineNum)
		case strings.EqualFold(name, "LOG_LEVEL") && (strings.EqualFold(value, "debug") || strings.EqualFold(value, "trace")):
			det.addEnvIssue(SeverityLow, "verbose log level in committed env file", "verbose_logging", lineNum)
		default:
			settingFlag = false
		}
		if settingFlag {
			continue
		}

		if envAllowlist[strings.ToUpper(name)] {
			continue
		}
		if isPlaceholder(value) || isVariableRef(value) {
			continue
		}
		// Any remaining assignment is a committed value; entropy only decides
		// how loud the finding is.
		sev := SeverityMedium
		if len(value) >= minSecretLength && ShannonEntropy(value) >= entropyThreshold {
			sev = SeverityHigh
		}
		det.addEnvIssue(sev, "possible secret value committed in env file", "env_secret", lineNum)
	}

	if len(det.Issues) > 0 {
		det.Recommendations = append(det.Recommendations,
			"Keep real env files out of version control; commit a .env.example template instead")
	}
	return det
}

func (det *Detection) addEnvIssue(sev Severity, message, pattern string, line int) {
	det.Severity = MaxSeverity(det.Severity, sev)
	score := 0.5
	if sev == SeverityHigh {
		score = 0.8
	}
	if score > det.Score {
		det.Score = score
	}
	det.Issues = append(det.Issues, Issue{
		Type:     "env_file",
		Severity: sev,
		Message:  message,
		Pattern:  pattern,
		Line:     line,
	})
	det.Factors = append(det.Factors, "env file: "+pattern)
}
