package analyzer

import (
	"regexp"
	"strings"
)

type dangerousPattern struct {
	name     string
	re       *regexp.Regexp
	severity Severity
	message  string
}

var dangerousPatterns = []dangerousPattern{
	{
		name:     "eval",
		re:       regexp.MustCompile(`\beval\s*\(`),
		severity: SeverityHigh,
		message:  "eval executes arbitrary strings as code",
	},
	{
		name:     "function_constructor",
		re:       regexp.MustCompile(`\bnew\s+Function\s*\(`),
		severity: SeverityHigh,
		message:  "Function constructor executes arbitrary strings as code",
	},
	{
		name:     "child_process",
		re:       regexp.MustCompile(`\b(?:child_process|execSync|spawnSync|subprocess\.(?:run|call|Popen)|os\.system)\b`),
		severity: SeverityHigh,
		message:  "subprocess execution from application code",
	},
	{
		name:     "spawn_exec",
		re:       regexp.MustCompile(`\b(?:spawn|exec|execFile)\s*\(`),
		severity: SeverityMedium,
		message:  "process spawn call; verify the command and its arguments are trusted",
	},
	{
		name:     "vm_module",
		re:       regexp.MustCompile(`\bvm\.(?:runInContext|runInNewContext|runInThisContext|compileFunction)\s*\(`),
		severity: SeverityHigh,
		message:  "vm primitives execute dynamically built code",
	},
	{
		name:     "dynamic_require",
		re:       regexp.MustCompile(`\brequire\s*\(\s*[^'")]`),
		severity: SeverityMedium,
		message:  "dynamic require with a non-literal module path",
	},
	{
		name:     "deserialization",
		re:       regexp.MustCompile(`\b(?:pickle\.loads|yaml\.load\s*\((?:[^)]*Loader\s*=\s*yaml\.Loader|[^L)]*\))|Marshal\.load)\b`),
		severity: SeverityHigh,
		message:  "unsafe deserialization of untrusted data",
	},
}

// DangerousAPIDetector flags code-execution and process-control primitives.
type DangerousAPIDetector struct{}

func NewDangerousAPIDetector() *DangerousAPIDetector { return &DangerousAPIDetector{} }

func (d *DangerousAPIDetector) Name() string { return "dangerous_api" }

func (d *DangerousAPIDetector) Detect(content string, meta *Metadata) Detection {
	det := Detection{Severity: SeverityLow}

	for lineNo, line := range strings.Split(content, "\n") {
		lineNum := lineNo + 1
		if !meta.InChangedLines(lineNum) || isCommentLine(line) {
			continue
		}
		for _, p := range dangerousPatterns {
			if !p.re.MatchString(line) {
				continue
			}
			det.Severity = MaxSeverity(det.Severity, p.severity)
			score := 0.6
			if p.severity == SeverityHigh {
				score = 0.85
			}
			if score > det.Score {
				det.Score = score
			}
			det.Issues = append(det.Issues, Issue{
				Type:     "dangerous_api",
				Severity: p.severity,
				Message:  p.message,
				Pattern:  p.name,
				Line:     lineNum,
			})
			det.Factors = append(det.Factors, "dangerous API: "+p.name)
		}
	}

	if len(det.Issues) > 0 {
		det.Recommendations = append(det.Recommendations,
			"Avoid dynamic code execution; prefer explicit, parameterized calls")
	}
	return det
}
