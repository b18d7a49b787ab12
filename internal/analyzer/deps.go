package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Advisory is a single known vulnerability for a package version range.
type Advisory struct {
	ID       string  `json:"id"`
	Package  string  `json:"package"`
	Summary  string  `json:"summary"`
	CVSS     float64 `json:"cvss"`
	Versions string  `json:"versions,omitempty"`
}

// VulnDB is an in-memory advisory index keyed by package name.
type VulnDB struct {
	byPackage map[string][]Advisory
}

// NewVulnDB indexes the given advisories.
func NewVulnDB(advisories []Advisory) *VulnDB {
	db := &VulnDB{byPackage: make(map[string][]Advisory, len(advisories))}
	for _, a := range advisories {
		db.byPackage[a.Package] = append(db.byPackage[a.Package], a)
	}
	return db
}

// LoadVulnDB reads a JSON advisory fixture ([]Advisory) from disk. An empty
// path yields an empty database, which disables advisory lookups.
func LoadVulnDB(path string) (*VulnDB, error) {
	if path == "" {
		return NewVulnDB(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vulnerability database: %w", err)
	}
	var advisories []Advisory
	if err := json.Unmarshal(data, &advisories); err != nil {
		return nil, fmt.Errorf("parse vulnerability database %s: %w", filepath.Base(path), err)
	}
	return NewVulnDB(advisories), nil
}

// Lookup returns advisories for a package name, nil when none are known.
func (db *VulnDB) Lookup(pkg string) []Advisory {
	if db == nil {
		return nil
	}
	return db.byPackage[pkg]
}

// SeverityFromCVSS buckets a CVSS base score.
func SeverityFromCVSS(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type packageManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// DependencyDetector checks package.json manifests against the advisory index.
// Non-manifest content is passed through untouched.
type DependencyDetector struct {
	db *VulnDB
}

func NewDependencyDetector(db *VulnDB) *DependencyDetector {
	return &DependencyDetector{db: db}
}

func (d *DependencyDetector) Name() string { return "dependencies" }

func isPackageManifest(path string) bool {
	return filepath.Base(path) == "package.json"
}

func (d *DependencyDetector) Detect(content string, meta *Metadata) Detection {
	det := Detection{Severity: SeverityLow}
	if d.db == nil || meta == nil || !isPackageManifest(meta.FilePath) {
		return det
	}

	var manifest packageManifest
	if err := json.Unmarshal([]byte(content), &manifest); err != nil {
		return det
	}

	names := make([]string, 0, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for name := range manifest.Dependencies {
		names = append(names, name)
	}
	for name := range manifest.DevDependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, adv := range d.db.Lookup(name) {
			sev := SeverityFromCVSS(adv.CVSS)
			det.Severity = MaxSeverity(det.Severity, sev)
			score := 0.5 + adv.CVSS/20 // 0.5..1.0 across the CVSS range
			if score > det.Score {
				det.Score = score
			}
			det.Issues = append(det.Issues, Issue{
				Type:     "vulnerable_dependency",
				Severity: sev,
				Message:  fmt.Sprintf("%s: %s (%s)", name, adv.Summary, adv.ID),
				Pattern:  adv.ID,
			})
			det.Factors = append(det.Factors, "known advisory: "+adv.ID)
		}
	}

	if len(det.Issues) > 0 {
		det.Recommendations = append(det.Recommendations,
			"Upgrade the affected packages to patched versions")
	}
	return det
}

// DependencyChange describes one added, removed, or version-changed package
// between two dependency maps.
type DependencyChange struct {
	Name   string `json:"name"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
	Kind   string `json:"kind"` // added, removed, changed
}

// CompareDependencies diffs before/after dependency maps and scores the
// additions against the advisory index. Removals never raise risk.
func CompareDependencies(db *VulnDB, before, after map[string]string) ([]DependencyChange, Result) {
	var changes []DependencyChange

	names := make(map[string]bool, len(before)+len(after))
	for name := range before {
		names[name] = true
	}
	for name := range after {
		names[name] = true
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	det := Detection{Severity: SeverityLow}
	for _, name := range ordered {
		prev, hadPrev := before[name]
		next, hasNext := after[name]
		switch {
		case !hadPrev && hasNext:
			changes = append(changes, DependencyChange{Name: name, After: next, Kind: "added"})
		case hadPrev && !hasNext:
			changes = append(changes, DependencyChange{Name: name, Before: prev, Kind: "removed"})
			continue
		case prev != next:
			changes = append(changes, DependencyChange{Name: name, Before: prev, After: next, Kind: "changed"})
		default:
			continue
		}
		for _, adv := range db.Lookup(name) {
			sev := SeverityFromCVSS(adv.CVSS)
			det.Severity = MaxSeverity(det.Severity, sev)
			score := 0.5 + adv.CVSS/20
			if score > det.Score {
				det.Score = score
			}
			det.Issues = append(det.Issues, Issue{
				Type:     "vulnerable_dependency",
				Severity: sev,
				Message:  fmt.Sprintf("%s: %s (%s)", name, adv.Summary, adv.ID),
				Pattern:  adv.ID,
			})
			det.Factors = append(det.Factors, "known advisory: "+adv.ID)
		}
		if looksTyposquatted(name) {
			det.Severity = MaxSeverity(det.Severity, SeverityMedium)
			if det.Score < 0.6 {
				det.Score = 0.6
			}
			det.Issues = append(det.Issues, Issue{
				Type:     "suspicious_dependency",
				Severity: SeverityMedium,
				Message:  name + ": name resembles a popular package",
				Pattern:  "typosquat",
			})
			det.Factors = append(det.Factors, "possible typosquat: "+name)
		}
	}

	result := Result{
		RiskLevel:       RiskNone,
		Confidence:      clampConfidence(det.Score),
		Issues:          det.Issues,
		Recommendations: det.Recommendations,
	}
	if len(det.Issues) > 0 {
		result.RiskLevel = riskFromSeverity(det.Severity)
		result.Recommendations = append(result.Recommendations,
			"Review the flagged dependency changes before merging")
	}
	if result.Issues == nil {
		result.Issues = []Issue{}
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	return changes, result
}

// popularPackages seeds the typosquat check with frequent targets.
var popularPackages = []string{
	"react", "lodash", "express", "axios", "moment", "chalk", "request",
}

func looksTyposquatted(name string) bool {
	lowered := strings.ToLower(name)
	for _, popular := range popularPackages {
		if lowered == popular {
			return false
		}
		if editDistanceOne(lowered, popular) {
			return true
		}
	}
	return false
}

// editDistanceOne reports whether a and b differ by exactly one edit
// (substitution, insertion, or deletion).
func editDistanceOne(a, b string) bool {
	la, lb := len(a), len(b)
	if la == lb {
		diff := 0
		for i := 0; i < la; i++ {
			if a[i] != b[i] {
				diff++
				if diff > 1 {
					return false
				}
			}
		}
		return diff == 1
	}
	if la-lb == 1 {
		a, b = b, a
		la, lb = lb, la
	}
	if lb-la != 1 {
		return false
	}
	// a is the shorter string; allow one skipped byte in b.
	i, j, skipped := 0, 0, false
	for i < la && j < lb {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		if skipped {
			return false
		}
		skipped = true
		j++
	}
	return true
}
