package analyzer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAnalyze_AWSKeyFlaggedAsHighRiskSecret(t *testing.T) {
	facade := DefaultFacade(nil)
	result := facade.Analyze(`const key = "AKIA2E4ZB7QH8XN5WDJQ";`, nil)

	assert.Equal(t, RiskHigh, result.RiskLevel)
	require.NotEmpty(t, result.Issues)
	assert.Equal(t, "secret", result.Issues[0].Type)
	assert.Equal(t, SeverityHigh, result.Issues[0].Severity)
	assert.Greater(t, result.Confidence, 0.5)
}

func TestAnalyze_CleanCodeHasNoRisk(t *testing.T) {
	facade := DefaultFacade(nil)
	result := facade.Analyze("func add(a, b int) int {\n\treturn a + b\n}\n", nil)

	assert.Equal(t, RiskNone, result.RiskLevel)
	assert.Empty(t, result.Issues)
	assert.NotNil(t, result.Issues, "issues serializes as [], not null")
	assert.NotNil(t, result.Recommendations)
}

func TestAnalyze_CommentOnlyLinesSkipped(t *testing.T) {
	facade := DefaultFacade(nil)
	result := facade.Analyze(`// const key = "AKIA2E4ZB7QH8XN5WDJQ";`, nil)
	assert.Equal(t, RiskNone, result.RiskLevel)
	assert.Empty(t, result.Issues)
}

func TestAnalyze_PlaceholderValuesSuppressed(t *testing.T) {
	facade := DefaultFacade(nil)
	for _, content := range []string{
		`apiKey = "your_key_here"`,
		`apiKey = "XXXXXXXXXXXXXXXX"`,
		`apiKey = "${API_KEY}"`,
	} {
		result := facade.Analyze(content, nil)
		assert.Empty(t, result.Issues, "placeholder should not fire: %s", content)
	}
}

func TestAnalyze_ChangedLinesRestrictsScan(t *testing.T) {
	content := "line one is fine\n" +
		`token = "AKIA2E4ZB7QH8XN5WDJQ"` + "\n" +
		"line three is fine\n"
	facade := DefaultFacade(nil)

	hit := facade.Analyze(content, &Metadata{ChangedLines: []int{2}})
	assert.NotEmpty(t, hit.Issues)

	miss := facade.Analyze(content, &Metadata{ChangedLines: []int{1, 3}})
	assert.Empty(t, miss.Issues)
}

func TestAnalyze_DangerousAPIs(t *testing.T) {
	facade := DefaultFacade(nil)

	cases := map[string]string{
		`eval(userInput)`:                   "eval",
		`const fn = new Function(body)`:     "function_constructor",
		`child_process.execSync(cmd)`:       "child_process",
		`vm.runInNewContext(code, sandbox)`: "vm_module",
		`const mod = require(pluginPath)`:   "dynamic_require",
	}
	for content, pattern := range cases {
		result := facade.Analyze(content, nil)
		require.NotEmpty(t, result.Issues, "expected a finding for %q", content)
		assert.Equal(t, pattern, result.Issues[0].Pattern)
		assert.Equal(t, "dangerous_api", result.Issues[0].Type)
	}
}

func TestAnalyze_MergeDedupsFactorsAndRecommendations(t *testing.T) {
	content := "eval(a)\neval(b)\n"
	facade := DefaultFacade(nil)
	result := facade.Analyze(content, nil)

	require.Len(t, result.Issues, 2, "every occurrence is an issue")
	seen := map[string]int{}
	for _, r := range result.Recommendations {
		seen[r]++
	}
	for r, n := range seen {
		assert.Equal(t, 1, n, "recommendation duplicated: %s", r)
	}
}

func TestEnvFileDetector(t *testing.T) {
	d := NewEnvFileDetector()

	t.Run("flags committed secrets and unsafe settings", func(t *testing.T) {
		content := "NODE_ENV=development\nDEBUG=true\nSSL_VERIFY=false\n" +
			"DATABASE_PASSWORD=h8Fj2nQx91LmPz4vKw7T\nPORT=8080\n"
		det := d.Detect(content, &Metadata{FilePath: ".env"})

		patterns := map[string]bool{}
		for _, issue := range det.Issues {
			patterns[issue.Pattern] = true
		}
		assert.True(t, patterns["dev_mode"])
		assert.True(t, patterns["debug_enabled"])
		assert.True(t, patterns["ssl_disabled"])
		assert.True(t, patterns["env_secret"])
		assert.Equal(t, SeverityHigh, det.Severity)
	})

	t.Run("short committed passwords are flagged at medium", func(t *testing.T) {
		det := d.Detect("DB_PASSWORD=hunter2\n", &Metadata{FilePath: ".env"})
		require.Len(t, det.Issues, 1)
		assert.Equal(t, "env_secret", det.Issues[0].Pattern)
		assert.Equal(t, SeverityMedium, det.Issues[0].Severity)
	})

	t.Run("unsafe settings are not doubled as secrets", func(t *testing.T) {
		det := d.Detect("SSL_VERIFY=false\n", &Metadata{FilePath: ".env"})
		require.Len(t, det.Issues, 1)
		assert.Equal(t, "ssl_disabled", det.Issues[0].Pattern)
	})

	t.Run("template files are exempt", func(t *testing.T) {
		det := d.Detect("API_KEY=h8Fj2nQx91LmPz4vKw7T\n", &Metadata{FilePath: ".env.example"})
		assert.Empty(t, det.Issues)
	})

	t.Run("variable references and allowlisted names pass", func(t *testing.T) {
		det := d.Detect("API_KEY=${VAULT_API_KEY}\nHOST=localhost\n", &Metadata{FilePath: ".env"})
		assert.Empty(t, det.Issues)
	})

	t.Run("non-env files are ignored", func(t *testing.T) {
		det := d.Detect("API_KEY=h8Fj2nQx91LmPz4vKw7T\n", &Metadata{FilePath: "config.go"})
		assert.Empty(t, det.Issues)
	})
}

func TestSecretsDetector_AssignmentsAreNotOneToken(t *testing.T) {
	d := NewSecretsDetector()

	det := d.Detect("SSL_VERIFY=false\n", nil)
	assert.Empty(t, det.Issues, "key and value must not concatenate across '='")

	det = d.Detect(`session = "nR4kP9vX2qLw7JdY1mZt"`+"\n", nil)
	require.NotEmpty(t, det.Issues)
	assert.Equal(t, "high_entropy", det.Issues[0].Pattern)
}

func TestLoadVulnDB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "advisories.json")
	fixture := `[{"id":"GHSA-crit-0001","package":"event-stream","summary":"malicious release","cvss":9.8}]`
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	db, err := LoadVulnDB(path)
	require.NoError(t, err)
	require.Len(t, db.Lookup("event-stream"), 1)
	assert.Equal(t, 9.8, db.Lookup("event-stream")[0].CVSS)

	empty, err := LoadVulnDB("")
	require.NoError(t, err)
	assert.Nil(t, empty.Lookup("event-stream"))

	_, err = LoadVulnDB(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = LoadVulnDB(path)
	assert.Error(t, err)
}

func testVulnDB() *VulnDB {
	return NewVulnDB([]Advisory{
		{ID: "GHSA-crit-0001", Package: "event-stream", Summary: "malicious release", CVSS: 9.8},
		{ID: "GHSA-high-0002", Package: "minimist", Summary: "prototype pollution", CVSS: 7.5},
		{ID: "GHSA-med-0003", Package: "node-fetch", Summary: "header leak", CVSS: 5.9},
	})
}

func TestDependencyDetector_ManifestAdvisories(t *testing.T) {
	d := NewDependencyDetector(testVulnDB())
	manifest := `{"dependencies":{"event-stream":"3.3.6","left-pad":"1.3.0"}}`

	det := d.Detect(manifest, &Metadata{FilePath: "package.json"})
	require.Len(t, det.Issues, 1)
	assert.Equal(t, SeverityCritical, det.Issues[0].Severity)
	assert.Equal(t, "GHSA-crit-0001", det.Issues[0].Pattern)

	// Same content under a different file name never fires.
	none := d.Detect(manifest, &Metadata{FilePath: "main.js"})
	assert.Empty(t, none.Issues)
}

func TestSeverityFromCVSS(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFromCVSS(9.0))
	assert.Equal(t, SeverityHigh, SeverityFromCVSS(7.0))
	assert.Equal(t, SeverityMedium, SeverityFromCVSS(4.0))
	assert.Equal(t, SeverityLow, SeverityFromCVSS(3.9))
}

func TestCompareDependencies(t *testing.T) {
	before := map[string]string{"lodash": "4.17.21", "minimist": "1.2.0"}
	after := map[string]string{"lodash": "4.17.21", "minimist": "1.2.8", "event-stream": "3.3.6"}

	changes, result := CompareDependencies(testVulnDB(), before, after)

	kinds := map[string]string{}
	for _, c := range changes {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, "added", kinds["event-stream"])
	assert.Equal(t, "changed", kinds["minimist"])
	assert.NotContains(t, kinds, "lodash")

	assert.Equal(t, RiskHigh, result.RiskLevel)
	assert.NotEmpty(t, result.Issues)
}

func TestCompareDependencies_RemovalsNeverRaiseRisk(t *testing.T) {
	before := map[string]string{"event-stream": "3.3.6"}
	changes, result := CompareDependencies(testVulnDB(), before, map[string]string{})

	require.Len(t, changes, 1)
	assert.Equal(t, "removed", changes[0].Kind)
	assert.Equal(t, RiskNone, result.RiskLevel)
}

func TestCompareDependencies_Typosquat(t *testing.T) {
	_, result := CompareDependencies(testVulnDB(),
		map[string]string{}, map[string]string{"lodahs": "1.0.0"})

	require.NotEmpty(t, result.Issues)
	assert.Equal(t, "typosquat", result.Issues[0].Pattern)
}

func TestMapUpstreamRisk(t *testing.T) {
	assert.Equal(t, RiskLow, MapUpstreamRisk("safe"))
	assert.Equal(t, RiskLow, MapUpstreamRisk("low"))
	assert.Equal(t, RiskMedium, MapUpstreamRisk("medium"))
	assert.Equal(t, RiskHigh, MapUpstreamRisk("high"))
	assert.Equal(t, RiskHigh, MapUpstreamRisk("critical"))
	assert.Equal(t, RiskNone, MapUpstreamRisk("weird"))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, clampConfidence(-0.3))
	assert.Equal(t, 1.0, clampConfidence(4.2))
	assert.Equal(t, 0.7, clampConfidence(0.7))
}

func TestShannonEntropy(t *testing.T) {
	assert.Less(t, ShannonEntropy("aaaaaaaaaaaaaaaa"), 1.0)
	assert.GreaterOrEqual(t, ShannonEntropy("h8Fj2nQx91LmPz4vKw7T"), entropyThreshold)
}

func TestAnalyze_Deterministic(t *testing.T) {
	facade := DefaultFacade(testVulnDB())
	rapid.Check(t, func(t *rapid.T) {
		content := rapid.String().Draw(t, "content")
		first := facade.Analyze(content, nil)
		second := facade.Analyze(content, nil)
		first.ExecutionTimeMS, second.ExecutionTimeMS = 0, 0
		assert.Equal(t, first, second, "same input must produce the same result")
	})
}
