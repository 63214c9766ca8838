package rules

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDefaultSnapshot(t *testing.T) {
	snapshot := DefaultSnapshot()

	assert.Equal(t, "builtin", snapshot.Version)
	assert.NotEmpty(t, snapshot.ByKind(KindSQLInjection))
	assert.NotEmpty(t, snapshot.ByKind(KindXSS))
	assert.NotEmpty(t, snapshot.ByKind(KindPathTraversal))
	assert.NotEmpty(t, snapshot.ByKind(KindUserAgent))
	assert.NotEmpty(t, snapshot.ByKind(KindBot))
}

func TestDefaultRules_MatchKnownPayloads(t *testing.T) {
	snapshot := DefaultSnapshot()

	cases := []struct {
		kind  RuleKind
		input string
	}{
		{KindSQLInjection, "id=1' OR 1=1 --"},
		{KindSQLInjection, "q=1 UNION SELECT password FROM users"},
		{KindXSS, "<script>alert(1)</script>"},
		{KindXSS, `<img src=x onerror=alert(1)>`},
		{KindPathTraversal, "/files/../../etc/passwd"},
		{KindPathTraversal, "/download?f=%2e%2e%2fsecret"},
		{KindUserAgent, "sqlmap/1.7.2"},
		{KindBot, "python-requests/2.31"},
	}

	for _, tc := range cases {
		matched := false
		for _, rule := range snapshot.ByKind(tc.kind) {
			if rule.Match(tc.input) {
				matched = true
				break
			}
		}
		assert.True(t, matched, "expected a %s rule to match %q", tc.kind, tc.input)
	}
}

func TestDefaultRules_CleanInputsDoNotMatch(t *testing.T) {
	snapshot := DefaultSnapshot()

	clean := []string{
		"/products?page=2&sort=price",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15",
		`{"name":"order","quantity":3}`,
	}

	for _, input := range clean {
		for _, rule := range snapshot.Rules {
			if rule.Kind == KindBot {
				continue // browser strings may legitimately mention bots
			}
			assert.False(t, rule.Match(input), "rule %s matched clean input %q", rule.Tag, input)
		}
	}
}

func TestRule_Validate(t *testing.T) {
	valid := Rule{Tag: "t", Kind: KindXSS, Pattern: "<script", Score: 45}
	assert.NoError(t, valid.Validate())

	cases := []Rule{
		{Tag: "", Kind: KindXSS, Pattern: "x", Score: 10},
		{Tag: "t", Kind: "nope", Pattern: "x", Score: 10},
		{Tag: "t", Kind: KindXSS, Pattern: "x", Score: 101},
		{Tag: "t", Kind: KindXSS, Pattern: "([", Score: 10},
	}
	for _, rule := range cases {
		assert.Error(t, rule.Validate())
	}
}

func TestLoader_LoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	content := `version: "2024-06"
rules:
  - tag: custom_sql
    kind: sql_injection
    pattern: "(?i)drop\\s+table"
    score: 50
    suspicious: true
  - tag: broken
    kind: no_such_kind
    pattern: "x"
    score: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loader := NewLoader(path, false, 0, testLogger())
	snapshot, err := loader.LoadSnapshot()
	require.NoError(t, err)

	assert.Equal(t, "2024-06", snapshot.Version)
	assert.Len(t, snapshot.Rules, 1) // invalid rule skipped
	assert.True(t, snapshot.Rules[0].Match("DROP TABLE users"))
	assert.Same(t, snapshot, loader.GetSnapshot())
}

func TestLoader_MissingFileKeepsBuiltins(t *testing.T) {
	loader := NewLoader("/nonexistent/rules.yaml", false, 0, testLogger())

	_, err := loader.LoadSnapshot()
	assert.Error(t, err)

	// Built-in table remains in effect.
	assert.Equal(t, "builtin", loader.GetSnapshot().Version)
	assert.NotEmpty(t, loader.GetSnapshot().Rules)
}

func TestLoader_EmptyPathUsesBuiltins(t *testing.T) {
	loader := NewLoader("", true, 0, testLogger())

	snapshot, err := loader.LoadSnapshot()
	assert.NoError(t, err)
	assert.Equal(t, "builtin", snapshot.Version)

	// Hot reload is disabled without a file to watch.
	assert.NoError(t, loader.WatchForChanges())
}
