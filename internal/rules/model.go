package rules

import (
	"fmt"
	"regexp"
	"time"
)

// RuleKind identifies which analyzer a signature rule feeds.
type RuleKind string

const (
	KindMaliciousContent RuleKind = "malicious_content"
	KindSQLInjection     RuleKind = "sql_injection"
	KindXSS              RuleKind = "xss"
	KindPathTraversal    RuleKind = "path_traversal"
	KindUserAgent        RuleKind = "user_agent"
	KindBot              RuleKind = "bot"
)

var validKinds = map[RuleKind]bool{
	KindMaliciousContent: true,
	KindSQLInjection:     true,
	KindXSS:              true,
	KindPathTraversal:    true,
	KindUserAgent:        true,
	KindBot:              true,
}

// Rule is one signature in the rule table. Adding or removing a signature
// is a data change, not new control flow: every rule is evaluated the same
// way by the analyzer that owns its kind.
type Rule struct {
	Tag        string   `yaml:"tag" json:"tag"`
	Kind       RuleKind `yaml:"kind" json:"kind"`
	Pattern    string   `yaml:"pattern" json:"pattern"`
	Score      int      `yaml:"score" json:"score"`
	Suspicious bool     `yaml:"suspicious" json:"suspicious"`

	compiled *regexp.Regexp
}

// Compile compiles the rule pattern. Must be called before Match.
func (r *Rule) Compile() error {
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: invalid pattern: %w", r.Tag, err)
	}
	r.compiled = re
	return nil
}

// Match reports whether the rule pattern matches the input.
func (r *Rule) Match(input string) bool {
	if r.compiled == nil || input == "" {
		return false
	}
	return r.compiled.MatchString(input)
}

// Validate checks rule fields and compiles the pattern.
func (r *Rule) Validate() error {
	if r.Tag == "" {
		return fmt.Errorf("rule has empty tag")
	}
	if !validKinds[r.Kind] {
		return fmt.Errorf("rule %q: unknown kind %q", r.Tag, r.Kind)
	}
	if r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("rule %q: score %d out of range [0,100]", r.Tag, r.Score)
	}
	return r.Compile()
}

// RuleFile is the on-disk YAML document format.
type RuleFile struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Snapshot is an immutable view of the loaded rule table.
type Snapshot struct {
	Version  string
	Rules    []Rule
	LoadedAt time.Time

	byKind map[RuleKind][]Rule
}

func newSnapshot(version string, rules []Rule) *Snapshot {
	byKind := make(map[RuleKind][]Rule)
	for _, r := range rules {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}
	return &Snapshot{
		Version:  version,
		Rules:    rules,
		LoadedAt: time.Now(),
		byKind:   byKind,
	}
}

// ByKind returns the rules feeding one analyzer.
func (s *Snapshot) ByKind(kind RuleKind) []Rule {
	return s.byKind[kind]
}
