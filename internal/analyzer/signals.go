package analyzer

import (
	"fmt"
	"sync"
	"time"

	"github.com/sgerhart/reqsentry/internal/model"
	"github.com/sgerhart/reqsentry/internal/rules"
	"github.com/sgerhart/reqsentry/internal/window"
)

// agentSet tracks the distinct user agents recently seen for one identity.
type agentSet struct {
	mu     sync.Mutex
	agents map[string]time.Time
}

// analyzeRate flags identities exceeding the request rate threshold, with a
// severe variant when the suspicious-event rate is also high.
func (e *Engine) analyzeRate(rc *model.RequestContext) model.AnalyzerVerdict {
	verdict := model.AnalyzerVerdict{Analyzer: "rate"}

	requests := e.tracker.RecentCount(rc.Identity, window.KindRequest, time.Minute)
	if requests > e.thresholds.RatePerMinute {
		verdict.Suspicious = true
		verdict.Score += 30
		verdict.Issues = append(verdict.Issues, "rate_limit_exceeded")
	}

	suspicious := e.tracker.RecentCount(rc.Identity, window.KindSuspicious, time.Minute)
	if suspicious > e.thresholds.SuspiciousPerMinute {
		verdict.Suspicious = true
		verdict.Score += 50
		verdict.Issues = append(verdict.Issues, "repeated_suspicious_activity")
	}

	return verdict
}

// analyzeContent matches every signature family against each request input
// facet, scoring 40 per facet that carries a malicious pattern.
func (e *Engine) analyzeContent(rc *model.RequestContext) model.AnalyzerVerdict {
	verdict := model.AnalyzerVerdict{Analyzer: "content"}
	snapshot := e.ruleLoader.GetSnapshot()

	kinds := []rules.RuleKind{
		rules.KindMaliciousContent,
		rules.KindSQLInjection,
		rules.KindXSS,
		rules.KindPathTraversal,
	}

	for facet, input := range rc.Inputs() {
		if input == "" {
			continue
		}
		matched := false
		for _, kind := range kinds {
			for _, rule := range snapshot.ByKind(kind) {
				if rule.Match(input) {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if matched {
			verdict.Suspicious = true
			verdict.Score += 40
			verdict.Issues = append(verdict.Issues, fmt.Sprintf("malicious_content_%s", facet))
		}
	}

	return verdict
}

// analyzeUserAgent checks the agent blacklist, missing agents, and agent
// rotation from a single identity.
func (e *Engine) analyzeUserAgent(rc *model.RequestContext) model.AnalyzerVerdict {
	verdict := model.AnalyzerVerdict{Analyzer: "user_agent"}

	if rc.UserAgent == "" {
		verdict.Suspicious = true
		verdict.Score += 20
		verdict.Issues = append(verdict.Issues, "missing_user_agent")
		return verdict
	}

	snapshot := e.ruleLoader.GetSnapshot()
	for _, rule := range snapshot.ByKind(rules.KindUserAgent) {
		if rule.Match(rc.UserAgent) {
			verdict.Suspicious = verdict.Suspicious || rule.Suspicious
			verdict.Score += rule.Score
			verdict.Issues = append(verdict.Issues, rule.Tag)
			break
		}
	}

	if e.distinctAgents(rc.Identity, rc.UserAgent) > e.thresholds.MaxUserAgents {
		verdict.Suspicious = true
		verdict.Score += 25
		verdict.Issues = append(verdict.Issues, "user_agent_rotation")
	}

	return verdict
}

// distinctAgents records the agent for the identity and returns how many
// distinct agents the identity has used in the recent past.
func (e *Engine) distinctAgents(identity, agent string) int {
	set, ok := e.uaHistory.Get(identity)
	if !ok {
		set = &agentSet{agents: make(map[string]time.Time)}
		e.uaHistory.Add(identity, set)
	}

	now := time.Now()
	cutoff := now.Add(-10 * time.Minute)

	set.mu.Lock()
	defer set.mu.Unlock()

	set.agents[agent] = now
	count := 0
	for ua, seen := range set.agents {
		if seen.Before(cutoff) {
			delete(set.agents, ua)
			continue
		}
		count++
	}
	return count
}

// analyzePayloadSize flags oversized payloads. Size alone is informational:
// it contributes to the score but never sets the suspicious flag.
func (e *Engine) analyzePayloadSize(rc *model.RequestContext) model.AnalyzerVerdict {
	verdict := model.AnalyzerVerdict{Analyzer: "payload_size"}

	if rc.ContentLength > e.thresholds.MaxPayloadBytes {
		verdict.Score += 15
		verdict.Issues = append(verdict.Issues, "large_payload")
	}

	return verdict
}

// analyzePathTraversal matches traversal signatures against the URL.
func (e *Engine) analyzePathTraversal(rc *model.RequestContext) model.AnalyzerVerdict {
	verdict := model.AnalyzerVerdict{Analyzer: "path_traversal"}

	snapshot := e.ruleLoader.GetSnapshot()
	for _, rule := range snapshot.ByKind(rules.KindPathTraversal) {
		if rule.Match(rc.URL) {
			verdict.Suspicious = rule.Suspicious
			verdict.Score += 45
			verdict.Issues = append(verdict.Issues, "path_traversal")
			break
		}
	}

	return verdict
}

// analyzeSQLInjection matches SQL signatures against URL, query, and body.
func (e *Engine) analyzeSQLInjection(rc *model.RequestContext) model.AnalyzerVerdict {
	return e.analyzeSignature(rc, "sql_injection", rules.KindSQLInjection, 50, "sql_injection")
}

// analyzeXSS matches script injection signatures against URL, query, and body.
func (e *Engine) analyzeXSS(rc *model.RequestContext) model.AnalyzerVerdict {
	return e.analyzeSignature(rc, "xss", rules.KindXSS, 45, "xss_attempt")
}

// analyzeSignature runs one signature family over the injectable inputs.
func (e *Engine) analyzeSignature(rc *model.RequestContext, name string, kind rules.RuleKind, score int, tag string) model.AnalyzerVerdict {
	verdict := model.AnalyzerVerdict{Analyzer: name}
	snapshot := e.ruleLoader.GetSnapshot()

	inputs := []string{rc.URL, rc.Body}
	for _, v := range rc.Query {
		inputs = append(inputs, v)
	}

	for _, input := range inputs {
		if input == "" {
			continue
		}
		for _, rule := range snapshot.ByKind(kind) {
			if rule.Match(input) {
				verdict.Suspicious = rule.Suspicious
				verdict.Score = score
				verdict.Issues = append(verdict.Issues, tag)
				return verdict
			}
		}
	}

	return verdict
}

// analyzeBot detects automation. A signature match alone is informational;
// the suspicious flag requires the request volume criterion as well.
func (e *Engine) analyzeBot(rc *model.RequestContext) model.AnalyzerVerdict {
	verdict := model.AnalyzerVerdict{Analyzer: "bot"}

	snapshot := e.ruleLoader.GetSnapshot()
	for _, rule := range snapshot.ByKind(rules.KindBot) {
		if rule.Match(rc.UserAgent) {
			verdict.Score = rule.Score
			verdict.Issues = append(verdict.Issues, rule.Tag)
			break
		}
	}

	requests := e.tracker.RecentCount(rc.Identity, window.KindRequest, time.Minute)
	if requests > e.thresholds.BotRequestsPerMin {
		verdict.Score = 20
		verdict.Suspicious = true
		verdict.Issues = append(verdict.Issues, "automated_request_volume")
	}

	return verdict
}
