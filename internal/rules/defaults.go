package rules

// Built-in signature table, used when no rule file is configured or a load
// fails. Tags surface directly as threat tags on alerts and events.
var defaultRules = []Rule{
	// SQL injection
	{Tag: "sql_injection", Kind: KindSQLInjection, Pattern: `(?i)\bunion\b[\s\S]{0,40}\bselect\b`, Score: 50, Suspicious: true},
	{Tag: "sql_injection", Kind: KindSQLInjection, Pattern: `(?i)('|%27)\s*(or|and)\b`, Score: 50, Suspicious: true},
	{Tag: "sql_injection", Kind: KindSQLInjection, Pattern: `(?i)\b(or|and)\s+\d+\s*=\s*\d+`, Score: 50, Suspicious: true},
	{Tag: "sql_injection", Kind: KindSQLInjection, Pattern: `(?i)\b(select|insert|update|delete|drop|truncate)\b\s+(from|into|table|set)\b`, Score: 50, Suspicious: true},
	{Tag: "sql_injection", Kind: KindSQLInjection, Pattern: `(--|%2d%2d|/\*|%23)\s*$`, Score: 50, Suspicious: true},
	{Tag: "sql_injection", Kind: KindSQLInjection, Pattern: `(?i)\b(exec|execute)\s+(xp_|sp_)`, Score: 50, Suspicious: true},

	// Cross-site scripting
	{Tag: "xss_attempt", Kind: KindXSS, Pattern: `(?i)<\s*script`, Score: 45, Suspicious: true},
	{Tag: "xss_attempt", Kind: KindXSS, Pattern: `(?i)\bon(error|load|click|focus|mouseover|submit)\s*=`, Score: 45, Suspicious: true},
	{Tag: "xss_attempt", Kind: KindXSS, Pattern: `(?i)<\s*iframe`, Score: 45, Suspicious: true},
	{Tag: "xss_attempt", Kind: KindXSS, Pattern: `(?i)javascript\s*:`, Score: 45, Suspicious: true},
	{Tag: "xss_attempt", Kind: KindXSS, Pattern: `(?i)(%3c|<)\s*(img|svg)[^>]*\bon\w+\s*=`, Score: 45, Suspicious: true},

	// Path traversal and sensitive files
	{Tag: "path_traversal", Kind: KindPathTraversal, Pattern: `\.\.[/\\]`, Score: 45, Suspicious: true},
	{Tag: "path_traversal", Kind: KindPathTraversal, Pattern: `(?i)(%2e%2e|%252e%252e)(%2f|%5c|/|\\)`, Score: 45, Suspicious: true},
	{Tag: "path_traversal", Kind: KindPathTraversal, Pattern: `(?i)/(etc/(passwd|shadow|hosts)|proc/self|boot\.ini|win\.ini|windows/system32)`, Score: 45, Suspicious: true},

	// Generic malicious content, matched per request input facet
	{Tag: "command_injection", Kind: KindMaliciousContent, Pattern: `(?i)[;&|]\s*(cat|ls|id|whoami|uname|wget|curl|nc|bash|sh|powershell)\b`, Score: 40, Suspicious: true},
	{Tag: "command_injection", Kind: KindMaliciousContent, Pattern: "(`|\\$\\()\\s*\\w+", Score: 40, Suspicious: true},
	{Tag: "malicious_content", Kind: KindMaliciousContent, Pattern: `(?i)(%3c|<)\s*script|('|%27)\s*or\s|\.\./`, Score: 40, Suspicious: true},

	// User-agent blacklist
	{Tag: "attack_tool_user_agent", Kind: KindUserAgent, Pattern: `(?i)(sqlmap|nikto|nessus|metasploit|nmap|masscan|dirbuster|gobuster|wpscan|hydra|havij|acunetix|burp)`, Score: 35, Suspicious: true},

	// Bot and automation signatures, informational on their own
	{Tag: "bot_signature", Kind: KindBot, Pattern: `(?i)(bot|crawler|spider|scraper|python-requests|python-urllib|go-http-client|java/|libwww|curl/|wget/)`, Score: 10, Suspicious: false},
}

// DefaultSnapshot compiles and returns the built-in rule table.
func DefaultSnapshot() *Snapshot {
	rules := make([]Rule, len(defaultRules))
	copy(rules, defaultRules)
	for i := range rules {
		// Built-in patterns are fixed; a compile failure here is a bug.
		if err := rules[i].Compile(); err != nil {
			panic(err)
		}
	}
	return newSnapshot("builtin", rules)
}
