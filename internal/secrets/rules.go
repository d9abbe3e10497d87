package secrets

import (
	"fmt"
	"regexp"
)

// Rule detects one kind of credential.
type Rule struct {
	ID      string
	Pattern string
	// Keywords gate the rule: it only runs when one appears (case-insensitive).
	Keywords []string
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultRules covers the credentials most likely to surface in agent output.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "anthropic-api-key", Pattern: `sk-ant-[A-Za-z0-9_\-]{20,}`},
		{ID: "openai-api-key", Pattern: `sk-(?:proj-)?[A-Za-z0-9]{32,}`},
		{ID: "aws-access-key-id", Pattern: `(?:AKIA|ASIA|AGPA|AROA)[A-Z0-9]{16}`},
		{
			ID:       "aws-secret-access-key",
			Pattern:  `(?i)(?:aws_secret_access_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords: []string{"secret_access_key"},
		},
		{ID: "github-token", Pattern: `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Pattern: `glpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`},
		{ID: "jwt", Pattern: `eyJ[A-Za-z0-9_\-]{8,}\.eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}`},
		{ID: "bearer-token", Pattern: `(?i)bearer\s+[A-Za-z0-9_\-.=]{16,}`, Keywords: []string{"bearer"}},
		{
			ID:       "database-url",
			Pattern:  `(?i)(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis|nats)://[^\s:/@]+:[^\s@]+@[^\s]+`,
			Keywords: []string{"://"},
		},
		{
			ID:       "generic-api-key",
			Pattern:  `(?i)(?:api[_-]?key|apikey|access[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords: []string{"key", "token"},
		},
		{
			ID:       "generic-secret",
			Pattern:  `(?i)(?:secret|password|passwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords: []string{"secret", "passw"},
		},
	}
}

func compileRules(rules []Rule) ([]*compiledRule, error) {
	out := make([]*compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: ID is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		cr := &compiledRule{id: r.ID, pattern: re}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		out = append(out, cr)
	}
	return out, nil
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}
