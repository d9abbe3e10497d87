// Package secrets redacts credentials from text before it is persisted.
package secrets

import (
	"sort"
)

// Redaction replaces every detected secret.
const Redaction = "[REDACTED]"

// Result is the outcome of scrubbing one string.
type Result struct {
	Scrubbed string
	// ByRule counts findings per rule id. Matched text is never kept.
	ByRule   map[string]int
	Findings int
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return r.Findings > 0
}

// Scrubber detects and redacts secrets.
type Scrubber struct {
	rules    []*compiledRule
	gitleaks *gitleaksDetector
}

// New compiles rules into a Scrubber. Nil rules means DefaultRules.
func New(rules []Rule, opts ...Option) (*Scrubber, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	s := &Scrubber{rules: compiled}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustNew is New that panics on invalid rules.
func MustNew(rules []Rule) *Scrubber {
	s, err := New(rules)
	if err != nil {
		panic(err)
	}
	return s
}

type span struct{ start, end int }

// Scrub redacts every match. Overlapping matches collapse into one redaction.
func (s *Scrubber) Scrub(content string) *Result {
	res := &Result{Scrubbed: content, ByRule: map[string]int{}}
	if s == nil || content == "" {
		return res
	}

	var spans []span
	for _, rule := range s.rules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			spans = append(spans, span{m[0], m[1]})
			res.ByRule[rule.id]++
			res.Findings++
		}
	}
	if s.gitleaks != nil {
		extra := s.gitleaks.spans(content, res.ByRule)
		spans = append(spans, extra...)
		res.Findings += len(extra)
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	out := make([]byte, 0, len(content))
	prev := 0
	for _, sp := range merged {
		out = append(out, content[prev:sp.start]...)
		out = append(out, Redaction...)
		prev = sp.end
	}
	out = append(out, content[prev:]...)
	res.Scrubbed = string(out)
	return res
}

// String is Scrub returning only the redacted text.
func (s *Scrubber) String(content string) string {
	return s.Scrub(content).Scrubbed
}
