package secrets

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Option configures a Scrubber.
type Option func(*Scrubber) error

// WithGitleaks adds a second pass using the gitleaks default rule set.
// allow may be nil.
func WithGitleaks(allow *Allowlist) Option {
	return func(s *Scrubber) error {
		d, err := newGitleaksDetector(allow)
		if err != nil {
			return err
		}
		s.gitleaks = d
		return nil
	}
}

// gitleaksDetector serializes access to a shared gitleaks detector.
type gitleaksDetector struct {
	mu       sync.Mutex
	detector *detect.Detector
}

func newGitleaksDetector(allow *Allowlist) (*gitleaksDetector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if allow != nil {
		if err := applyAllowlist(&d.Config, allow); err != nil {
			return nil, err
		}
	}
	return &gitleaksDetector{detector: d}, nil
}

// spans returns the byte ranges of every gitleaks finding in content.
func (g *gitleaksDetector) spans(content string, byRule map[string]int) []span {
	g.mu.Lock()
	findings := g.detector.DetectString(content)
	g.mu.Unlock()

	var out []span
	for _, f := range findings {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		found := false
		for off := 0; off < len(content); {
			i := strings.Index(content[off:], secret)
			if i < 0 {
				break
			}
			out = append(out, span{off + i, off + i + len(secret)})
			off += i + len(secret)
			found = true
		}
		if found {
			byRule["gitleaks:"+f.RuleID]++
		}
	}
	return out
}

func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) error {
	global := &gitleaksConfig.Allowlist{
		Description: "agentflow allowlist",
		StopWords:   allow.StopWords,
	}
	for _, pattern := range allow.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidAllowlist, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
