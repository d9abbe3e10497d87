package secrets

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ErrInvalidAllowlist is returned for unreadable allowlist files or bad patterns.
var ErrInvalidAllowlist = errors.New("invalid allowlist")

// Allowlist excludes matches from the gitleaks pass.
type Allowlist struct {
	// Regexes are matched against the detected secret.
	Regexes   []string `toml:"regexes"`
	StopWords []string `toml:"stopwords"`
}

// LoadAllowlist reads a gitleaks style TOML file with an [allowlist] table.
//
//	[allowlist]
//	regexes = ['''EXAMPLE[A-Z0-9]+''']
//	stopwords = ["dummy"]
func LoadAllowlist(path string) (*Allowlist, error) {
	var file struct {
		Allowlist Allowlist `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}
	for _, pattern := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %s: pattern %q: %v", ErrInvalidAllowlist, path, pattern, err)
		}
	}
	return &file.Allowlist, nil
}
