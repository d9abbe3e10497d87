// Package sandbox confines task workspaces to a whitelist of directories.
//
// Every path is checked for traversal before it is touched, canonicalized,
// checked for symlinks that lead out of the whitelist, and finally matched
// against the allowed roots.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxSymlinkDepth bounds the ancestor walk for symlink checks.
const DefaultMaxSymlinkDepth = 8

// Config describes the whitelist and symlink policy.
type Config struct {
	AllowedDirs     []string
	StrictMode      bool
	AllowSymlinks   bool
	MaxSymlinkDepth int
}

// Summary describes the active policy.
type Summary struct {
	AllowedDirs     int  `json:"allowed_dirs"`
	StrictMode      bool `json:"strict_mode"`
	AllowSymlinks   bool `json:"allow_symlinks"`
	MaxSymlinkDepth int  `json:"max_symlink_depth"`
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used for rejections.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// Validator checks paths against the allowed roots. Safe for concurrent use.
type Validator struct {
	mu    sync.RWMutex
	roots []string

	strict        bool
	allowSymlinks bool
	maxDepth      int
	logger        *zap.Logger
}

// NewValidator canonicalizes cfg.AllowedDirs and returns a Validator.
func NewValidator(cfg Config, opts ...Option) (*Validator, error) {
	v := &Validator{
		strict:        cfg.StrictMode,
		allowSymlinks: cfg.AllowSymlinks,
		maxDepth:      cfg.MaxSymlinkDepth,
		logger:        zap.NewNop(),
	}
	if v.maxDepth <= 0 {
		v.maxDepth = DefaultMaxSymlinkDepth
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.Named("sandbox")

	for _, dir := range cfg.AllowedDirs {
		if err := v.AddAllowedDir(dir); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// ValidatePath returns the canonical form of path if it passes every check.
func (v *Validator) ValidatePath(path string) (string, error) {
	canonical, err := v.validate(path)
	if err != nil {
		v.logger.Warn("path rejected",
			zap.String("path", path),
			zap.Stringer("kind", KindOf(err)),
			zap.Error(err))
		return "", err
	}
	return canonical, nil
}

func (v *Validator) validate(path string) (string, error) {
	if path == "" {
		return "", newError(KindValidation, path, "empty path", nil)
	}
	// Raw check first: intent to traverse is rejected even when the
	// resolved path would land inside an allowed root.
	if strings.Contains(path, "..") {
		return "", newError(KindPathTraversal, path, "contains '..'", nil)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", newError(KindPathResolution, path, "", err)
	}
	canonical, err := canonicalize(abs)
	if err != nil {
		return "", newError(KindPathResolution, path, "", err)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.allowSymlinks {
		if err := v.checkSymlinks(abs); err != nil {
			return "", err
		}
	}

	if v.strict && !v.underRoot(canonical) {
		return "", newError(KindPathNotAllowed, path, "", nil)
	}
	return canonical, nil
}

// CreateSafePath joins sub onto a validated base. The result must stay under
// base itself; landing under a different allowed root is still an escape.
func (v *Validator) CreateSafePath(base, sub string) (string, error) {
	canonicalBase, err := v.ValidatePath(base)
	if err != nil {
		return "", err
	}
	if strings.Contains(sub, "..") {
		return "", newError(KindPathTraversal, sub, "contains '..'", nil)
	}

	joined := filepath.Join(canonicalBase, sub)
	canonical, err := canonicalize(joined)
	if err != nil {
		return "", newError(KindPathResolution, joined, "", err)
	}

	if !v.allowSymlinks {
		v.mu.RLock()
		err = v.checkSymlinks(joined)
		v.mu.RUnlock()
		if err != nil {
			return "", err
		}
	}

	if !within(canonical, canonicalBase) {
		return "", newError(KindPathTraversal, joined, "escapes base "+canonicalBase, nil)
	}
	return canonical, nil
}

// checkSymlinks walks abs and its ancestors looking for links that lead out
// of the whitelist. Caller holds v.mu.
func (v *Validator) checkSymlinks(abs string) error {
	p := abs
	for depth := 0; depth < v.maxDepth; depth++ {
		info, err := os.Lstat(p)
		if err == nil && info.Mode()&os.ModeSymlink != 0 {
			target, err := resolveLink(p)
			if err != nil {
				return newError(KindSymlinkAttack, p, "unresolvable link", err)
			}
			if !v.linkTargetAllowed(p, target) {
				return newError(KindSymlinkAttack, p, "target "+target+" outside allowed directories", nil)
			}
		}

		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return nil
}

// linkTargetAllowed accepts targets inside a root. Links that sit above every
// root (system links such as /tmp -> /private/tmp) may also target a directory
// that contains a root.
func (v *Validator) linkTargetAllowed(link, target string) bool {
	if v.underRoot(target) {
		return true
	}
	if parent, err := canonicalize(filepath.Dir(link)); err == nil && v.underRoot(parent) {
		return false
	}
	for _, root := range v.roots {
		if within(root, target) {
			return true
		}
	}
	return false
}

func (v *Validator) underRoot(canonical string) bool {
	for _, root := range v.roots {
		if within(canonical, root) {
			return true
		}
	}
	return false
}

// AddAllowedDir canonicalizes dir and adds it to the whitelist.
func (v *Validator) AddAllowedDir(dir string) error {
	if dir == "" {
		return newError(KindValidation, dir, "empty allowed directory", nil)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return newError(KindPathResolution, dir, "", err)
	}
	canonical, err := canonicalize(abs)
	if err != nil {
		return newError(KindPathResolution, dir, "", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range v.roots {
		if r == canonical {
			return nil
		}
	}
	v.roots = append(v.roots, canonical)
	return nil
}

// RemoveAllowedDir drops dir from the whitelist. It reports whether dir was present.
func (v *Validator) RemoveAllowedDir(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	canonical, err := canonicalize(abs)
	if err != nil {
		canonical = abs
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i, r := range v.roots {
		if r == canonical {
			v.roots = append(v.roots[:i], v.roots[i+1:]...)
			return true
		}
	}
	return false
}

// AllowedDirs returns a copy of the canonical roots.
func (v *Validator) AllowedDirs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.roots))
	copy(out, v.roots)
	return out
}

// Summary returns the policy in effect.
func (v *Validator) Summary() Summary {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Summary{
		AllowedDirs:     len(v.roots),
		StrictMode:      v.strict,
		AllowSymlinks:   v.allowSymlinks,
		MaxSymlinkDepth: v.maxDepth,
	}
}

// forbiddenFilenameChars may not appear in a bare filename.
const forbiddenFilenameChars = "/\\~$\x00?*<>|\":"

// IsSafeFilename reports whether name is usable as a single path element.
func IsSafeFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, forbiddenFilenameChars)
}

// canonicalize resolves symlinks in abs. For paths that do not exist yet the
// deepest existing ancestor is resolved and the remainder re-appended.
func canonicalize(abs string) (string, error) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	var rest []string
	dir := abs
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor for %s", abs)
		}
		rest = append([]string{filepath.Base(dir)}, rest...)
		dir = parent

		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
}

// resolveLink returns the canonical target of the symlink at p.
func resolveLink(p string) (string, error) {
	target, err := os.Readlink(p)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(p), target)
	}
	return canonicalize(filepath.Clean(target))
}

// within reports whether path equals root or lies beneath it.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
