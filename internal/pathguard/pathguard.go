// Package pathguard validates file paths and shell commands before they
// reach a builtin tool, enforcing the session boundary and a destructive
// command denylist.
package pathguard

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ErrorKind classifies why validate_path or validate_command rejected input.
type ErrorKind string

const (
	NotAbsolute             ErrorKind = "not_absolute"
	PathTraversalAttempt    ErrorKind = "path_traversal_attempt"
	RelativeComponent       ErrorKind = "relative_component"
	PathTooLong             ErrorKind = "path_too_long"
	NullBytesInPath         ErrorKind = "null_bytes_in_path"
	EmptyPath               ErrorKind = "empty_path"
	CanonicalizationFailed  ErrorKind = "canonicalization_failed"
	OutsideBoundaries       ErrorKind = "outside_boundaries"
	Blocked                 ErrorKind = "blocked"
	InvalidFormat           ErrorKind = "invalid_format"
	InsufficientPermissions ErrorKind = "insufficient_permissions"
)

// ValidationError is returned by validate_path/validate_command. It carries
// the offending input and the rule violated so it can be rendered to a user.
type ValidationError struct {
	Kind  ErrorKind
	Input string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (input: %q)", e.Kind, e.Rule, e.Input)
}

func newErr(kind ErrorKind, input, rule string) error {
	return &ValidationError{Kind: kind, Input: input, Rule: rule}
}

// systemPrefixes are always-forbidden path prefixes, independent of config.
var systemPrefixes = []string{"/etc", "/usr", "/bin", "/sys", "/proc", "/dev"}

// forbiddenWriteExts are the default dangerous-extension denylist for writes.
var forbiddenWriteExts = map[string]bool{
	"exe": true, "bat": true, "cmd": true, "scr": true, "com": true, "pif": true,
}

// destructiveCommandPatterns are case-insensitive substrings that make a
// command unconditionally rejected by validate_command.
var destructiveCommandPatterns = []string{
	"rm -rf /", "mkfs", "dd if=", "shutdown", "reboot", "halt", "poweroff",
	"init 0", "init 6", "kill -9 1", "format", "fdisk",
}

const maxCommandLength = 1000

// Policy bundles the configured limits consulted on top of the built-in
// rules (maximum path length and extra forbidden prefixes/extensions).
type Policy struct {
	MaxPathLength         int
	ForbiddenPathPrefixes []string
	ForbiddenWriteExts    []string
}

// Guard applies Policy rules to path and command inputs.
type Guard struct {
	policy Policy
}

// New constructs a Guard from a Policy. Zero-value fields fall back to
// built-in defaults.
func New(policy Policy) *Guard {
	if policy.MaxPathLength <= 0 {
		policy.MaxPathLength = 4096
	}
	return &Guard{policy: policy}
}

// ValidatePath enforces §4.1: absolute, free of traversal/null bytes/length
// violations, and outside the system and configured forbidden prefixes. The
// returned path is cleaned lexically with filepath.Clean; symlinks are not
// resolved. It does not check containment in a session directory; callers
// do that with WithinBoundary. When mustExist is false and the target does
// not exist, the prefix checks run against the parent directory and the
// cleaned target path is returned (non-strict mode for writes against
// not-yet-existing targets).
func (g *Guard) ValidatePath(inputPath string, mustExist bool, exists func(string) bool) (string, error) {
	if inputPath == "" {
		return "", newErr(EmptyPath, inputPath, "path must not be empty")
	}
	if strings.ContainsRune(inputPath, 0) {
		return "", newErr(NullBytesInPath, inputPath, "path must not contain null bytes")
	}
	if len(inputPath) > g.policy.MaxPathLength {
		return "", newErr(PathTooLong, inputPath, fmt.Sprintf("path exceeds maximum length of %d", g.policy.MaxPathLength))
	}
	if !filepath.IsAbs(inputPath) {
		return "", newErr(NotAbsolute, inputPath, "must be absolute path (Unix: /home/user/file, Windows: C:\\Users\\file or \\\\server\\share\\file)")
	}
	for _, part := range strings.Split(inputPath, string(filepath.Separator)) {
		if part == ".." {
			return "", newErr(PathTraversalAttempt, inputPath, "parent-directory traversal is not permitted")
		}
	}

	target := inputPath
	if !mustExist && exists != nil && !exists(inputPath) {
		target = filepath.Dir(inputPath)
	}

	canonical := filepath.Clean(target)
	if canonical != target {
		// Clean may still collapse a non-".." relative component; re-check
		// for traversal survivors post-clean.
		for _, part := range strings.Split(canonical, string(filepath.Separator)) {
			if part == ".." {
				return "", newErr(PathTraversalAttempt, inputPath, "parent-directory traversal is not permitted")
			}
		}
	}

	for _, prefix := range systemPrefixes {
		if withinPrefix(canonical, prefix) {
			return "", newErr(Blocked, inputPath, fmt.Sprintf("path lies within forbidden system prefix %q", prefix))
		}
	}
	for _, prefix := range g.policy.ForbiddenPathPrefixes {
		if withinPrefix(canonical, prefix) {
			return "", newErr(Blocked, inputPath, fmt.Sprintf("path lies within configured forbidden prefix %q", prefix))
		}
	}

	if target != inputPath {
		// Non-strict mode: return the original (non-existent) path, not the
		// canonicalized parent, so callers can still create it.
		return filepath.Clean(inputPath), nil
	}
	return canonical, nil
}

// ValidateWriteExtension rejects writes to paths with a forbidden extension.
func (g *Guard) ValidateWriteExtension(path string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return nil
	}
	exts := forbiddenWriteExts
	if len(g.policy.ForbiddenWriteExts) > 0 {
		exts = make(map[string]bool, len(g.policy.ForbiddenWriteExts))
		for _, e := range g.policy.ForbiddenWriteExts {
			exts[strings.ToLower(e)] = true
		}
	}
	if exts[ext] {
		return newErr(Blocked, path, fmt.Sprintf("writes with extension %q are forbidden", ext))
	}
	return nil
}

// WithinBoundary reports whether canonical path lies within the canonicalized
// session working directory.
func WithinBoundary(canonicalPath, sessionCwd string) bool {
	return withinPrefix(canonicalPath, sessionCwd)
}

func withinPrefix(path, prefix string) bool {
	prefix = filepath.Clean(prefix)
	path = filepath.Clean(path)
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// ValidateCommand enforces §4.1's command rules: non-empty, bounded length,
// no null bytes, and not matching a destructive pattern.
func (g *Guard) ValidateCommand(cmd string) error {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return newErr(EmptyPath, cmd, "command must not be empty")
	}
	if len(cmd) > maxCommandLength {
		return newErr(PathTooLong, cmd, fmt.Sprintf("command exceeds maximum length of %d", maxCommandLength))
	}
	if strings.ContainsRune(cmd, 0) {
		return newErr(NullBytesInPath, cmd, "command must not contain null bytes")
	}
	lower := strings.ToLower(cmd)
	for _, pattern := range destructiveCommandPatterns {
		if strings.Contains(lower, pattern) {
			return newErr(Blocked, cmd, fmt.Sprintf("command matches destructive pattern %q", pattern))
		}
	}
	return nil
}
