package transaction

import (
	"fmt"
	"path"

	"github.com/gobwas/glob"

	"github.com/entrhq/forge-patch/pkg/patch"
)

// PolicyConfig limits what a single patch may touch. Zero values disable a
// limit; empty pattern lists allow every path.
type PolicyConfig struct {
	AllowedPatterns []string `yaml:"allowed_patterns" json:"allowed_patterns"`
	DeniedPatterns  []string `yaml:"denied_patterns" json:"denied_patterns"`
	MaxFiles        int      `yaml:"max_files" json:"max_files"`
	MaxLinesChanged int      `yaml:"max_lines_changed" json:"max_lines_changed"`
}

// Policy enforces a PolicyConfig during planning. A Policy is stateless
// between commits; usage is tallied per plan.
type Policy struct {
	config         PolicyConfig
	patternMatcher *PatternMatcher
}

// PolicyViolation reports a patch rejected by the workspace policy.
type PolicyViolation struct {
	Type    ViolationType
	Message string
	Details map[string]interface{}
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", e.Type, e.Message)
}

// Reason returns the failure code.
func (e *PolicyViolation) Reason() patch.Reason { return patch.ReasonPolicyViolation }

// ViolationType identifies the rule that was violated
type ViolationType string

const (
	ViolationFileCount   ViolationType = "file_count"
	ViolationLineCount   ViolationType = "line_count"
	ViolationFilePattern ViolationType = "file_pattern"
)

// NewPolicy compiles the configured patterns.
func NewPolicy(config PolicyConfig) (*Policy, error) {
	if config.MaxFiles < 0 {
		return nil, fmt.Errorf("max_files must be non-negative")
	}
	if config.MaxLinesChanged < 0 {
		return nil, fmt.Errorf("max_lines_changed must be non-negative")
	}

	patternMatcher, err := NewPatternMatcher(config.AllowedPatterns, config.DeniedPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}

	return &Policy{
		config:         config,
		patternMatcher: patternMatcher,
	}, nil
}

// Config returns the policy configuration.
func (p *Policy) Config() PolicyConfig {
	return p.config
}

// CheckPath rejects paths excluded by the allow and deny patterns.
func (p *Policy) CheckPath(filePath string) error {
	if p.patternMatcher.IsAllowed(filePath) {
		return nil
	}
	return &PolicyViolation{
		Type:    ViolationFilePattern,
		Message: fmt.Sprintf("file '%s' does not match allowed patterns", filePath),
		Details: map[string]interface{}{
			"file":             filePath,
			"allowed_patterns": p.config.AllowedPatterns,
			"denied_patterns":  p.config.DeniedPatterns,
		},
	}
}

// usage tallies the files and lines a plan touches so far.
type usage struct {
	policy *Policy
	files  map[string]struct{}
	lines  int
}

func (p *Policy) newUsage() *usage {
	return &usage{policy: p, files: make(map[string]struct{})}
}

// record adds one staged change and fails once a limit is exceeded.
func (u *usage) record(ch *patch.Change) error {
	cfg := u.policy.config

	for _, p := range changedPaths(ch) {
		if _, seen := u.files[p]; seen {
			continue
		}
		if cfg.MaxFiles > 0 && len(u.files) >= cfg.MaxFiles {
			return &PolicyViolation{
				Type:    ViolationFileCount,
				Message: fmt.Sprintf("maximum file count exceeded (%d)", cfg.MaxFiles),
				Details: map[string]interface{}{
					"max_files":      cfg.MaxFiles,
					"current_count":  len(u.files),
					"attempted_file": p,
				},
			}
		}
		u.files[p] = struct{}{}
	}

	u.lines += ch.LinesAdded + ch.LinesRemoved
	if cfg.MaxLinesChanged > 0 && u.lines > cfg.MaxLinesChanged {
		return &PolicyViolation{
			Type:    ViolationLineCount,
			Message: fmt.Sprintf("maximum lines changed exceeded (%d)", cfg.MaxLinesChanged),
			Details: map[string]interface{}{
				"max_lines_changed": cfg.MaxLinesChanged,
				"current_total":     u.lines,
				"file":              ch.Path,
			},
		}
	}
	return nil
}

func changedPaths(ch *patch.Change) []string {
	if ch.MoveTo != "" {
		return []string{ch.Path, ch.MoveTo}
	}
	return []string{ch.Path}
}

// PatternMatcher handles glob pattern matching for file access control
type PatternMatcher struct {
	allowedPatterns []glob.Glob
	deniedPatterns  []glob.Glob
}

// NewPatternMatcher creates a new pattern matcher
func NewPatternMatcher(allowed, denied []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{}

	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed pattern '%s': %w", pattern, err)
		}
		pm.allowedPatterns = append(pm.allowedPatterns, g)
	}

	for _, pattern := range denied {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid denied pattern '%s': %w", pattern, err)
		}
		pm.deniedPatterns = append(pm.deniedPatterns, g)
	}

	return pm, nil
}

// IsAllowed returns true if the slash-separated path is allowed by the
// pattern rules
func (pm *PatternMatcher) IsAllowed(filePath string) bool {
	filePath = path.Clean(filePath)

	// Denied patterns take precedence
	for _, pattern := range pm.deniedPatterns {
		if pattern.Match(filePath) {
			return false
		}
	}

	if len(pm.allowedPatterns) == 0 {
		return true
	}

	for _, pattern := range pm.allowedPatterns {
		if pattern.Match(filePath) {
			return true
		}
	}

	return false
}
