package retry

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/batch/job"
)

// Category groups errors by their origin.
type Category string

// Error categories.
const (
	CategoryFileIO        Category = "file_io"
	CategoryMemory        Category = "memory"
	CategoryProcessing    Category = "processing"
	CategorySystem        Category = "system"
	CategoryValidation    Category = "validation"
	CategoryRendering     Category = "rendering"
	CategoryNetwork       Category = "network"
	CategoryConfiguration Category = "configuration"
	CategoryUserError     Category = "user_error"
	CategoryUnknown       Category = "unknown"
)

// Severity ranks how serious an error is.
type Severity string

// Severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Pattern is one classification rule.
type Pattern struct {
	Code       *regexp.Regexp
	Message    *regexp.Regexp
	Category   Category
	Severity   Severity
	MaxRetries int
	BaseDelay  time.Duration
	Strategy   string
}

// NewPattern compiles a case-insensitive rule.
func NewPattern(code, message string, category Category, severity Severity,
	maxRetries int, baseDelay time.Duration, strategy string,
) (Pattern, error) {
	codeRe, err := regexp.Compile("(?i)" + code)
	if err != nil {
		return Pattern{}, fmt.Errorf("retry: compile code pattern %q: %w", code, err)
	}
	msgRe, err := regexp.Compile("(?i)" + message)
	if err != nil {
		return Pattern{}, fmt.Errorf("retry: compile message pattern %q: %w", message, err)
	}
	return Pattern{
		Code:       codeRe,
		Message:    msgRe,
		Category:   category,
		Severity:   severity,
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		Strategy:   strategy,
	}, nil
}

// MustPattern is like NewPattern but panics on an invalid expression.
func MustPattern(code, message string, category Category, severity Severity,
	maxRetries int, baseDelay time.Duration, strategy string,
) Pattern {
	p, err := NewPattern(code, message, category, severity, maxRetries, baseDelay, strategy)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches reports whether the rule matches e's code or message.
func (p Pattern) Matches(e *job.Error) bool {
	if e == nil {
		return false
	}
	return p.Code.MatchString(e.Code) || p.Message.MatchString(e.Message)
}

// matchNothing stands in for an omitted code or message expression.
const matchNothing = `[^\s\S]`

// catchAll is appended to any table that lacks one.
func catchAll() Pattern {
	return MustPattern(".*", ".*", CategoryUnknown, SeverityMedium, 1, time.Second, StrategyDefaultRetry)
}

var defaultPatterns = sync.OnceValue(func() []Pattern {
	return []Pattern{
		MustPattern("^"+job.CodeExecutorNotFound+"$", matchNothing,
			CategoryConfiguration, SeverityCritical, 0, 0, StrategySkipJob),
		MustPattern(job.CodeSTLLoadFailed, ".*load.*file.*",
			CategoryFileIO, SeverityHigh, 2, time.Second, StrategyCheckFilePermissions),
		MustPattern(".*FILE.*NOT.*FOUND.*", ".*not found.*|.*does not exist.*",
			CategoryFileIO, SeverityCritical, 0, 0, StrategySkipJob),
		MustPattern(job.CodeMemory, ".*memory.*|.*out of memory.*",
			CategoryMemory, SeverityHigh, 1, 5*time.Second, StrategyReduceBatchSize),
		MustPattern(job.CodeRenderFailed, ".*render.*failed.*",
			CategoryRendering, SeverityMedium, 3, 2*time.Second, StrategyFallbackRenderer),
		MustPattern(job.CodeValidationFailed, ".*validation.*failed.*",
			CategoryValidation, SeverityLow, 1, time.Second, StrategyAutoRepair),
		MustPattern(job.CodeInterrupted, ".*interrupt.*|.*cancel.*",
			CategorySystem, SeverityLow, 0, 0, StrategyResumeLater),
		catchAll(),
	}
})

// DefaultPatterns returns a copy of the built-in classification table.
// The table is compiled once per process.
func DefaultPatterns() []Pattern {
	return append([]Pattern(nil), defaultPatterns()...)
}

// IsCatchAll reports whether p matches every error.
func (p Pattern) IsCatchAll() bool {
	return p.Code.String() == "(?i).*" && p.Message.String() == "(?i).*"
}

// ──────────────────────────────────────────────────
// Classifier
// ──────────────────────────────────────────────────

// Classifier maps job errors to patterns. It is immutable and safe for
// concurrent use.
type Classifier struct {
	patterns []Pattern
}

// NewClassifier creates a classifier over patterns, tried in order. With
// no patterns the built-in table is used. A catch-all rule is appended
// when the last pattern is not one.
func NewClassifier(patterns ...Pattern) *Classifier {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	patterns = append([]Pattern(nil), patterns...)
	if !patterns[len(patterns)-1].IsCatchAll() {
		patterns = append(patterns, catchAll())
	}
	return &Classifier{patterns: patterns}
}

// Classify returns the first pattern matching e.
func (c *Classifier) Classify(e *job.Error) Pattern {
	for _, p := range c.patterns {
		if p.Matches(e) {
			return p
		}
	}
	return c.patterns[len(c.patterns)-1]
}

// Patterns returns the rules in priority order.
func (c *Classifier) Patterns() []Pattern {
	return append([]Pattern(nil), c.patterns...)
}

// ──────────────────────────────────────────────────
// YAML tables
// ──────────────────────────────────────────────────

type patternFile struct {
	Patterns []patternEntry `yaml:"patterns"`
}

type patternEntry struct {
	Code       string `yaml:"code"`
	Message    string `yaml:"message"`
	Category   string `yaml:"category"`
	Severity   string `yaml:"severity"`
	MaxRetries int    `yaml:"max_retries"`
	BaseDelay  string `yaml:"base_delay"`
	Strategy   string `yaml:"strategy"`
}

// LoadPatterns reads a pattern table from YAML:
//
//	patterns:
//	  - code: RENDER_FAILED
//	    message: ".*render.*failed.*"
//	    category: rendering
//	    severity: medium
//	    max_retries: 3
//	    base_delay: 2s
//	    strategy: fallback_renderer
func LoadPatterns(r io.Reader) ([]Pattern, error) {
	var f patternFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("retry: decode patterns: %w", err)
	}
	if len(f.Patterns) == 0 {
		return nil, fmt.Errorf("retry: pattern file has no patterns")
	}

	out := make([]Pattern, 0, len(f.Patterns))
	for i, e := range f.Patterns {
		if e.Code == "" {
			e.Code = matchNothing
		}
		if e.Message == "" {
			e.Message = matchNothing
		}
		var delay time.Duration
		if e.BaseDelay != "" {
			d, err := time.ParseDuration(e.BaseDelay)
			if err != nil {
				return nil, fmt.Errorf("retry: pattern %d: base_delay: %w", i, err)
			}
			delay = d
		}
		if e.MaxRetries < 0 || delay < 0 {
			return nil, fmt.Errorf("retry: pattern %d: negative retry settings", i)
		}
		if e.Strategy == "" {
			e.Strategy = StrategyDefaultRetry
		}
		if e.Category == "" {
			e.Category = string(CategoryUnknown)
		}
		if e.Severity == "" {
			e.Severity = string(SeverityMedium)
		}
		p, err := NewPattern(e.Code, e.Message, Category(e.Category), Severity(e.Severity),
			e.MaxRetries, delay, e.Strategy)
		if err != nil {
			return nil, fmt.Errorf("retry: pattern %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadPatternsFile reads a YAML pattern table from path.
func LoadPatternsFile(path string) ([]Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("retry: open patterns: %w", err)
	}
	defer f.Close()
	return LoadPatterns(f)
}
