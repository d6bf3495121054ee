package jobs

import (
	"errors"
	"fmt"
	"slices"

	"exportstudio/internal/store"
)

// ErrUnknownPattern rejects a pattern outside the fixed enumeration for the
// job type.
var ErrUnknownPattern = errors.New("unknown pattern")

var conversationPatterns = []string{
	"extract_wisdom",
	"summarize",
	"analyze_debate",
	"rate_content",
	"create_report_finding",
}

var projectPatterns = []string{
	"summarize",
	"extract_wisdom",
	"analyze_paper",
}

// Patterns returns the allowed pattern names for a job type.
func Patterns(t store.JobType) []string {
	switch t {
	case store.JobTypeConversation:
		return slices.Clone(conversationPatterns)
	case store.JobTypeProject:
		return slices.Clone(projectPatterns)
	default:
		return nil
	}
}

// ValidatePattern checks a pattern against the enumeration for its job type.
func ValidatePattern(t store.JobType, pattern string) error {
	if !slices.Contains(Patterns(t), pattern) {
		return fmt.Errorf("%w: %q for type %q", ErrUnknownPattern, pattern, t)
	}
	return nil
}
