package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates no quiz matched the given reference.
var ErrNotFound = errors.New("quiz not found")

// AmbiguousError reports a partial-title reference matching several quizzes.
type AmbiguousError struct {
	Ref        string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous quiz reference %q: matches %s", e.Ref, strings.Join(e.Candidates, ", "))
}

// ValidationError reports structurally invalid quiz data. Question is the
// zero-based index of the offending question, or -1 for quiz-level problems.
type ValidationError struct {
	Question int
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Question < 0 {
		return "invalid quiz: " + e.Reason
	}
	return fmt.Sprintf("invalid quiz: question %d: %s", e.Question+1, e.Reason)
}
