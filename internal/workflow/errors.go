package workflow

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that the caller handed the workflow a task that does
// not exist (nil). The HTTP layer maps it to 404.
var ErrNotFound = errors.New("task not found")

// ValidationError indicates malformed input: empty title, out-of-enum value,
// unparseable date. Maps to 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ForbiddenError indicates a well-formed request the actor may not make.
// Rule names the policy gate that failed so the HTTP layer can render a
// precise 403 without re-deriving policy.
type ForbiddenError struct {
	Rule   string
	Detail string
}

func (e ForbiddenError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("forbidden: %s", e.Rule)
	}
	return fmt.Sprintf("forbidden: %s (%s)", e.Rule, e.Detail)
}

// Rule names used in ForbiddenError.
const (
	RuleModifyEntity            = "modify_entity"
	RuleSetPriorityOrAssignment = "set_priority_or_assignment"
	RuleTransitionStatus        = "transition_status"
	RuleSetReviewStatus         = "set_review_status"
	RuleCreateTask              = "create_task"
)
