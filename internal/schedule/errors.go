package schedule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vcscsvcscs/regimen/pkg/model"
)

// ErrNoUpcomingDose is returned when no dose falls inside the lookahead
var ErrNoUpcomingDose = errors.New("no upcoming dose")

// FieldError describes one rejected field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports a malformed schedule
type ValidationError struct {
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Field, p.Message))
	}
	return "invalid schedule: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Problems = append(e.Problems, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// UnsupportedRecurrenceError reports a recurrence type outside the known set
type UnsupportedRecurrenceError struct {
	RecurrenceType model.RecurrenceType
}

func (e *UnsupportedRecurrenceError) Error() string {
	return fmt.Sprintf("unsupported recurrence type %q", string(e.RecurrenceType))
}
