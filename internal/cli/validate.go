package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// ScheduleProblem is one rejected field of one schedule
type ScheduleProblem struct {
	ScheduleID string `json:"schedule_id"`
	Field      string `json:"field"`
	Message    string `json:"message"`
}

// ValidationResult holds the outcome of validating a schedule file
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Schedules []model.Schedule  `json:"schedules"`
	Problems  []ScheduleProblem `json:"problems,omitempty"`
}

// NewValidateCommand creates the validate command
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schedule-file>",
		Short: "Validate and normalize the schedules in a file",
		Long: `Validate every schedule in a YAML or JSON file and print the
normalized form: times sorted, default time zone and priority filled in.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	schedules, _, err := loadSchedules(opts, path)
	if err != nil {
		return err
	}

	result := ValidateSchedules(schedules)
	if err := opts.formatter(cmd).Emit(result, result.writeText); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed: %d problem(s)", len(result.Problems)))
	}
	return nil
}

// ValidateSchedules validates each schedule independently
func ValidateSchedules(schedules []model.Schedule) ValidationResult {
	result := ValidationResult{Valid: true, Schedules: make([]model.Schedule, 0, len(schedules))}
	for _, s := range schedules {
		normalized, err := schedule.Validate(s)
		if err == nil {
			result.Schedules = append(result.Schedules, normalized)
			continue
		}

		result.Valid = false
		var verr *schedule.ValidationError
		var unsupported *schedule.UnsupportedRecurrenceError
		switch {
		case errors.As(err, &verr):
			for _, p := range verr.Problems {
				result.Problems = append(result.Problems, ScheduleProblem{ScheduleID: s.ID, Field: p.Field, Message: p.Message})
			}
		case errors.As(err, &unsupported):
			result.Problems = append(result.Problems, ScheduleProblem{ScheduleID: s.ID, Field: "recurrence_type", Message: unsupported.Error()})
		default:
			result.Problems = append(result.Problems, ScheduleProblem{ScheduleID: s.ID, Message: err.Error()})
		}
	}
	return result
}

func (r ValidationResult) writeText(w io.Writer) error {
	for _, s := range r.Schedules {
		fmt.Fprintf(w, "✓ %s (%s, %s) %s\n", s.ID, s.MedicationID, s.RecurrenceType, joinTimes(s.Times))
	}
	for _, p := range r.Problems {
		fmt.Fprintf(w, "✗ %s %s: %s\n", p.ScheduleID, p.Field, p.Message)
	}
	if r.Valid {
		fmt.Fprintf(w, "All %d schedule(s) valid\n", len(r.Schedules))
	} else {
		fmt.Fprintln(w, "Validation failed")
	}
	return nil
}

// loadSchedules reads a file and converts its entries. Decoding failures
// are command errors, not validation failures.
func loadSchedules(opts *RootOptions, path string) ([]model.Schedule, *Document, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load schedules", err)
	}
	schedules, err := doc.ScheduleList()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load schedules", err)
	}
	opts.logger().Debug("schedules loaded",
		zap.String("path", path),
		zap.Int("schedules", len(schedules)),
		zap.Int("doses", len(doc.Doses)),
	)
	return schedules, doc, nil
}

// loadValidSchedules is loadSchedules followed by validation; any invalid
// schedule fails the command
func loadValidSchedules(opts *RootOptions, path string) ([]model.Schedule, *Document, error) {
	schedules, doc, err := loadSchedules(opts, path)
	if err != nil {
		return nil, nil, err
	}
	result := ValidateSchedules(schedules)
	if !result.Valid {
		p := result.Problems[0]
		return nil, nil, NewExitError(ExitFailure, fmt.Sprintf("invalid schedule %s: %s: %s", p.ScheduleID, p.Field, p.Message))
	}
	return result.Schedules, doc, nil
}

func joinTimes(times []model.TimeOfDay) string {
	out := ""
	for i, t := range times {
		if i > 0 {
			out += ","
		}
		out += t.String()
	}
	return out
}
