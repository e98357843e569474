package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

// NextDose is the upcoming dose of one schedule; NextDose is nil when
// nothing is due within the lookahead
type NextDose struct {
	ScheduleID   string     `json:"schedule_id"`
	MedicationID string     `json:"medication_id"`
	From         time.Time  `json:"from"`
	NextDose     *time.Time `json:"next_dose"`
}

// DueDose is one dose falling inside a due window
type DueDose struct {
	ScheduleID   string    `json:"schedule_id"`
	MedicationID string    `json:"medication_id"`
	At           time.Time `json:"at"`
}

// NewNextCommand creates the next command
func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	var from, id string

	cmd := &cobra.Command{
		Use:           "next <schedule-file>",
		Short:         "Print the next dose of each schedule",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNext(rootOpts, args[0], from, id, cmd)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "reference instant in RFC 3339 (default now)")
	cmd.Flags().StringVar(&id, "id", "", "only report the schedule with this ID")
	return cmd
}

func runNext(opts *RootOptions, path, fromFlag, id string, cmd *cobra.Command) error {
	from, err := instantFlag("from", fromFlag, opts.now())
	if err != nil {
		return err
	}
	schedules, _, err := loadValidSchedules(opts, path)
	if err != nil {
		return err
	}
	schedules, err = selectSchedule(schedules, id)
	if err != nil {
		return err
	}

	calc := schedule.NewCalculator(opts.LookaheadDays)
	results := make([]NextDose, 0, len(schedules))
	for _, s := range schedules {
		result := NextDose{ScheduleID: s.ID, MedicationID: s.MedicationID, From: from}
		next, err := calc.Next(s, from)
		switch {
		case errors.Is(err, schedule.ErrNoUpcomingDose):
		case err != nil:
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to compute next dose of %s", s.ID), err)
		default:
			result.NextDose = &next
		}
		results = append(results, result)
	}

	return opts.formatter(cmd).Emit(results, func(w io.Writer) error {
		for _, r := range results {
			if r.NextDose == nil {
				fmt.Fprintf(w, "%s\t%s\tno upcoming dose\n", r.ScheduleID, r.MedicationID)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.ScheduleID, r.MedicationID, r.NextDose.Format(time.RFC3339))
		}
		return nil
	})
}

// NewDueCommand creates the due command
func NewDueCommand(rootOpts *RootOptions) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "due <schedule-file>",
		Short: "List the doses falling due in a window",
		Long: `List every dose of every schedule in the file that becomes due
after --from and no later than --to, in chronological order.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDue(rootOpts, args[0], from, to, cmd)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "window start in RFC 3339 (default now)")
	cmd.Flags().StringVar(&to, "to", "", "window end in RFC 3339 (default from + 24h)")
	return cmd
}

func runDue(opts *RootOptions, path, fromFlag, toFlag string, cmd *cobra.Command) error {
	from, err := instantFlag("from", fromFlag, opts.now())
	if err != nil {
		return err
	}
	to, err := instantFlag("to", toFlag, from.Add(24*time.Hour))
	if err != nil {
		return err
	}
	if to.Before(from) {
		return NewExitError(ExitCommandError, "--to must not be before --from")
	}

	schedules, _, err := loadValidSchedules(opts, path)
	if err != nil {
		return err
	}

	due := make([]DueDose, 0)
	for _, s := range schedules {
		occ, err := schedule.DueBetween(s, from, to)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to expand schedule %s", s.ID), err)
		}
		for _, o := range occ {
			due = append(due, DueDose{ScheduleID: s.ID, MedicationID: s.MedicationID, At: o.At})
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].At.Before(due[j].At) })

	return opts.formatter(cmd).Emit(due, func(w io.Writer) error {
		if len(due) == 0 {
			fmt.Fprintln(w, "no doses due")
			return nil
		}
		for _, d := range due {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.At.Format(time.RFC3339), d.ScheduleID, d.MedicationID)
		}
		return nil
	})
}

func selectSchedule(schedules []model.Schedule, id string) ([]model.Schedule, error) {
	if id == "" {
		return schedules, nil
	}
	for _, s := range schedules {
		if s.ID == id {
			return []model.Schedule{s}, nil
		}
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("schedule %q not found", id))
}

func instantFlag(name, raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	t, err := parseTimestamp(raw)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "invalid --"+name, err)
	}
	return t, nil
}
