package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/vcscsvcscs/regimen/internal/conflict"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// ConflictReport lists the conflicts found and whether any of them has no
// suggested remediation
type ConflictReport struct {
	From      time.Time        `json:"from"`
	Conflicts []model.Conflict `json:"conflicts"`
	Blocking  int              `json:"blocking"`
}

// NewConflictsCommand creates the conflicts command
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "conflicts <candidate-file> [existing-file]",
		Short: "Detect conflicts between schedules",
		Long: `Check every schedule of the candidate file against the schedules
of the existing file. With a single file every schedule is checked
against the ones listed before it.

Exits with status 1 when a conflict has no suggested remediation.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(rootOpts, args, from, cmd)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "start of the detection horizon in RFC 3339 (default now)")
	return cmd
}

func runConflicts(opts *RootOptions, args []string, fromFlag string, cmd *cobra.Command) error {
	from, err := instantFlag("from", fromFlag, opts.now())
	if err != nil {
		return err
	}
	candidates, _, err := loadValidSchedules(opts, args[0])
	if err != nil {
		return err
	}

	var existing []model.Schedule
	if len(args) == 2 {
		if existing, _, err = loadValidSchedules(opts, args[1]); err != nil {
			return err
		}
	}

	detector := conflict.NewDetector(opts.Conflict)
	report := ConflictReport{From: from, Conflicts: make([]model.Conflict, 0)}
	for i, candidate := range candidates {
		others := existing
		if len(args) == 1 {
			others = candidates[:i]
		}
		found, err := detector.Detect(candidate, others, from)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to check schedule %s", candidate.ID), err)
		}
		report.Conflicts = append(report.Conflicts, found...)
	}
	for _, c := range report.Conflicts {
		if c.Blocking() {
			report.Blocking++
		}
	}

	opts.logger().Debug("conflict check completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("existing", len(existing)),
		zap.Int("conflicts", len(report.Conflicts)),
		zap.Int("blocking", report.Blocking),
	)

	if err := opts.formatter(cmd).Emit(report, report.writeText); err != nil {
		return err
	}
	if report.Blocking > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d conflict(s) require manual review", report.Blocking))
	}
	return nil
}

func (r ConflictReport) writeText(w io.Writer) error {
	if len(r.Conflicts) == 0 {
		fmt.Fprintln(w, "no conflicts")
		return nil
	}
	for _, c := range r.Conflicts {
		fmt.Fprintf(w, "%s\t%s\t%s (%s) x %s (%s)",
			c.OccursAt.Format(time.RFC3339), c.Kind,
			c.MedicationIDA, c.ScheduleIDA, c.MedicationIDB, c.ScheduleIDB)
		if c.Blocking() {
			fmt.Fprint(w, "\tmanual review")
		}
		fmt.Fprintln(w)
		for _, s := range c.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s.Description)
		}
	}
	fmt.Fprintf(w, "%d conflict(s), %d blocking\n", len(r.Conflicts), r.Blocking)
	return nil
}
