package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/vcscsvcscs/regimen/internal/adherence"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

// ScheduleStat is the adherence of one schedule
type ScheduleStat struct {
	ScheduleID   string              `json:"schedule_id"`
	MedicationID string              `json:"medication_id"`
	Stat         model.AdherenceStat `json:"stat"`
	Events       []model.DoseEvent   `json:"events,omitempty"`
}

// AdherenceReport is the output of the adherence command
type AdherenceReport struct {
	Start     time.Time           `json:"start"`
	End       time.Time           `json:"end"`
	Overall   model.AdherenceStat `json:"overall"`
	Schedules []ScheduleStat      `json:"schedules"`
}

// NewAdherenceCommand creates the adherence command
func NewAdherenceCommand(rootOpts *RootOptions) *cobra.Command {
	var start, end, asOf string
	var events bool

	cmd := &cobra.Command{
		Use:   "adherence <schedule-file>",
		Short: "Reconcile dose logs against schedules",
		Long: `Reconcile the doses listed in the file against the expected doses of
its schedules between --start and --end and print per-schedule and
overall adherence.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdherence(rootOpts, args[0], start, end, asOf, events, cmd)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "window start in RFC 3339 (required)")
	cmd.Flags().StringVar(&end, "end", "", "window end in RFC 3339 (default now)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "instant separating past from pending doses (default now)")
	cmd.Flags().BoolVar(&events, "events", false, "include every reconciled dose")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func runAdherence(opts *RootOptions, path, startFlag, endFlag, asOfFlag string, withEvents bool, cmd *cobra.Command) error {
	asOf, err := instantFlag("as-of", asOfFlag, opts.now())
	if err != nil {
		return err
	}
	start, err := instantFlag("start", startFlag, time.Time{})
	if err != nil {
		return err
	}
	end, err := instantFlag("end", endFlag, asOf)
	if err != nil {
		return err
	}
	if start.IsZero() || !end.After(start) {
		return NewExitError(ExitCommandError, "--end must be after --start")
	}

	schedules, doc, err := loadValidSchedules(opts, path)
	if err != nil {
		return err
	}
	logs, err := doc.DoseLogs()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load doses", err)
	}
	known := make(map[string]bool, len(schedules))
	for _, s := range schedules {
		known[s.ID] = true
	}
	for id := range logs {
		if !known[id] {
			return NewExitError(ExitCommandError, fmt.Sprintf("dose logged against unknown schedule %q", id))
		}
	}

	agg := adherence.NewAggregator(opts.Adherence, adherence.WithClock(func() time.Time { return asOf }))
	report := AdherenceReport{Start: start, End: end, Schedules: make([]ScheduleStat, 0, len(schedules))}
	for _, s := range schedules {
		events, err := agg.Reconcile(s, logs[s.ID], start, end)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to reconcile schedule %s", s.ID), err)
		}
		stat := ScheduleStat{ScheduleID: s.ID, MedicationID: s.MedicationID, Stat: adherence.Summarize(events)}
		if withEvents {
			stat.Events = events
		}
		report.Overall.Add(stat.Stat)
		report.Schedules = append(report.Schedules, stat)
	}
	report.Overall.AdherenceRate = adherence.Rate(report.Overall.Taken, report.Overall.Total)

	return opts.formatter(cmd).Emit(report, report.writeText)
}

func (r AdherenceReport) writeText(w io.Writer) error {
	fmt.Fprintf(w, "%s - %s\n", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	for _, s := range r.Schedules {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ScheduleID, s.MedicationID, formatStat(s.Stat))
		for _, e := range s.Events {
			fmt.Fprintf(w, "  %s\t%s\n", e.ScheduledTime.Format(time.RFC3339), e.Status)
		}
	}
	fmt.Fprintf(w, "overall\t%s\n", formatStat(r.Overall))
	return nil
}

func formatStat(s model.AdherenceStat) string {
	return fmt.Sprintf("%.2f%% (taken %d, late %d, missed %d, skipped %d of %d)",
		s.AdherenceRate, s.Taken, s.Late, s.Missed, s.Skipped, s.Total)
}
