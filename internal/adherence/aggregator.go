package adherence

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

// Config holds the reconciliation windows
type Config struct {
	// GraceWindow is how far a dose may be taken from its scheduled time and still count as on time
	GraceWindow time.Duration
	// LateWindow is how long after the scheduled time a log is still matched to the dose
	LateWindow time.Duration
}

// DefaultConfig returns the standard reconciliation windows
func DefaultConfig() Config {
	return Config{
		GraceWindow: 30 * time.Minute,
		LateWindow:  4 * time.Hour,
	}
}

// Aggregator reconciles dose logs against expected doses
type Aggregator struct {
	cfg Config
	now func() time.Time
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithClock overrides the time source used to decide which doses are in the past
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator creates an Aggregator
func NewAggregator(cfg Config, opts ...Option) *Aggregator {
	def := DefaultConfig()
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = def.GraceWindow
	}
	if cfg.LateWindow < cfg.GraceWindow {
		cfg.LateWindow = def.LateWindow
	}
	a := &Aggregator{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the effective reconciliation windows
func (a *Aggregator) Config() Config {
	return a.cfg
}

type match struct {
	dose     int
	log      int
	pinned   bool
	distance time.Duration
}

// Reconcile materializes the expected doses of s within [start, end] and
// resolves each one against the logs recorded for s; logs naming another
// or no schedule are ignored. Every log is consumed at most once,
// closest first. Unmatched past doses are missed; unmatched future doses
// stay pending.
func (a *Aggregator) Reconcile(s model.Schedule, logs []model.DoseLog, start, end time.Time) ([]model.DoseEvent, error) {
	occ, err := schedule.Occurrences(s, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize doses for schedule %s: %w", s.ID, err)
	}

	relevant := make([]model.DoseLog, 0, len(logs))
	for _, l := range logs {
		if l.ScheduleID != s.ID {
			continue
		}
		if l.Status == model.DoseStatusPending {
			continue
		}
		relevant = append(relevant, l)
	}

	var candidates []match
	for i, o := range occ {
		for j, l := range relevant {
			if l.ScheduledFor != nil && l.ScheduledFor.Equal(o.At) {
				candidates = append(candidates, match{dose: i, log: j, pinned: true})
				continue
			}
			if l.ScheduledFor != nil {
				// pinned to another dose
				continue
			}
			delta := l.ActionTime().Sub(o.At)
			if delta < -a.cfg.GraceWindow || delta > a.cfg.LateWindow {
				continue
			}
			candidates = append(candidates, match{dose: i, log: j, distance: abs(delta)})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.pinned != cj.pinned {
			return ci.pinned
		}
		if ci.distance != cj.distance {
			return ci.distance < cj.distance
		}
		if ci.dose != cj.dose {
			return ci.dose < cj.dose
		}
		return ci.log < cj.log
	})

	matched := make(map[int]int, len(occ))
	usedLogs := make(map[int]bool, len(relevant))
	for _, c := range candidates {
		if _, ok := matched[c.dose]; ok || usedLogs[c.log] {
			continue
		}
		matched[c.dose] = c.log
		usedLogs[c.log] = true
	}

	now := a.now()
	events := make([]model.DoseEvent, 0, len(occ))
	for i, o := range occ {
		ev := model.DoseEvent{
			ScheduleID:    s.ID,
			MedicationID:  s.MedicationID,
			ScheduledTime: o.At,
		}
		if j, ok := matched[i]; ok {
			l := relevant[j]
			ev.Status = a.classify(l, o.At)
			ev.Notes = l.Notes
			if ev.Status == model.DoseStatusTaken || ev.Status == model.DoseStatusLate {
				taken := l.ActionTime()
				ev.TakenTime = &taken
			}
		} else if o.At.Before(now) {
			ev.Status = model.DoseStatusMissed
		} else {
			ev.Status = model.DoseStatusPending
		}
		events = append(events, ev)
	}
	return events, nil
}

func (a *Aggregator) classify(l model.DoseLog, scheduled time.Time) model.DoseStatus {
	switch l.Status {
	case model.DoseStatusSkipped, model.DoseStatusMissed, model.DoseStatusLate:
		return l.Status
	}
	if l.ActionTime().Sub(scheduled) > a.cfg.GraceWindow {
		return model.DoseStatusLate
	}
	return model.DoseStatusTaken
}

// Aggregate computes the adherence of one schedule over [start, end]
func (a *Aggregator) Aggregate(s model.Schedule, logs []model.DoseLog, start, end time.Time) (model.AdherenceStat, error) {
	events, err := a.Reconcile(s, logs, start, end)
	if err != nil {
		return model.AdherenceStat{}, err
	}
	return Summarize(events), nil
}

// AggregateAll sums the counters of every schedule and recomputes the rate
// from the totals. logs is keyed by schedule ID.
func (a *Aggregator) AggregateAll(schedules []model.Schedule, logs map[string][]model.DoseLog, start, end time.Time) (model.AdherenceStat, map[string]model.AdherenceStat, error) {
	var total model.AdherenceStat
	perSchedule := make(map[string]model.AdherenceStat, len(schedules))
	for _, s := range schedules {
		stat, err := a.Aggregate(s, logs[s.ID], start, end)
		if err != nil {
			return model.AdherenceStat{}, nil, err
		}
		perSchedule[s.ID] = stat
		total.Add(stat)
	}
	total.AdherenceRate = Rate(total.Taken, total.Total)
	return total, perSchedule, nil
}

// Summarize counts resolved events; pending doses are left out
func Summarize(events []model.DoseEvent) model.AdherenceStat {
	var stat model.AdherenceStat
	for _, ev := range events {
		switch ev.Status {
		case model.DoseStatusTaken:
			stat.Taken++
		case model.DoseStatusLate:
			stat.Late++
		case model.DoseStatusMissed:
			stat.Missed++
		case model.DoseStatusSkipped:
			stat.Skipped++
		default:
			continue
		}
		stat.Total++
	}
	stat.AdherenceRate = Rate(stat.Taken, stat.Total)
	return stat
}

// Rate is taken/total as a percentage rounded to two decimals. Nothing
// expected counts as full adherence.
func Rate(taken, total int) float64 {
	if total <= 0 {
		return 100
	}
	return math.Round(float64(taken)/float64(total)*10000) / 100
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
