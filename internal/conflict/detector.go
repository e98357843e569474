package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

// Detector finds pairwise collisions between a candidate schedule and the
// schedules already in place, and proposes a remediation for each one.
// It holds no mutable state and is safe for concurrent use.
type Detector struct {
	cfg   Config
	meals []string
}

// NewDetector creates a Detector; zero fields in cfg fall back to defaults
func NewDetector(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg:   cfg,
		meals: cfg.mealNames(),
	}
}

// Config returns the effective configuration
func (d *Detector) Config() Config {
	return d.cfg
}

// point is a dose (or meal anchor) instant with the local clock it came from
type point struct {
	at    time.Time
	clock model.TimeOfDay
}

// prepared is a schedule materialized over the detection horizon
type prepared struct {
	sched   model.Schedule
	doses   []point
	anchors []point
}

// patternKey identifies a recurring collision independent of the day it lands on
type patternKey struct {
	kind   model.ConflictKind
	clockA model.TimeOfDay
	clockB model.TimeOfDay
}

type collision struct {
	key      patternKey
	occursAt time.Time
	atA      time.Time
	atB      time.Time
}

// Detect returns every conflict between candidate and the existing schedules,
// sorted by occurrence. Each pair is examined over one horizon opening at
// from or at the later of the two start dates, whichever comes last.
// Existing entries sharing the candidate's ID are skipped so that an update
// is never compared against its own previous version.
func (d *Detector) Detect(candidate model.Schedule, existing []model.Schedule, from time.Time) ([]model.Conflict, error) {
	to := from.Add(d.cfg.Horizon)

	cand, err := d.prepare(candidate, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize candidate schedule: %w", err)
	}

	conflicts := make([]model.Conflict, 0)
	for _, e := range existing {
		if candidate.ID != "" && e.ID == candidate.ID {
			continue
		}
		start, end, overlap, err := d.pairWindow(candidate, e, from)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve active window of schedule %s: %w", e.ID, err)
		}
		if !overlap {
			continue
		}

		pairCand := cand
		if !start.Equal(from) {
			if pairCand, err = d.prepare(candidate, start, end); err != nil {
				return nil, fmt.Errorf("failed to materialize candidate schedule: %w", err)
			}
		}
		other, err := d.prepare(e, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to materialize schedule %s: %w", e.ID, err)
		}
		conflicts = append(conflicts, d.resolvePair(pairCand, other, start, end)...)
	}

	sortConflicts(conflicts)
	return conflicts, nil
}

// pairWindow is the detection window shared by a and b. overlap is false
// when one of them ends before the other starts or before from.
func (d *Detector) pairWindow(a, b model.Schedule, from time.Time) (start, end time.Time, overlap bool, err error) {
	start = from
	var until *time.Time
	for _, s := range []model.Schedule{a, b} {
		first, last, err := schedule.ActiveBounds(s)
		if err != nil {
			return time.Time{}, time.Time{}, false, err
		}
		if first.After(start) {
			start = first
		}
		if last != nil && (until == nil || last.Before(*until)) {
			until = last
		}
	}
	if until != nil && !until.After(start) {
		return time.Time{}, time.Time{}, false, nil
	}
	return start, start.Add(d.cfg.Horizon), true, nil
}

func (d *Detector) prepare(s model.Schedule, from, to time.Time) (*prepared, error) {
	occ, err := schedule.Occurrences(s, from, to)
	if err != nil {
		return nil, err
	}
	p := &prepared{sched: s, doses: make([]point, 0, len(occ))}
	for _, o := range occ {
		p.doses = append(p.doses, point{at: o.At, clock: o.Clock})
	}
	sort.SliceStable(p.doses, func(i, j int) bool { return p.doses[i].at.Before(p.doses[j].at) })

	if s.MealRelation == nil {
		return p, nil
	}
	mealClock, ok := d.mealClock(s.MealRelation)
	if !ok {
		return p, nil
	}
	loc, err := schedule.LoadLocation(s.Timezone)
	if err != nil {
		return nil, err
	}
	var last schedule.Date
	for i, o := range occ {
		if i > 0 && o.Date == last {
			continue
		}
		last = o.Date
		at := schedule.At(o.Date, mealClock, loc).Add(s.MealRelation.AnchorOffset())
		local := at.In(loc)
		p.anchors = append(p.anchors, point{at: at, clock: model.NewTimeOfDay(local.Hour(), local.Minute())})
	}
	return p, nil
}

func (d *Detector) mealClock(m *model.MealRelation) (model.TimeOfDay, bool) {
	if m.MealTime != nil {
		return *m.MealTime, true
	}
	at, ok := d.cfg.Meals[strings.ToLower(m.Meal)]
	return at, ok
}

// collide returns the earliest occurrence of every collision pattern between a and b
func (d *Detector) collide(a, b *prepared) map[patternKey]collision {
	found := make(map[patternKey]collision)
	record := func(kind model.ConflictKind) func(x, y point) {
		return func(x, y point) {
			key := patternKey{kind: kind, clockA: x.clock, clockB: y.clock}
			occursAt := x.at
			if y.at.Before(occursAt) {
				occursAt = y.at
			}
			if prev, ok := found[key]; ok && !occursAt.Before(prev.occursAt) {
				return
			}
			found[key] = collision{key: key, occursAt: occursAt, atA: x.at, atB: y.at}
		}
	}

	closePairs(a.doses, b.doses, d.cfg.ProximityThreshold, record(model.ConflictTimeProximity))

	if h := sharedInterval(a.sched, b.sched); h > 0 {
		closePairs(a.doses, b.doses, h, record(model.ConflictIntervalOverlap))
	}

	if sameMeal(a.sched, b.sched) {
		closePairs(a.anchors, b.anchors, d.cfg.MealWindow, record(model.ConflictMeal))
	}
	return found
}

// closePairs emits every pair whose instants are less than threshold apart.
// Both slices must be sorted by instant.
func closePairs(xs, ys []point, threshold time.Duration, emit func(x, y point)) {
	lo := 0
	for _, x := range xs {
		for lo < len(ys) && x.at.Sub(ys[lo].at) >= threshold {
			lo++
		}
		for j := lo; j < len(ys) && ys[j].at.Sub(x.at) < threshold; j++ {
			emit(x, ys[j])
		}
	}
}

// sharedInterval is the smaller declared dosing interval when both schedules
// are frequency-based, zero otherwise
func sharedInterval(a, b model.Schedule) time.Duration {
	if a.IntervalHours <= 0 || b.IntervalHours <= 0 {
		return 0
	}
	h := a.IntervalHours
	if b.IntervalHours < h {
		h = b.IntervalHours
	}
	return time.Duration(h) * time.Hour
}

func sameMeal(a, b model.Schedule) bool {
	if a.MealRelation == nil || b.MealRelation == nil {
		return false
	}
	return strings.EqualFold(a.MealRelation.Meal, b.MealRelation.Meal)
}

func (d *Detector) resolvePair(cand, other *prepared, from, to time.Time) []model.Conflict {
	collisions := d.collide(cand, other)
	if len(collisions) == 0 {
		return nil
	}

	known := make(map[patternKey]bool, len(collisions))
	for key := range collisions {
		known[key] = true
	}

	// the candidate yields unless the existing schedule has lower priority
	mutateCandidate := cand.sched.Priority <= other.sched.Priority

	out := make([]model.Conflict, 0, len(collisions))
	for _, c := range collisions {
		t := &target{
			kind:       c.key.kind,
			original:   c.key,
			known:      known,
			mutatedIsA: mutateCandidate,
			from:       from,
			to:         to,
		}
		if mutateCandidate {
			t.mutated, t.preserved = cand, other
			t.mutatedAt, t.preservedAt = c.atA, c.atB
			t.mutatedClock = c.key.clockA
		} else {
			t.mutated, t.preserved = other, cand
			t.mutatedAt, t.preservedAt = c.atB, c.atA
			t.mutatedClock = c.key.clockB
		}

		out = append(out, model.Conflict{
			ScheduleIDA:   cand.sched.ID,
			ScheduleIDB:   other.sched.ID,
			MedicationIDA: cand.sched.MedicationID,
			MedicationIDB: other.sched.MedicationID,
			OccursAt:      c.occursAt,
			Kind:          c.key.kind,
			DoseTimeA:     c.atA,
			DoseTimeB:     c.atB,
			Suggestions:   d.suggest(t),
		})
	}
	return out
}

func sortConflicts(conflicts []model.Conflict) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		a, b := conflicts[i], conflicts[j]
		if !a.OccursAt.Equal(b.OccursAt) {
			return a.OccursAt.Before(b.OccursAt)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.ScheduleIDB != b.ScheduleIDB {
			return a.ScheduleIDB < b.ScheduleIDB
		}
		if !a.DoseTimeA.Equal(b.DoseTimeA) {
			return a.DoseTimeA.Before(b.DoseTimeA)
		}
		return a.DoseTimeB.Before(b.DoseTimeB)
	})
}
