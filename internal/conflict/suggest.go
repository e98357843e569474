package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

// target describes one conflict from the point of view of the schedule
// that has to move
type target struct {
	kind     model.ConflictKind
	original patternKey
	// known holds every pattern the pair already produced before any change
	known map[patternKey]bool

	mutated      *prepared
	preserved    *prepared
	mutatedIsA   bool
	mutatedAt    time.Time
	preservedAt  time.Time
	mutatedClock model.TimeOfDay

	from time.Time
	to   time.Time
}

// suggest returns at most one verified remediation. An empty result marks
// the conflict as requiring manual review.
func (d *Detector) suggest(t *target) []model.Suggestion {
	generators := []func(*target) []model.Change{
		d.timeShifts,
		d.intervalAdjustments,
		d.mealOffsets,
		d.mealChanges,
	}
	for _, generate := range generators {
		for _, change := range generate(t) {
			hypothetical, err := change.Apply(t.mutated.sched)
			if err != nil {
				continue
			}
			if d.resolves(t, hypothetical) {
				return []model.Suggestion{d.describe(t, change)}
			}
		}
	}
	return []model.Suggestion{}
}

// resolves re-runs pair detection against the hypothetical schedule. The
// change is accepted only if the original pattern disappears and no new
// pattern of the same kind shows up.
func (d *Detector) resolves(t *target, hypothetical model.Schedule) bool {
	normalized, err := schedule.Validate(hypothetical)
	if err != nil {
		return false
	}
	p, err := d.prepare(normalized, t.from, t.to)
	if err != nil {
		return false
	}

	var after map[patternKey]collision
	if t.mutatedIsA {
		after = d.collide(p, t.preserved)
	} else {
		after = d.collide(t.preserved, p)
	}
	for key := range after {
		if key.kind != t.kind {
			continue
		}
		if key == t.original || !t.known[key] {
			return false
		}
	}
	return true
}

func (d *Detector) threshold(t *target) time.Duration {
	switch t.kind {
	case model.ConflictIntervalOverlap:
		return sharedInterval(t.mutated.sched, t.preserved.sched)
	case model.ConflictMeal:
		return d.cfg.MealWindow
	default:
		return d.cfg.ProximityThreshold
	}
}

// timeShifts moves the colliding clock just outside the threshold of a
// nearby preserved dose, smallest shift first
func (d *Detector) timeShifts(t *target) []model.Change {
	if t.kind != model.ConflictTimeProximity && t.kind != model.ConflictIntervalOverlap {
		return nil
	}
	threshold := d.threshold(t)
	reach := 24*time.Hour + threshold

	seen := make(map[time.Duration]bool)
	var deltas []time.Duration
	add := func(delta time.Duration) {
		if delta == 0 || seen[delta] {
			return
		}
		seen[delta] = true
		deltas = append(deltas, delta)
	}
	for _, p := range t.preserved.doses {
		if absDuration(p.at.Sub(t.mutatedAt)) > reach {
			continue
		}
		add(ceilMinute(p.at.Add(threshold).Sub(t.mutatedAt)))
		add(floorMinute(p.at.Add(-threshold).Sub(t.mutatedAt)))
	}
	sort.Slice(deltas, func(i, j int) bool {
		ai, aj := absDuration(deltas[i]), absDuration(deltas[j])
		if ai != aj {
			return ai < aj
		}
		return deltas[i] > deltas[j]
	})

	existing := make(map[model.TimeOfDay]bool, len(t.mutated.sched.Times))
	for _, c := range t.mutated.sched.Times {
		existing[c] = true
	}

	var out []model.Change
	for _, delta := range deltas {
		shifted, ok := t.mutatedClock.Add(delta)
		if !ok || existing[shifted] {
			continue
		}
		out = append(out, model.TimeShift{Original: t.mutatedClock, Suggested: shifted})
	}
	return out
}

// intervalAdjustments walks outward from the current interval within the
// configured safety bounds, narrower first on ties
func (d *Detector) intervalAdjustments(t *target) []model.Change {
	s := t.mutated.sched
	var out []model.Change
	if t.kind == model.ConflictIntervalOverlap && s.IntervalHours > 0 {
		for _, v := range outward(s.IntervalHours, d.cfg.MinIntervalHours, d.cfg.MaxIntervalHours) {
			out = append(out, model.IntervalAdjustment{Unit: model.IntervalUnitHours, Original: s.IntervalHours, Suggested: v})
		}
	}
	if t.kind != model.ConflictMeal && s.RecurrenceType == model.RecurrenceCustomInterval && s.IntervalDays > 0 {
		for _, v := range outward(s.IntervalDays, d.cfg.MinIntervalDays, d.cfg.MaxIntervalDays) {
			out = append(out, model.IntervalAdjustment{Unit: model.IntervalUnitDays, Original: s.IntervalDays, Suggested: v})
		}
	}
	return out
}

func outward(current, lo, hi int) []int {
	var out []int
	for dist := 1; current-dist >= lo || current+dist <= hi; dist++ {
		if v := current - dist; v >= lo && v <= hi {
			out = append(out, v)
		}
		if v := current + dist; v >= lo && v <= hi {
			out = append(out, v)
		}
	}
	return out
}

// mealOffsets moves the dose anchor just outside the meal window of the
// preserved dose while keeping it on the same side of the meal
func (d *Detector) mealOffsets(t *target) []model.Change {
	if t.kind != model.ConflictMeal {
		return nil
	}
	rel := t.mutated.sched.MealRelation
	if rel == nil || rel.Timing == model.MealWith {
		return nil
	}
	mealAt := t.mutatedAt.Add(-rel.AnchorOffset())
	window := d.cfg.MealWindow

	later := t.preservedAt.Add(window)
	earlier := t.preservedAt.Add(-window)

	var offsets []int
	if rel.Timing == model.MealBefore {
		offsets = []int{
			floorMinutes(mealAt.Sub(later)),
			ceilMinutes(mealAt.Sub(earlier)),
		}
	} else {
		offsets = []int{
			ceilMinutes(later.Sub(mealAt)),
			floorMinutes(earlier.Sub(mealAt)),
		}
	}

	var valid []int
	for _, o := range offsets {
		if o < 1 || o > d.cfg.MaxMealOffsetMinutes || o == rel.OffsetMinutes {
			continue
		}
		valid = append(valid, o)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return absInt(valid[i]-rel.OffsetMinutes) < absInt(valid[j]-rel.OffsetMinutes)
	})

	out := make([]model.Change, 0, len(valid))
	for _, o := range valid {
		out = append(out, model.MealOffsetAdjustment{Original: rel.OffsetMinutes, Suggested: o})
	}
	return out
}

// mealChanges ties the dose to another configured meal
func (d *Detector) mealChanges(t *target) []model.Change {
	if t.kind != model.ConflictMeal {
		return nil
	}
	rel := t.mutated.sched.MealRelation
	other := t.preserved.sched.MealRelation
	if rel == nil || other == nil {
		return nil
	}
	var out []model.Change
	for _, meal := range d.meals {
		if strings.EqualFold(meal, rel.Meal) || strings.EqualFold(meal, other.Meal) {
			continue
		}
		out = append(out, model.MealChange{Original: rel.Meal, Suggested: meal})
	}
	return out
}

func (d *Detector) describe(t *target, change model.Change) model.Suggestion {
	s := t.mutated.sched
	sg := model.Suggestion{
		ScheduleID:   s.ID,
		MedicationID: s.MedicationID,
		Change:       change,
		Reason:       reason(t),
	}
	switch c := change.(type) {
	case model.TimeShift:
		sg.Description = fmt.Sprintf("Move the %s dose of %s to %s", c.Original, s.MedicationID, c.Suggested)
	case model.IntervalAdjustment:
		sg.Description = fmt.Sprintf("Change the interval of %s from %d to %d %s", s.MedicationID, c.Original, c.Suggested, c.Unit)
	case model.MealOffsetAdjustment:
		sg.Description = fmt.Sprintf("Take %s %d minutes %s %s instead of %d", s.MedicationID, c.Suggested, s.MealRelation.Timing, s.MealRelation.Meal, c.Original)
	case model.MealChange:
		sg.Description = fmt.Sprintf("Take %s with %s instead of %s", s.MedicationID, c.Suggested, c.Original)
	}
	return sg
}

func reason(t *target) string {
	other := t.preserved.sched.MedicationID
	switch t.kind {
	case model.ConflictIntervalOverlap:
		return fmt.Sprintf("Doses fall within the %s minimum interval of %s", sharedInterval(t.mutated.sched, t.preserved.sched), other)
	case model.ConflictMeal:
		return fmt.Sprintf("Both medications are anchored to %s at the same time as %s", t.preserved.sched.MealRelation.Meal, other)
	default:
		return fmt.Sprintf("Dose is within %s of a dose of %s", absDuration(t.preservedAt.Sub(t.mutatedAt)), other)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func floorMinute(d time.Duration) time.Duration {
	return time.Duration(floorMinutes(d)) * time.Minute
}

func ceilMinute(d time.Duration) time.Duration {
	return time.Duration(ceilMinutes(d)) * time.Minute
}

func floorMinutes(d time.Duration) int {
	m := d / time.Minute
	if d%time.Minute < 0 {
		m--
	}
	return int(m)
}

func ceilMinutes(d time.Duration) int {
	m := d / time.Minute
	if d%time.Minute > 0 {
		m++
	}
	return int(m)
}
