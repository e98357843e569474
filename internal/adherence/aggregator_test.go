package adherence

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

var windowStart = time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

func twiceDaily(id string) model.Schedule {
	return model.Schedule{
		ID:             id,
		MedicationID:   "med-" + id,
		RecurrenceType: model.RecurrenceDaily,
		Times:          []model.TimeOfDay{model.NewTimeOfDay(8, 0), model.NewTimeOfDay(20, 0)},
		StartDate:      windowStart,
		Timezone:       "UTC",
		Priority:       3,
	}
}

func fixedClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func takenLog(scheduleID string, at time.Time, status model.DoseStatus) model.DoseLog {
	return model.DoseLog{
		ScheduleID: scheduleID,
		Status:     status,
		TakenAt:    &at,
		RecordedAt: at,
	}
}

func TestAggregate_Scenario(t *testing.T) {
	s := twiceDaily("s1")
	end := windowStart.Add(10*24*time.Hour - time.Minute)
	agg := NewAggregator(DefaultConfig(), fixedClock(end.Add(24*time.Hour)))

	var logs []model.DoseLog
	dose := 0
	for day := 0; day < 10; day++ {
		for _, h := range []int{8, 20} {
			at := windowStart.AddDate(0, 0, day).Add(time.Duration(h) * time.Hour)
			switch {
			case dose < 17:
				logs = append(logs, takenLog(s.ID, at.Add(5*time.Minute), model.DoseStatusTaken))
			case dose == 17:
				logs = append(logs, takenLog(s.ID, at.Add(2*time.Hour), model.DoseStatusTaken))
			case dose == 18:
				logs = append(logs, model.DoseLog{ScheduleID: s.ID, Status: model.DoseStatusMissed, RecordedAt: at.Add(time.Hour)})
			}
			dose++
		}
	}

	stat, err := agg.Aggregate(s, logs, windowStart, end)
	require.NoError(t, err)
	assert.Equal(t, model.AdherenceStat{Total: 20, Taken: 17, Missed: 2, Late: 1, AdherenceRate: 85}, stat)
}

func TestAggregate_EmptyWindowIsFullAdherence(t *testing.T) {
	s := twiceDaily("s1")
	agg := NewAggregator(DefaultConfig(), fixedClock(windowStart))

	stat, err := agg.Aggregate(s, nil, windowStart, windowStart.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, stat.Total)
	assert.Equal(t, float64(100), stat.AdherenceRate)
}

func TestAggregate_FutureDosesExcluded(t *testing.T) {
	s := twiceDaily("s1")
	now := windowStart.Add(12 * time.Hour)
	agg := NewAggregator(DefaultConfig(), fixedClock(now))

	logs := []model.DoseLog{takenLog(s.ID, windowStart.Add(8*time.Hour), model.DoseStatusTaken)}
	stat, err := agg.Aggregate(s, logs, windowStart, windowStart.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stat.Total)
	assert.Equal(t, 1, stat.Taken)
	assert.Equal(t, float64(100), stat.AdherenceRate)
}

func TestAggregate_MatchedFutureDoseCounts(t *testing.T) {
	s := twiceDaily("s1")
	now := windowStart.Add(7*time.Hour + 50*time.Minute)
	agg := NewAggregator(DefaultConfig(), fixedClock(now))

	logs := []model.DoseLog{takenLog(s.ID, now, model.DoseStatusTaken)}
	stat, err := agg.Aggregate(s, logs, windowStart, windowStart.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.AdherenceStat{Total: 1, Taken: 1, AdherenceRate: 100}, stat)
}

func TestReconcile_ClosestLogWins(t *testing.T) {
	s := twiceDaily("s1")
	s.Times = []model.TimeOfDay{model.NewTimeOfDay(8, 0), model.NewTimeOfDay(8, 20)}
	agg := NewAggregator(DefaultConfig(), fixedClock(windowStart.Add(24*time.Hour)))

	logs := []model.DoseLog{
		takenLog(s.ID, windowStart.Add(8*time.Hour+19*time.Minute), model.DoseStatusTaken),
		takenLog(s.ID, windowStart.Add(8*time.Hour+5*time.Minute), model.DoseStatusTaken),
	}
	events, err := agg.Reconcile(s, logs, windowStart, windowStart.Add(23*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.DoseStatusTaken, events[0].Status)
	assert.Equal(t, windowStart.Add(8*time.Hour+5*time.Minute), *events[0].TakenTime)
	assert.Equal(t, model.DoseStatusTaken, events[1].Status)
	assert.Equal(t, windowStart.Add(8*time.Hour+19*time.Minute), *events[1].TakenTime)
}

func TestReconcile_LogConsumedOnce(t *testing.T) {
	s := twiceDaily("s1")
	s.Times = []model.TimeOfDay{model.NewTimeOfDay(8, 0), model.NewTimeOfDay(8, 20)}
	agg := NewAggregator(DefaultConfig(), fixedClock(windowStart.Add(24*time.Hour)))

	logs := []model.DoseLog{takenLog(s.ID, windowStart.Add(8*time.Hour+10*time.Minute), model.DoseStatusTaken)}
	events, err := agg.Reconcile(s, logs, windowStart, windowStart.Add(23*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.DoseStatusTaken, events[0].Status)
	assert.Equal(t, model.DoseStatusMissed, events[1].Status)
	assert.Nil(t, events[1].TakenTime)
}

func TestReconcile_PinnedLogAndSkipped(t *testing.T) {
	s := twiceDaily("s1")
	agg := NewAggregator(DefaultConfig(), fixedClock(windowStart.Add(24*time.Hour)))

	morning := windowStart.Add(8 * time.Hour)
	evening := windowStart.Add(20 * time.Hour)
	lateTake := morning.Add(6 * time.Hour)
	logs := []model.DoseLog{
		{ScheduleID: s.ID, Status: model.DoseStatusTaken, TakenAt: &lateTake, ScheduledFor: &morning, RecordedAt: lateTake},
		{ScheduleID: s.ID, Status: model.DoseStatusSkipped, RecordedAt: evening.Add(10 * time.Minute)},
		takenLog("other", evening, model.DoseStatusTaken),
	}
	events, err := agg.Reconcile(s, logs, windowStart, windowStart.Add(23*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.DoseStatusLate, events[0].Status)
	assert.Equal(t, model.DoseStatusSkipped, events[1].Status)
	assert.Nil(t, events[1].TakenTime)
}

func TestReconcile_LogOutsideLateWindowIsIgnored(t *testing.T) {
	s := twiceDaily("s1")
	s.Times = []model.TimeOfDay{model.NewTimeOfDay(8, 0)}
	agg := NewAggregator(DefaultConfig(), fixedClock(windowStart.Add(24*time.Hour)))

	logs := []model.DoseLog{takenLog(s.ID, windowStart.Add(7*time.Hour), model.DoseStatusTaken)}
	stat, err := agg.Aggregate(s, logs, windowStart, windowStart.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.AdherenceStat{Total: 1, Missed: 1, AdherenceRate: 0}, stat)
}

func TestReconcile_IgnoresLogsOfOtherSchedules(t *testing.T) {
	s := twiceDaily("s1")
	agg := NewAggregator(DefaultConfig(), fixedClock(windowStart.Add(24*time.Hour)))

	unattributed := takenLog("", windowStart.Add(8*time.Hour), model.DoseStatusTaken)
	foreign := takenLog("s2", windowStart.Add(20*time.Hour), model.DoseStatusTaken)

	stat, err := agg.Aggregate(s, []model.DoseLog{unattributed, foreign}, windowStart, windowStart.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stat.Missed)
	assert.Equal(t, 0, stat.Taken)
}

func TestAggregateAll_RecomputesRateFromSums(t *testing.T) {
	a := twiceDaily("a")
	b := twiceDaily("b")
	end := windowStart.Add(4*24*time.Hour - time.Minute)
	agg := NewAggregator(DefaultConfig(), fixedClock(end.Add(time.Hour)))

	// a: first day only, both taken; b: four days, nothing logged
	a.EndDate = &windowStart
	logs := map[string][]model.DoseLog{
		"a": {
			takenLog("a", windowStart.Add(8*time.Hour), model.DoseStatusTaken),
			takenLog("a", windowStart.Add(20*time.Hour), model.DoseStatusTaken),
		},
	}

	total, perSchedule, err := agg.AggregateAll([]model.Schedule{a, b}, logs, windowStart, end)
	require.NoError(t, err)
	assert.Equal(t, float64(100), perSchedule["a"].AdherenceRate)
	assert.Equal(t, float64(0), perSchedule["b"].AdherenceRate)
	assert.Equal(t, 10, total.Total)
	assert.Equal(t, 2, total.Taken)
	assert.Equal(t, 8, total.Missed)
	assert.Equal(t, float64(20), total.AdherenceRate)
}

func TestRate_RoundsToTwoDecimals(t *testing.T) {
	assert.Equal(t, 66.67, Rate(2, 3))
	assert.Equal(t, float64(100), Rate(0, 0))
	assert.Equal(t, float64(0), Rate(0, 7))
}

// Property 4: Adherence Bounds
// The rate stays within 0..100 and the counters always sum to the total
func TestProperty_AdherenceBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	statuses := []model.DoseStatus{
		model.DoseStatusTaken,
		model.DoseStatusMissed,
		model.DoseStatusLate,
		model.DoseStatusSkipped,
		model.DoseStatusPending,
	}

	properties.Property("adherence rate is bounded and counters are consistent", prop.ForAll(
		func(codes []int, offsets []int, nowHours int) bool {
			s := twiceDaily("s1")
			agg := NewAggregator(DefaultConfig(), fixedClock(windowStart.Add(time.Duration(nowHours)*time.Hour)))

			var logs []model.DoseLog
			for i, code := range codes {
				offset := 0
				if i < len(offsets) {
					offset = offsets[i]
				}
				day := i / 2
				hour := 8 + 12*(i%2)
				at := windowStart.AddDate(0, 0, day).Add(time.Duration(hour)*time.Hour + time.Duration(offset)*time.Minute)
				logs = append(logs, takenLog(s.ID, at, statuses[code]))
			}

			stat, err := agg.Aggregate(s, logs, windowStart, windowStart.Add(7*24*time.Hour))
			if err != nil {
				return false
			}
			if stat.Total != stat.Taken+stat.Missed+stat.Late+stat.Skipped {
				return false
			}
			if stat.Total == 0 {
				return stat.AdherenceRate == 100
			}
			return stat.AdherenceRate >= 0 && stat.AdherenceRate <= 100
		},
		gen.SliceOf(gen.IntRange(0, len(statuses)-1)),
		gen.SliceOf(gen.IntRange(-60, 300)),
		gen.IntRange(0, 24*8),
	))

	properties.TestingRun(t)
}
