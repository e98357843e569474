package service

import (
	"fmt"
	"strings"

	"github.com/vcscsvcscs/regimen/pkg/model"
)

// StaleVersionError is returned when a mutation names a version that is no
// longer the stored one. Callers recover by re-fetching and retrying.
type StaleVersionError struct {
	ScheduleID string
	Expected   int
	Actual     int
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("schedule %s: expected version %d but stored version is %d", e.ScheduleID, e.Expected, e.Actual)
}

// ConflictError is returned when a mutation would introduce a conflict
// that no suggestion resolves. It carries every detected conflict.
type ConflictError struct {
	Conflicts []model.Conflict
}

func (e *ConflictError) Error() string {
	kinds := make([]string, 0, len(e.Conflicts))
	for _, c := range Blocking(e.Conflicts) {
		kinds = append(kinds, fmt.Sprintf("%s with %s at %s", c.Kind, c.ScheduleIDB, c.OccursAt.Format("2006-01-02T15:04Z07:00")))
	}
	return "blocking schedule conflict: " + strings.Join(kinds, "; ")
}

// Blocking returns the conflicts that must halt a mutation: interval or
// meal collisions for which no suggestion was found
func Blocking(conflicts []model.Conflict) []model.Conflict {
	var out []model.Conflict
	for _, c := range conflicts {
		if !c.Blocking() {
			continue
		}
		if c.Kind == model.ConflictIntervalOverlap || c.Kind == model.ConflictMeal {
			out = append(out, c)
		}
	}
	return out
}
