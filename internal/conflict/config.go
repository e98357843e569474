package conflict

import (
	"sort"
	"strings"
	"time"

	"github.com/vcscsvcscs/regimen/pkg/model"
)

// Config holds the thresholds and safety bounds used by the Detector
type Config struct {
	Horizon              time.Duration
	ProximityThreshold   time.Duration
	MealWindow           time.Duration
	MinIntervalHours     int
	MaxIntervalHours     int
	MinIntervalDays      int
	MaxIntervalDays      int
	MaxMealOffsetMinutes int
	// Meals maps a meal name to its usual clock time
	Meals map[string]model.TimeOfDay
}

// DefaultConfig returns the standard detection settings
func DefaultConfig() Config {
	return Config{
		Horizon:              14 * 24 * time.Hour,
		ProximityThreshold:   30 * time.Minute,
		MealWindow:           30 * time.Minute,
		MinIntervalHours:     4,
		MaxIntervalHours:     72,
		MinIntervalDays:      1,
		MaxIntervalDays:      30,
		MaxMealOffsetMinutes: 180,
		Meals: map[string]model.TimeOfDay{
			"breakfast": model.NewTimeOfDay(8, 0),
			"lunch":     model.NewTimeOfDay(12, 30),
			"dinner":    model.NewTimeOfDay(19, 0),
			"bedtime":   model.NewTimeOfDay(22, 30),
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Horizon <= 0 {
		c.Horizon = def.Horizon
	}
	if c.ProximityThreshold <= 0 {
		c.ProximityThreshold = def.ProximityThreshold
	}
	if c.MealWindow <= 0 {
		c.MealWindow = def.MealWindow
	}
	if c.MinIntervalHours <= 0 {
		c.MinIntervalHours = def.MinIntervalHours
	}
	if c.MaxIntervalHours < c.MinIntervalHours {
		c.MaxIntervalHours = def.MaxIntervalHours
	}
	if c.MinIntervalDays <= 0 {
		c.MinIntervalDays = def.MinIntervalDays
	}
	if c.MaxIntervalDays < c.MinIntervalDays {
		c.MaxIntervalDays = def.MaxIntervalDays
	}
	if c.MaxMealOffsetMinutes <= 0 {
		c.MaxMealOffsetMinutes = def.MaxMealOffsetMinutes
	}
	if len(c.Meals) == 0 {
		c.Meals = def.Meals
	}
	meals := make(map[string]model.TimeOfDay, len(c.Meals))
	for name, at := range c.Meals {
		meals[strings.ToLower(name)] = at
	}
	c.Meals = meals
	return c
}

// mealNames lists the configured meals in clock order
func (c Config) mealNames() []string {
	names := make([]string, 0, len(c.Meals))
	for name := range c.Meals {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if c.Meals[names[i]] != c.Meals[names[j]] {
			return c.Meals[names[i]] < c.Meals[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
