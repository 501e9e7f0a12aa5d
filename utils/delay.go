package utils

import "time"

// Delay policy kinds
const (
	DelayImmediate     = "immediate"
	DelayFixed         = "fixed_delay"
	DelayBusinessHours = "business_hours"
	DelaySpecificTime  = "specific_time"
)

// DelayConfig carries kind-specific parameters for a delay policy
type DelayConfig struct {
	StartHour int `json:"startHour,omitempty"` // business_hours window start
	EndHour   int `json:"endHour,omitempty"`   // business_hours window end
	Hour      int `json:"hour,omitempty"`      // specific_time hour of day
	Minute    int `json:"minute,omitempty"`    // specific_time minute
}

// DelayPolicy is the rule computing a concrete send time from a base instant
type DelayPolicy struct {
	Kind    string
	Minutes int
	Config  DelayConfig
}

// ComputeSendTime resolves when an email should go out. Pure and
// deterministic: same (base, policy) always yields the same result.
// Unknown kinds behave as fixed_delay with the policy's minutes.
func ComputeSendTime(base time.Time, policy DelayPolicy) time.Time {
	switch policy.Kind {
	case DelayImmediate:
		return base

	case DelayFixed:
		return base.Add(time.Duration(policy.Minutes) * time.Minute)

	case DelayBusinessHours:
		delayed := base.Add(time.Duration(policy.Minutes) * time.Minute)
		return adjustToBusinessHours(delayed, policy.Config)

	case DelaySpecificTime:
		at := time.Date(base.Year(), base.Month(), base.Day(),
			policy.Config.Hour, policy.Config.Minute, 0, 0, base.Location())
		if !at.After(base) {
			at = at.AddDate(0, 0, 1)
		}
		return at

	default:
		return base.Add(time.Duration(policy.Minutes) * time.Minute)
	}
}

// adjustToBusinessHours clamps a timestamp into the configured weekday
// window: weekends roll to Monday, early hours clamp to the window start,
// late hours roll to the next day's window start.
func adjustToBusinessHours(t time.Time, config DelayConfig) time.Time {
	startHour := config.StartHour
	if startHour == 0 {
		startHour = 9
	}
	endHour := config.EndHour
	if endHour == 0 {
		endHour = 18
	}

	startOfDay := func(day time.Time) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), startHour, 0, 0, 0, day.Location())
	}

	switch t.Weekday() {
	case time.Saturday:
		return startOfDay(t.AddDate(0, 0, 2))
	case time.Sunday:
		return startOfDay(t.AddDate(0, 0, 1))
	}

	if t.Hour() < startHour {
		return startOfDay(t)
	}
	if t.Hour() >= endHour {
		return startOfDay(t.AddDate(0, 0, 1))
	}
	return t
}
