package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(day string, hour, minute int) time.Time {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, time.UTC)
}

func TestComputeSendTimeImmediate(t *testing.T) {
	base := at("2024-01-02", 10, 0) // Tuesday
	got := ComputeSendTime(base, DelayPolicy{Kind: DelayImmediate})
	assert.Equal(t, base, got)
}

func TestComputeSendTimeFixedDelay(t *testing.T) {
	base := at("2024-01-02", 10, 0)

	got := ComputeSendTime(base, DelayPolicy{Kind: DelayFixed, Minutes: 30})
	assert.Equal(t, at("2024-01-02", 10, 30), got)

	// Zero minutes is a no-op
	got = ComputeSendTime(base, DelayPolicy{Kind: DelayFixed, Minutes: 0})
	assert.Equal(t, base, got)

	// A day's worth of minutes crosses into the next day
	got = ComputeSendTime(base, DelayPolicy{Kind: DelayFixed, Minutes: 1440})
	assert.Equal(t, at("2024-01-03", 10, 0), got)
}

func TestComputeSendTimeBusinessHours(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Time
		minutes int
		config  DelayConfig
		want    time.Time
	}{
		{
			name: "weekday inside window stays put",
			base: at("2024-01-02", 11, 0), // Tuesday
			want: at("2024-01-02", 11, 0),
		},
		{
			name:    "weekday inside window after delay",
			base:    at("2024-01-02", 11, 0),
			minutes: 30,
			want:    at("2024-01-02", 11, 30),
		},
		{
			name: "before window clamps to same-day start",
			base: at("2024-01-02", 7, 15),
			want: at("2024-01-02", 9, 0),
		},
		{
			name: "after window rolls to next day start",
			base: at("2024-01-02", 20, 0),
			want: at("2024-01-03", 9, 0),
		},
		{
			name: "saturday rolls to monday start",
			base: at("2024-01-06", 10, 0), // Saturday
			want: at("2024-01-08", 9, 0),  // Monday
		},
		{
			name: "sunday rolls to monday start",
			base: at("2024-01-07", 14, 0), // Sunday
			want: at("2024-01-08", 9, 0),
		},
		{
			name:    "delay can push a friday evening into saturday, then monday",
			base:    at("2024-01-05", 23, 30), // Friday
			minutes: 60,
			want:    at("2024-01-08", 9, 0),
		},
		{
			name:   "custom window",
			base:   at("2024-01-02", 7, 0),
			config: DelayConfig{StartHour: 8, EndHour: 20},
			want:   at("2024-01-02", 8, 0),
		},
		{
			name:   "custom window end",
			base:   at("2024-01-02", 21, 0),
			config: DelayConfig{StartHour: 8, EndHour: 20},
			want:   at("2024-01-03", 8, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSendTime(tt.base, DelayPolicy{
				Kind:    DelayBusinessHours,
				Minutes: tt.minutes,
				Config:  tt.config,
			})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeSendTimeSpecificTime(t *testing.T) {
	base := at("2024-01-02", 10, 0)

	// Later today
	got := ComputeSendTime(base, DelayPolicy{
		Kind:   DelaySpecificTime,
		Config: DelayConfig{Hour: 15, Minute: 30},
	})
	assert.Equal(t, at("2024-01-02", 15, 30), got)

	// Already passed today, rolls to tomorrow
	got = ComputeSendTime(base, DelayPolicy{
		Kind:   DelaySpecificTime,
		Config: DelayConfig{Hour: 8, Minute: 0},
	})
	assert.Equal(t, at("2024-01-03", 8, 0), got)

	// Exactly the base instant is not "after", rolls to tomorrow
	got = ComputeSendTime(base, DelayPolicy{
		Kind:   DelaySpecificTime,
		Config: DelayConfig{Hour: 10, Minute: 0},
	})
	assert.Equal(t, at("2024-01-03", 10, 0), got)
}

func TestComputeSendTimeUnknownKindFallsBackToFixed(t *testing.T) {
	base := at("2024-01-02", 10, 0)
	got := ComputeSendTime(base, DelayPolicy{Kind: "lunar_phase", Minutes: 45})
	assert.Equal(t, at("2024-01-02", 10, 45), got)
}

func TestComputeSendTimeIsDeterministic(t *testing.T) {
	base := at("2024-01-06", 13, 0)
	policy := DelayPolicy{Kind: DelayBusinessHours, Minutes: 90}

	first := ComputeSendTime(base, policy)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ComputeSendTime(base, policy))
	}
}
