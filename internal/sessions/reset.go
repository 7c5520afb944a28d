package sessions

import (
	"time"

	"github.com/hermesworks/hermes/internal/config"
)

// ShouldReset decides whether a session must start over before the next
// turn. Pure with respect to its inputs; explicit reset commands bypass
// it entirely.
func ShouldReset(policy config.ResetPolicy, lastActivity, now time.Time) bool {
	if lastActivity.IsZero() || !now.After(lastActivity) {
		return false
	}
	switch policy.Mode {
	case config.ResetIdle:
		return idleExpired(policy, lastActivity, now)
	case config.ResetDaily:
		return crossedDailyBoundary(policy, lastActivity, now)
	case config.ResetBoth:
		return idleExpired(policy, lastActivity, now) ||
			crossedDailyBoundary(policy, lastActivity, now)
	}
	return false
}

func idleExpired(policy config.ResetPolicy, lastActivity, now time.Time) bool {
	return now.Sub(lastActivity) >= time.Duration(policy.IdleMinutes)*time.Minute
}

// crossedDailyBoundary reports whether lastActivity and now fall on
// different "cron days", where a cron day starts at reset_hour local
// time. An event at exactly reset_hour opens the new day.
func crossedDailyBoundary(policy config.ResetPolicy, lastActivity, now time.Time) bool {
	return cronDay(policy.ResetHour, now) != cronDay(policy.ResetHour, lastActivity)
}

func cronDay(resetHour int, t time.Time) time.Time {
	local := t.Local().Add(-time.Duration(resetHour) * time.Hour)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
}
