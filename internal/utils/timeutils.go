package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// PruneUnix keeps the unix-second timestamps that fall within window of now,
// preserving order. Timestamps in the future are kept.
func PruneUnix(stamps []int64, now time.Time, window time.Duration) []int64 {
	cutoff := now.Add(-window).Unix()
	kept := make([]int64, 0, len(stamps))
	for _, ts := range stamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Elapsed reports how long ago the unix-second timestamp was. A zero timestamp
// means "never" and yields ok=false.
func Elapsed(now time.Time, unix int64) (time.Duration, bool) {
	if unix <= 0 {
		return 0, false
	}
	return now.Sub(time.Unix(unix, 0)), true
}
