// Package guard holds the replay protections applied to every device event
// after its signature has been verified.
package guard

import "time"

// MaxClockDrift is the widest accepted gap between a device timestamp and
// the server clock, in seconds, in either direction.
const MaxClockDrift int64 = 300

// CheckFreshness reports the absolute drift between ts and now and whether
// it is within MaxClockDrift.
func CheckFreshness(ts int64, now time.Time) (drift int64, ok bool) {
	drift = now.Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	return drift, drift <= MaxClockDrift
}
