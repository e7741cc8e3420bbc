// Package billing computes stay durations and fees.
//
// Billing policy: elapsed time, rounded up to whole 24-hour units, with a
// minimum charge of one day. A vehicle that stays any amount past a 24-hour
// boundary is billed for the next full day. This policy is part of the
// public contract and is applied uniformly on exit, import, and receipt
// paths.
package billing

import (
	"math"
	"time"
)

const daySeconds = 24 * 60 * 60

// Days returns the number of billable days between entry and exit.
// The result is always at least 1: a same-moment entry and exit, or an exit
// recorded before its entry, both charge a single day.
func Days(entryAt, exitAt time.Time) int {
	elapsed := exitAt.Sub(entryAt).Seconds()
	if elapsed <= 0 {
		return 1
	}
	days := int(math.Ceil(elapsed / daySeconds))
	if days < 1 {
		return 1
	}
	return days
}

// Anomalous reports whether the exit moment precedes the entry moment.
// Such pairs still bill one day via Days; callers use this to flag the
// record as a data-quality problem.
func Anomalous(entryAt, exitAt time.Time) bool {
	return exitAt.Before(entryAt)
}

// Amount returns the fee for the given day count at the supplied daily rate.
// The rate must be the value in effect at the moment of the call.
func Amount(days int, rate float64) float64 {
	return float64(days) * rate
}
