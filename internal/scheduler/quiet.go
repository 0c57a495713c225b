package scheduler

import "time"

// QuietHours is a local-time window, in whole hours, during which nothing
// is collected and posts are deferred. Start > End wraps past midnight.
type QuietHours struct {
	Start int
	End   int
}

// Contains reports whether t (in its own location) falls in the window.
func (q QuietHours) Contains(t time.Time) bool {
	h := t.Hour()
	if q.Start <= q.End {
		return q.Start <= h && h < q.End
	}
	return h >= q.Start || h < q.End
}

// NextPostTime returns when a post enqueued at now should go out:
// now+interval, moved to the following End:00 in now's location when that
// falls inside the window.
func (q QuietHours) NextPostTime(now time.Time, interval time.Duration) time.Time {
	at := now.Add(interval)
	if !q.Contains(at) {
		return at
	}
	next := time.Date(at.Year(), at.Month(), at.Day(), q.End, 0, 0, 0, at.Location())
	if !next.After(at) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
