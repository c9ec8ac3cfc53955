package storage

import (
	"sync"
	"time"
)

// TimeLayout is the ISO-8601 text form of every stored timestamp. The
// fixed width keeps lexical and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000"

// Clock hands out strictly increasing timestamps at microsecond resolution.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current UTC time, bumped past the previous value when the
// wall clock stalls or steps backwards.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}
