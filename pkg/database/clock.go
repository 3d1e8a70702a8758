package database

import (
	"sync"
	"time"
)

// TimestampLayout is the ISO-8601 form used for created_at / updated_at
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// clock issues millisecond UTC timestamps that never repeat or go backwards
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock() *clock {
	return &clock{now: time.Now}
}

// stamp returns a timestamp strictly after every earlier stamp and after notBefore
func (c *clock) stamp(notBefore time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC().Truncate(time.Millisecond)
	floor := c.last
	if notBefore.After(floor) {
		floor = notBefore.UTC()
	}
	if !now.After(floor) {
		now = floor.Truncate(time.Millisecond).Add(time.Millisecond)
	}
	c.last = now
	return now.Format(TimestampLayout)
}
