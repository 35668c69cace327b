package udp

import (
	"sync"
	"time"
)

// FailureLimiter allows at most limit events per key within interval. It is
// used to keep a dead media target from flooding the log at frame rate.
type FailureLimiter struct {
	mu         sync.Mutex
	history    map[string][]time.Time
	suppressed map[string]int
	limit      int
	interval   time.Duration
	now        func() time.Time
}

func NewFailureLimiter(limit int, interval time.Duration) *FailureLimiter {
	return &FailureLimiter{
		history:    make(map[string][]time.Time),
		suppressed: make(map[string]int),
		limit:      limit,
		interval:   interval,
		now:        time.Now,
	}
}

// Allow records an event for key. When it returns true, suppressed is the
// number of events swallowed for key since the last allowed one.
func (rl *FailureLimiter) Allow(key string) (ok bool, suppressed int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		rl.suppressed[key]++
		return false, 0
	}

	fresh = append(fresh, now)
	rl.history[key] = fresh
	suppressed = rl.suppressed[key]
	delete(rl.suppressed, key)
	return true, suppressed
}
