package http

import "time"

// rateLimiter is a fixed-window counter. It is owned by a single read loop
// and needs no locking.
type rateLimiter struct {
	limit  int
	window time.Duration
	count  int
	start  time.Time
	now    func() time.Time
}

// newRateLimiter allows limit events per minute; limit <= 0 disables limiting.
func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: time.Minute,
		now:    time.Now,
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := r.now()
	if now.Sub(r.start) >= r.window {
		r.start = now
		r.count = 0
	}
	r.count++
	return r.count <= r.limit
}
