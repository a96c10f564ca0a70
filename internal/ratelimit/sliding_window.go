// Package ratelimit limits how many images a single chat user may submit in
// a sliding time window.
package ratelimit

import (
	"sync"
	"time"
)

// bucket holds the submission times of one user inside the window.
type bucket struct {
	mu         sync.Mutex
	timestamps []time.Time
	lastAccess time.Time
}

// Decision is the outcome of Allow.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// SlidingWindow implements a per-user sliding window limit.
type SlidingWindow struct {
	buckets sync.Map // int64 user id -> *bucket
	window  time.Duration
	limit   int
	now     func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewSlidingWindow allows limit submissions per window and drops idle users
// every cleanupInterval.
func NewSlidingWindow(window time.Duration, limit int, cleanupInterval time.Duration) *SlidingWindow {
	sw := &SlidingWindow{
		window: window,
		limit:  limit,
		now:    time.Now,
		ticker: time.NewTicker(cleanupInterval),
		stop:   make(chan struct{}),
	}
	sw.wg.Add(1)
	go sw.cleanupLoop()
	return sw
}

// Allow records a submission by userID if the user is under the limit.
func (sw *SlidingWindow) Allow(userID int64) Decision {
	now := sw.now()
	v, _ := sw.buckets.LoadOrStore(userID, &bucket{})
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastAccess = now

	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(b.timestamps) && !b.timestamps[i].After(cutoff) {
		i++
	}
	b.timestamps = append(b.timestamps[:0], b.timestamps[i:]...)

	if len(b.timestamps) >= sw.limit {
		retry := b.timestamps[0].Add(sw.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{RetryAfter: retry}
	}

	b.timestamps = append(b.timestamps, now)
	return Decision{Allowed: true, Remaining: sw.limit - len(b.timestamps)}
}

func (sw *SlidingWindow) cleanupLoop() {
	defer sw.wg.Done()
	for {
		select {
		case <-sw.ticker.C:
			sw.cleanup()
		case <-sw.stop:
			return
		}
	}
}

// cleanup forgets users idle for two windows.
func (sw *SlidingWindow) cleanup() int {
	cutoff := sw.now().Add(-2 * sw.window)
	removed := 0
	sw.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := b.lastAccess.Before(cutoff)
		b.mu.Unlock()
		if idle {
			sw.buckets.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Stop ends the cleanup goroutine.
func (sw *SlidingWindow) Stop() {
	sw.ticker.Stop()
	close(sw.stop)
	sw.wg.Wait()
}

// Stats describes the limiter state.
type Stats struct {
	ActiveUsers int
	Window      time.Duration
	Limit       int
}

// GetStats returns current statistics about the rate limiter
func (sw *SlidingWindow) GetStats() Stats {
	n := 0
	sw.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return Stats{ActiveUsers: n, Window: sw.window, Limit: sw.limit}
}
