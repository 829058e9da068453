package unitcontrolimpl

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

// RateLimiterState provides insight into the restart window
type RateLimiterState struct {
	MaxRestarts int           `json:"max_restarts"`
	Interval    time.Duration `json:"interval"`
	// Timestamps of restarts inside the trailing interval, oldest first
	Window        []time.Time `json:"window"`
	TotalAttempts int         `json:"total_attempts"`
	TotalDenied   int         `json:"total_denied"`
}

// RestartRateLimiter caps restarts within a sliding window. One limiter
// belongs to one unit and is only used by that unit's lifecycle loop.
type RestartRateLimiter struct {
	unitName    string
	maxRestarts int
	interval    time.Duration
	logger      logging.Logger

	window        []time.Time
	totalAttempts int
	totalDenied   int
	mutex         sync.Mutex
}

func NewRestartRateLimiter(unitName string, maxRestarts int, interval time.Duration, logger logging.Logger) *RestartRateLimiter {
	return &RestartRateLimiter{
		unitName:    unitName,
		maxRestarts: maxRestarts,
		interval:    interval,
		logger:      logger,
	}
}

// TryAcquire records now, drops timestamps at or before now-interval,
// and grants the restart iff at most maxRestarts remain in the window.
// Denied attempts are recorded too, so a crash loop stays denied.
func (l *RestartRateLimiter) TryAcquire(now time.Time) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.totalAttempts++
	l.window = append(l.window, now)
	l.pruneUnderLock(now)

	if len(l.window) > l.maxRestarts {
		l.totalDenied++
		l.logger.Errorf("Restart rate limit exceeded, unit: %s, restarts in window: %d, max: %d, interval: %v",
			l.unitName, len(l.window), l.maxRestarts, l.interval)
		return false
	}

	l.logger.Debugf("Restart granted, unit: %s, restarts in window: %d/%d, interval: %v",
		l.unitName, len(l.window), l.maxRestarts, l.interval)
	return true
}

func (l *RestartRateLimiter) pruneUnderLock(now time.Time) {
	cutoff := now.Add(-l.interval)
	keep := 0
	for keep < len(l.window) && !l.window[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		l.window = append(l.window[:0], l.window[keep:]...)
	}
}

func (l *RestartRateLimiter) GetState() RateLimiterState {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	window := make([]time.Time, len(l.window))
	copy(window, l.window)
	return RateLimiterState{
		MaxRestarts:   l.maxRestarts,
		Interval:      l.interval,
		Window:        window,
		TotalAttempts: l.totalAttempts,
		TotalDenied:   l.totalDenied,
	}
}
