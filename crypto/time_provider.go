package crypto

import "time"

// TimeProvider abstracts the clock used for packet expiration and request
// timeouts. Implementations must be safe for concurrent use.
//
// *clock.Mock from github.com/benbjohnson/clock satisfies this interface and
// is what the tests use to step time deterministically.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// SetDefaultTimeProvider replaces the package-level clock. Pass nil to reset.
func SetDefaultTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	defaultTimeProvider = tp
}

// GetDefaultTimeProvider returns the package-level clock.
func GetDefaultTimeProvider() TimeProvider {
	return defaultTimeProvider
}

// OrDefault returns tp, or the package-level clock when tp is nil.
func OrDefault(tp TimeProvider) TimeProvider {
	if tp == nil {
		return defaultTimeProvider
	}
	return tp
}
