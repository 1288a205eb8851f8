package connection

import (
	"fmt"
	"time"
)

// Policy is the reconnect schedule consulted by Machine.
type Policy struct {
	BaseDelay      time.Duration // delay after the first failure
	MaxDelay       time.Duration // cap on any single delay
	MaxAttempts    int           // failures tolerated before giving up
	ConnectTimeout time.Duration // watchdog for a stuck Connecting state
}

// DefaultPolicy returns base 5s, cap 30s, 5 attempts, 30s connect watchdog.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      5 * time.Second,
		MaxDelay:       30 * time.Second,
		MaxAttempts:    5,
		ConnectTimeout: 30 * time.Second,
	}
}

// Delay returns min(BaseDelay*attempt, MaxDelay). attempt is 1-based.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay * time.Duration(attempt)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether attempt has gone past the cap.
func (p Policy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("reconnect max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("reconnect max attempts must not be negative, got %d", p.MaxAttempts)
	}
	if p.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", p.ConnectTimeout)
	}
	return nil
}
