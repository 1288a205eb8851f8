// Package cooldown rate-limits spawn commands per viewer. The cooldown length
// depends on how the viewer supports the channel: subscribers wait least,
// fan-club members wait by level, everyone else waits the base duration.
package cooldown

import (
	"fmt"
	"time"
)

// Classification is what the throttle needs to know about a viewer.
type Classification struct {
	Subscriber   bool
	FanClubLevel int // 0 when not a member
}

// Classifier looks up a viewer's current classification.
type Classifier interface {
	Classify(viewerID string) Classification
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(string) Classification

// Classify calls f(viewerID).
func (f ClassifierFunc) Classify(viewerID string) Classification { return f(viewerID) }

// Policy holds the cooldown durations. FanClub[i] applies to level i+1;
// levels past the end use the last entry.
type Policy struct {
	Subscriber time.Duration
	FanClub    []time.Duration
	Base       time.Duration
}

// DefaultPolicy returns 5s subscriber, 20/15/10s fan club, 30s base.
func DefaultPolicy() Policy {
	return Policy{
		Subscriber: 5 * time.Second,
		FanClub:    []time.Duration{20 * time.Second, 15 * time.Second, 10 * time.Second},
		Base:       30 * time.Second,
	}
}

// Duration selects the cooldown for c: subscriber first, then fan club, then base.
func (p Policy) Duration(c Classification) time.Duration {
	if c.Subscriber {
		return p.Subscriber
	}
	if c.FanClubLevel > 0 && len(p.FanClub) > 0 {
		i := min(c.FanClubLevel, len(p.FanClub)) - 1
		return p.FanClub[i]
	}
	return p.Base
}

// Validate enforces subscriber <= every fan-club duration <= base.
func (p Policy) Validate() error {
	if p.Subscriber < 0 || p.Base < 0 {
		return fmt.Errorf("cooldown durations must not be negative")
	}
	if p.Subscriber > p.Base {
		return fmt.Errorf("subscriber cooldown %s exceeds base cooldown %s", p.Subscriber, p.Base)
	}
	for i, d := range p.FanClub {
		if d < p.Subscriber || d > p.Base {
			return fmt.Errorf("fan club level %d cooldown %s outside [%s, %s]", i+1, d, p.Subscriber, p.Base)
		}
	}
	return nil
}

// Throttle tracks per-viewer expiries. It is owned by the tick goroutine and
// is not safe for concurrent use.
type Throttle struct {
	policy     Policy
	classifier Classifier
	expiry     map[string]time.Time
}

// New returns a Throttle. A nil classifier treats every viewer as base.
func New(policy Policy, classifier Classifier) *Throttle {
	return &Throttle{policy: policy, classifier: classifier, expiry: make(map[string]time.Time)}
}

// Allow reports whether viewerID may spawn at now. On success the viewer's
// cooldown is armed for the duration its classification selects.
func (t *Throttle) Allow(viewerID string, now time.Time) bool {
	if exp, ok := t.expiry[viewerID]; ok && now.Before(exp) {
		return false
	}
	var c Classification
	if t.classifier != nil {
		c = t.classifier.Classify(viewerID)
	}
	t.expiry[viewerID] = now.Add(t.policy.Duration(c))
	return true
}

// Remaining returns how long viewerID still has to wait, or 0.
func (t *Throttle) Remaining(viewerID string, now time.Time) time.Duration {
	exp, ok := t.expiry[viewerID]
	if !ok || !now.Before(exp) {
		return 0
	}
	return exp.Sub(now)
}

// Sweep removes expired entries and returns how many were removed.
func (t *Throttle) Sweep(now time.Time) int {
	n := 0
	for id, exp := range t.expiry {
		if !now.Before(exp) {
			delete(t.expiry, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked viewers.
func (t *Throttle) Len() int { return len(t.expiry) }

// Reset forgets every cooldown.
func (t *Throttle) Reset() { clear(t.expiry) }
