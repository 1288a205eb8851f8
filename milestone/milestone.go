// Package milestone detects threshold crossings on a monotonically growing
// counter, relative to the value it had when the session connected.
package milestone

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultThresholds are the like milestones used when none are configured.
var DefaultThresholds = []int64{50, 200, 500, 1000, 3000}

// ParseThresholds parses "50,200,500" into ascending thresholds.
func ParseThresholds(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid milestone threshold %q", part)
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Crossing is one emitted milestone.
type Crossing struct {
	Index     int
	Threshold int64
	Total     int64
}

// Tracker holds the baseline and the highest crossed index for one session.
type Tracker struct {
	thresholds []int64
	baseline   int64
	hasBase    bool
	highest    int // -1 means none
	total      int64
}

// NewTracker returns a tracker over ascending thresholds.
func NewTracker(thresholds []int64) *Tracker {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	return &Tracker{thresholds: thresholds, highest: -1}
}

// Observe records a counter update. The first observation fixes the
// baseline at total-delta, so the likes that arrived with it still count.
func (t *Tracker) Observe(total, delta int64) {
	if !t.hasBase {
		base := total - delta
		if delta <= 0 || base < 0 {
			base = total
		}
		t.baseline = base
		t.hasBase = true
	}
	if total > t.total {
		t.total = total
	}
}

// Total returns the largest total observed.
func (t *Tracker) Total() int64 { return t.total }

// Evaluate checks the current total. It returns at most one crossing: the
// highest threshold met, and only if it is above every earlier crossing.
func (t *Tracker) Evaluate() (Crossing, bool) {
	if !t.hasBase {
		return Crossing{}, false
	}
	diff := t.total - t.baseline
	for i := len(t.thresholds) - 1; i > t.highest; i-- {
		if diff >= t.thresholds[i] {
			t.highest = i
			return Crossing{Index: i, Threshold: t.thresholds[i], Total: t.total}, true
		}
	}
	return Crossing{}, false
}

// Highest returns the highest crossed index, or -1.
func (t *Tracker) Highest() int { return t.highest }

// Reset starts a new session.
func (t *Tracker) Reset() {
	t.baseline, t.total = 0, 0
	t.hasBase = false
	t.highest = -1
}
