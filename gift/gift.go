// Package gift coalesces bursts of gifts from the same viewer into one tiered
// event once the viewer has been idle for the aggregation window.
package gift

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/live-ingest/event"
)

// DefaultWindow is the idle time after which a viewer's burst is flushed.
const DefaultWindow = 2 * time.Second

// Tier is one bucket of the tier table.
type Tier struct {
	Threshold int64
	Name      string
}

// Table is a tier table sorted by ascending threshold.
type Table []Tier

// DefaultTable is used when no tiers are configured.
var DefaultTable = Table{
	{Threshold: 1, Name: "Small"},
	{Threshold: 100, Name: "Medium"},
	{Threshold: 500, Name: "Large"},
	{Threshold: 1000, Name: "Huge"},
	{Threshold: 5000, Name: "Legendary"},
}

// ParseTable parses "1:Small,100:Medium,..." into a sorted Table.
func ParseTable(s string) (Table, error) {
	var t Table
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		thr, name, _ := strings.Cut(part, ":")
		n, err := strconv.ParseInt(strings.TrimSpace(thr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid gift tier %q: %w", part, err)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = "Tier " + strconv.Itoa(len(t))
		}
		t = append(t, Tier{Threshold: n, Name: name})
	}
	if len(t) == 0 {
		return nil, fmt.Errorf("gift tier table is empty")
	}
	sort.SliceStable(t, func(i, j int) bool { return t[i].Threshold < t[j].Threshold })
	return t, nil
}

// Classify returns the index of the highest tier whose threshold is <= value,
// scanning from the richest tier down. Values below every threshold get 0.
func (t Table) Classify(value int64) int {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Threshold <= value {
			return i
		}
	}
	return 0
}

// Unit is a single normalized gift before aggregation.
type Unit struct {
	Provider event.Provider
	Viewer   event.Viewer
	Label    string
	Value    int64
	At       time.Time
}

type pending struct {
	provider event.Provider
	viewer   event.Viewer
	label    string
	count    int
	total    int64
	first    time.Time
	last     time.Time
}

// Aggregator holds pending bursts keyed by viewer id. Tick goroutine only.
type Aggregator struct {
	window  time.Duration
	tiers   Table
	pending map[string]*pending
}

// NewAggregator returns an aggregator; zero window or empty table use defaults.
func NewAggregator(window time.Duration, tiers Table) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(tiers) == 0 {
		tiers = DefaultTable
	}
	return &Aggregator{window: window, tiers: tiers, pending: make(map[string]*pending)}
}

// Add folds u into the viewer's pending burst. now is the arrival time.
func (a *Aggregator) Add(u Unit, now time.Time) {
	if u.Viewer.ID == "" || u.Value <= 0 {
		return
	}
	p, ok := a.pending[u.Viewer.ID]
	if !ok {
		p = &pending{provider: u.Provider, first: now}
		a.pending[u.Viewer.ID] = p
	}
	if p.total > math.MaxInt64-u.Value {
		p.total = math.MaxInt64
	} else {
		p.total += u.Value
	}
	p.count++
	p.label = u.Label
	p.last = now
	// display name may change between gifts; the newest wins
	p.viewer.ID = u.Viewer.ID
	if u.Viewer.Name != "" {
		p.viewer.Name = u.Viewer.Name
	}
	if u.Viewer.AvatarURL != "" {
		p.viewer.AvatarURL = u.Viewer.AvatarURL
	}
}

// Pending returns the number of viewers with an open burst.
func (a *Aggregator) Pending() int { return len(a.pending) }

// Flush emits and removes every burst idle for at least the window, oldest
// first.
func (a *Aggregator) Flush(now time.Time) []event.Gift {
	var due []*pending
	for id, p := range a.pending {
		if now.Sub(p.last) >= a.window {
			due = append(due, p)
			delete(a.pending, id)
		}
	}
	return a.emit(due)
}

// FlushAll emits every pending burst regardless of age.
func (a *Aggregator) FlushAll() []event.Gift {
	due := make([]*pending, 0, len(a.pending))
	for id, p := range a.pending {
		due = append(due, p)
		delete(a.pending, id)
	}
	return a.emit(due)
}

// Reset drops pending bursts without emitting them.
func (a *Aggregator) Reset() { clear(a.pending) }

func (a *Aggregator) emit(due []*pending) []event.Gift {
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].first.Equal(due[j].first) {
			return due[i].first.Before(due[j].first)
		}
		return due[i].viewer.ID < due[j].viewer.ID
	})
	out := make([]event.Gift, 0, len(due))
	for _, p := range due {
		tier := a.tiers.Classify(p.total)
		out = append(out, event.Gift{
			Meta:    event.Meta{Provider: p.provider, Viewer: p.viewer, At: p.last},
			Label:   p.label,
			Count:   p.count,
			Value:   p.total,
			Tier:    tier,
			Display: display(p, a.tiers[tier].Name),
		})
	}
	return out
}

func display(p *pending, tierName string) string {
	name := p.viewer.Name
	if name == "" {
		name = p.viewer.ID
	}
	if p.count > 1 {
		return fmt.Sprintf("%s sent %s x%d (%d, %s)", name, p.label, p.count, p.total, tierName)
	}
	return fmt.Sprintf("%s sent %s (%d, %s)", name, p.label, p.total, tierName)
}
