package chat

import (
	"strings"

	"github.com/onnwee/live-ingest/cooldown"
	"github.com/onnwee/live-ingest/event"
	"github.com/onnwee/live-ingest/normalize"
)

// DetectedSet remembers viewer ids already reported for one condition so the
// matching event fires at most once per session.
type DetectedSet struct {
	seen map[string]struct{}
}

// NewDetectedSet returns an empty set.
func NewDetectedSet() *DetectedSet {
	return &DetectedSet{seen: make(map[string]struct{})}
}

// Mark adds id and reports whether it was new. Empty ids are never new.
func (d *DetectedSet) Mark(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// Has reports whether id was marked.
func (d *DetectedSet) Has(id string) bool {
	_, ok := d.seen[id]
	return ok
}

// Len returns the number of marked ids.
func (d *DetectedSet) Len() int { return len(d.seen) }

// Reset forgets every id.
func (d *DetectedSet) Reset() { clear(d.seen) }

// ViewerRegistry keeps the strongest classification seen for each viewer in
// the current session. It is the default cooldown.Classifier.
type ViewerRegistry struct {
	viewers map[string]cooldown.Classification
}

// NewViewerRegistry returns an empty registry.
func NewViewerRegistry() *ViewerRegistry {
	return &ViewerRegistry{viewers: make(map[string]cooldown.Classification)}
}

// Observe merges badges into the viewer's record. Badges are sticky for the
// session: likes and follows often arrive without a badge list.
func (r *ViewerRegistry) Observe(id string, b normalize.Badges) {
	if id == "" {
		return
	}
	c := r.viewers[id]
	c.Subscriber = c.Subscriber || b.Subscriber
	c.FanClubLevel = max(c.FanClubLevel, b.FanClubLevel)
	r.viewers[id] = c
}

// Classify implements cooldown.Classifier.
func (r *ViewerRegistry) Classify(id string) cooldown.Classification { return r.viewers[id] }

// Len returns the number of known viewers.
func (r *ViewerRegistry) Len() int { return len(r.viewers) }

// Reset forgets every viewer.
func (r *ViewerRegistry) Reset() { clear(r.viewers) }

// CommandParser recognises spawn and stance commands at the start of a chat
// message. Matching is case-insensitive.
type CommandParser struct {
	spawn  map[string]struct{}
	stance map[string]struct{}
}

// DefaultSpawnCommands and DefaultStanceCommands are used when none are configured.
var (
	DefaultSpawnCommands  = []string{"!spawn", "!join"}
	DefaultStanceCommands = []string{"!attack", "!defend", "!retreat"}
)

// NewCommandParser builds a parser. Empty lists fall back to the defaults.
func NewCommandParser(spawn, stance []string) *CommandParser {
	if len(spawn) == 0 {
		spawn = DefaultSpawnCommands
	}
	if len(stance) == 0 {
		stance = DefaultStanceCommands
	}
	p := &CommandParser{spawn: make(map[string]struct{}), stance: make(map[string]struct{})}
	for _, c := range spawn {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			p.spawn[c] = struct{}{}
		}
	}
	for _, c := range stance {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			p.stance[c] = struct{}{}
		}
	}
	return p
}

// Parse returns the command at the start of text, or a CommandNone command.
func (p *CommandParser) Parse(text string) event.Command {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return event.Command{}
	}
	name := strings.ToLower(fields[0])
	arg := strings.Join(fields[1:], " ")
	if _, ok := p.spawn[name]; ok {
		return event.Command{Kind: event.CommandSpawn, Name: name, Arg: arg}
	}
	if _, ok := p.stance[name]; ok {
		return event.Command{Kind: event.CommandStance, Name: name, Arg: arg}
	}
	return event.Command{}
}
