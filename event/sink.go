package event

import (
	"encoding/json"
	"log/slog"
)

// Sink receives canonical events. OnCanonicalEvent is always invoked from the
// tick goroutine that owns the pipelines; implementations must not block.
type Sink interface {
	OnCanonicalEvent(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// OnCanonicalEvent calls f(e).
func (f SinkFunc) OnCanonicalEvent(e Event) { f(e) }

// Fanout dispatches each event to its sinks in registration order. A panicking
// sink is logged and skipped; the remaining sinks still receive the event.
type Fanout struct {
	sinks []Sink
}

// NewFanout returns a Fanout over sinks; nil entries are ignored.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

// Add appends a sink. Not safe for use concurrently with OnCanonicalEvent.
func (f *Fanout) Add(s Sink) {
	if s != nil {
		f.sinks = append(f.sinks, s)
	}
}

// OnCanonicalEvent implements Sink.
func (f *Fanout) OnCanonicalEvent(e Event) {
	for i, s := range f.sinks {
		dispatch(i, s, e)
	}
}

func dispatch(i int, s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event sink panicked", slog.Int("sink", i), slog.String("kind", e.Kind().String()), slog.Any("panic", r), slog.String("component", "event"))
		}
	}()
	s.OnCanonicalEvent(e)
}

// LogSink writes every event to the default logger at debug level.
type LogSink struct{}

// OnCanonicalEvent implements Sink.
func (LogSink) OnCanonicalEvent(e Event) {
	h := e.Header()
	slog.Debug("canonical event",
		slog.String("kind", e.Kind().String()),
		slog.String("provider", string(h.Provider)),
		slog.String("viewer", h.Viewer.ID),
		slog.String("component", "event"))
}

// Envelope is the JSON form of an event: the kind tag plus the variant body.
type Envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Marshal encodes e as an Envelope.
func Marshal(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: e.Kind().String(), Data: body})
}
