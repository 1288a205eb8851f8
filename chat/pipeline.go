package chat

import (
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/live-ingest/connection"
	"github.com/onnwee/live-ingest/cooldown"
	"github.com/onnwee/live-ingest/event"
	"github.com/onnwee/live-ingest/gift"
	"github.com/onnwee/live-ingest/milestone"
	"github.com/onnwee/live-ingest/normalize"
	"github.com/onnwee/live-ingest/queue"
	"github.com/onnwee/live-ingest/telemetry"
)

// DefaultSweepInterval is how often expired cooldowns are removed.
const DefaultSweepInterval = time.Minute

// Pauser is implemented by transports that can stop fetching while ingestion
// is switched off (the YouTube poller).
type Pauser interface {
	SetPaused(paused bool)
}

// Options configures a Pipeline. Provider, Queue, Normalizer, Transport and
// Sink are required.
type Options struct {
	Provider   event.Provider
	Queue      *queue.Queue
	Normalizer normalize.Normalizer
	Transport  connection.Transport
	Sink       event.Sink

	Policy        connection.Policy
	GiftWindow    time.Duration
	GiftTiers     gift.Table
	Cooldown      cooldown.Policy
	Classifier    cooldown.Classifier // defaults to the pipeline's ViewerRegistry
	Milestones    []int64
	Commands      *CommandParser
	DrainPerTick  int
	SweepInterval time.Duration
}

// Status is the published view of one pipeline.
type Status struct {
	connection.Snapshot
	Ingesting        bool   `json:"ingesting"`
	QueueDepth       int    `json:"queue_depth"`
	Received         uint64 `json:"received"`
	Dropped          uint64 `json:"dropped"`
	PendingGifts     int    `json:"pending_gifts"`
	LikeTotal        int64  `json:"like_total"`
	HighestMilestone int    `json:"highest_milestone"`
}

// Pipeline is the consumer side of one provider. Every method must be called
// from the goroutine that calls Tick.
type Pipeline struct {
	provider   event.Provider
	queue      *queue.Queue
	normalizer normalize.Normalizer
	transport  connection.Transport
	sink       event.Sink
	machine    *connection.Machine
	gifts      *gift.Aggregator
	throttle   *cooldown.Throttle
	likes      *milestone.Tracker
	registry   *ViewerRegistry
	commands   *CommandParser

	subscribers *DetectedSet
	fanClub     *DetectedSet
	subscribed  *DetectedSet
	followed    *DetectedSet
	shared      *DetectedSet

	drain         int
	sweepInterval time.Duration
	lastSweep     time.Time
	ingesting     bool

	seenEnqueued uint64
	seenDropped  uint64
	pausedDrops  uint64
}

// NewPipeline builds a pipeline in Disconnected.
func NewPipeline(o Options) *Pipeline {
	if o.Policy == (connection.Policy{}) {
		o.Policy = connection.DefaultPolicy()
	}
	if o.Cooldown.Base == 0 {
		o.Cooldown = cooldown.DefaultPolicy()
	}
	if o.Commands == nil {
		o.Commands = NewCommandParser(nil, nil)
	}
	if o.DrainPerTick <= 0 {
		o.DrainPerTick = queue.DefaultDrain
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.Sink == nil {
		o.Sink = event.LogSink{}
	}

	p := &Pipeline{
		provider:      o.Provider,
		queue:         o.Queue,
		normalizer:    o.Normalizer,
		transport:     o.Transport,
		sink:          o.Sink,
		gifts:         gift.NewAggregator(o.GiftWindow, o.GiftTiers),
		likes:         milestone.NewTracker(o.Milestones),
		registry:      NewViewerRegistry(),
		commands:      o.Commands,
		subscribers:   NewDetectedSet(),
		fanClub:       NewDetectedSet(),
		subscribed:    NewDetectedSet(),
		followed:      NewDetectedSet(),
		shared:        NewDetectedSet(),
		drain:         o.DrainPerTick,
		sweepInterval: o.SweepInterval,
		ingesting:     true,
	}
	classifier := o.Classifier
	if classifier == nil {
		classifier = p.registry
	}
	p.throttle = cooldown.New(o.Cooldown, classifier)
	p.machine = connection.NewMachine(o.Provider, o.Transport, o.Policy)
	p.machine.OnTransition(func(_, to connection.State) {
		telemetry.SetConnectionState(string(p.provider), int(to))
	})
	return p
}

// Provider returns the provider id.
func (p *Pipeline) Provider() event.Provider { return p.provider }

// Machine exposes the connection state machine.
func (p *Pipeline) Machine() *connection.Machine { return p.machine }

// Registry exposes the viewer registry.
func (p *Pipeline) Registry() *ViewerRegistry { return p.registry }

// Connect starts a new session: session-scoped state is cleared, stale queued
// messages are discarded, and the transport is started.
func (p *Pipeline) Connect(creds connection.Credentials, now time.Time) error {
	if creds.Empty() {
		return connection.ErrEmptyCredentials
	}
	if p.machine.State() != connection.Disconnected {
		return p.machine.RequestConnect(creds, now)
	}
	p.resetSession()
	p.queue.Clear()
	p.applyPause()
	return p.machine.RequestConnect(creds, now)
}

// Disconnect is the explicit user disconnect. Pending gifts are delivered
// before the session is dropped.
func (p *Pipeline) Disconnect() {
	p.emitGifts(p.gifts.FlushAll())
	p.machine.Disconnect()
	p.queue.Clear()
	p.resetSession()
}

// SetIngestion switches ingestion on or off. While off, drained messages are
// dropped except lifecycle markers, and pausable transports stop fetching.
func (p *Pipeline) SetIngestion(on bool) {
	p.ingesting = on
	p.applyPause()
}

func (p *Pipeline) applyPause() {
	if pz, ok := p.transport.(Pauser); ok {
		pz.SetPaused(!p.ingesting)
	}
}

func (p *Pipeline) resetSession() {
	p.likes.Reset()
	p.registry.Reset()
	p.throttle.Reset()
	p.subscribers.Reset()
	p.fanClub.Reset()
	p.subscribed.Reset()
	p.followed.Reset()
	p.shared.Reset()
}

// Tick runs one consumer step at now.
func (p *Pipeline) Tick(now time.Time) {
	for _, msg := range p.queue.Drain(p.drain) {
		p.process(msg, now)
	}

	if n := p.machine.Tick(now); n != nil {
		p.notice(n, now)
	}

	p.emitGifts(p.gifts.Flush(now))

	if c, ok := p.likes.Evaluate(); ok {
		p.emit(event.LikeMilestone{
			Meta:      p.meta(event.Viewer{}, now),
			Index:     c.Index,
			Threshold: c.Threshold,
			Total:     c.Total,
		})
	}

	if now.Sub(p.lastSweep) >= p.sweepInterval {
		p.throttle.Sweep(now)
		p.lastSweep = now
	}

	p.recordQueueStats()
}

// Status returns the current view of the pipeline.
func (p *Pipeline) Status() Status {
	enq, dropped := p.queue.Stats()
	return Status{
		Snapshot:         p.machine.Snapshot(),
		Ingesting:        p.ingesting,
		QueueDepth:       p.queue.Len(),
		Received:         enq,
		Dropped:          dropped + p.pausedDrops,
		PendingGifts:     p.gifts.Pending(),
		LikeTotal:        p.likes.Total(),
		HighestMilestone: p.likes.Highest(),
	}
}

func (p *Pipeline) recordQueueStats() {
	provider := string(p.provider)
	enq, dropped := p.queue.Stats()
	telemetry.AddReceived(provider, int(enq-p.seenEnqueued))
	telemetry.AddDropped(provider, int(dropped-p.seenDropped))
	p.seenEnqueued, p.seenDropped = enq, dropped
	telemetry.SetQueueDepth(provider, p.queue.Len())
}

// process handles one raw message. A panic anywhere in normalization or
// routing only costs this message.
func (p *Pipeline) process(msg queue.RawMessage, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.IncParseFailure(string(p.provider))
			slog.Error("ingest message panicked",
				slog.String("provider", string(p.provider)),
				slog.Any("panic", r),
				slog.String("component", "chat"))
		}
	}()

	at := msg.ReceivedAt
	if at.IsZero() {
		at = now
	}
	items, err := p.normalizer.Normalize(msg.Payload, at)
	if err != nil {
		telemetry.IncParseFailure(string(p.provider))
		slog.Warn("skipping malformed message",
			slog.String("provider", string(p.provider)),
			slog.Any("err", err),
			slog.Int("bytes", len(msg.Payload)),
			slog.String("component", "chat"))
		return
	}
	for _, it := range items {
		if !p.ingesting && !lifecycle(it.Kind) {
			p.pausedDrops++
			telemetry.AddDropped(string(p.provider), 1)
			continue
		}
		p.route(it, at, now)
	}
}

func lifecycle(k normalize.ItemKind) bool {
	switch k {
	case normalize.ItemConnected, normalize.ItemDisconnected, normalize.ItemStreamEnded, normalize.ItemError:
		return true
	}
	return false
}

func (p *Pipeline) route(it normalize.Item, arrived, now time.Time) {
	if it.Viewer.ID != "" {
		p.registry.Observe(it.Viewer.ID, it.Badges)
		p.detect(it)
	}

	switch it.Kind {
	case normalize.ItemChat:
		p.chat(it, now)
	case normalize.ItemGift:
		p.gifts.Add(gift.Unit{Provider: p.provider, Viewer: it.Viewer, Label: it.GiftLabel, Value: it.GiftValue, At: it.At}, arrived)
	case normalize.ItemLike:
		total := it.LikeTotal
		if total <= 0 {
			total = p.likes.Total() + it.LikeDelta
		}
		p.likes.Observe(total, it.LikeDelta)
	case normalize.ItemSubscribe:
		if p.subscribed.Mark(it.Viewer.ID) {
			p.emit(event.Subscribe{Meta: p.meta(it.Viewer, it.At), Months: it.Months})
		}
	case normalize.ItemFollow:
		if p.followed.Mark(it.Viewer.ID) {
			p.emit(event.Follow{Meta: p.meta(it.Viewer, it.At)})
		}
	case normalize.ItemShare:
		if p.shared.Mark(it.Viewer.ID) {
			p.emit(event.Share{Meta: p.meta(it.Viewer, it.At)})
		}
	case normalize.ItemConnected:
		if p.machine.HandleConnected() {
			channel := p.machine.Session().Credentials.Channel
			if channel == "" {
				channel = it.Channel
			}
			slog.Info("provider connected",
				slog.String("provider", string(p.provider)),
				slog.String("channel", channel),
				slog.String("component", "chat"))
			p.emit(event.StreamConnected{Meta: p.meta(event.Viewer{}, now), Channel: channel})
		}
	case normalize.ItemDisconnected:
		err := connection.Classified(connection.ParseClass(it.ErrorClass), errors.New(it.Text))
		if n := p.machine.HandleFailure(err, now); n != nil {
			p.notice(n, now)
		}
	case normalize.ItemStreamEnded:
		if p.machine.State() == connection.Disconnected {
			return
		}
		p.emitGifts(p.gifts.FlushAll())
		p.machine.End("stream ended")
		p.emit(event.StreamEnded{Meta: p.meta(event.Viewer{}, now)})
	case normalize.ItemError:
		slog.Warn("provider reported error",
			slog.String("provider", string(p.provider)),
			slog.String("message", it.Text),
			slog.String("component", "chat"))
		p.emit(event.Error{Meta: p.meta(event.Viewer{}, now), Message: it.Text, Class: connection.ClassTransient.String()})
	}
}

// detect emits the one-per-session events implied by badges.
func (p *Pipeline) detect(it normalize.Item) {
	if it.Badges.Subscriber && p.subscribers.Mark(it.Viewer.ID) {
		p.emit(event.NewSubscriber{Meta: p.meta(it.Viewer, it.At)})
	}
	if it.Badges.FanClubLevel > 0 && p.fanClub.Mark(it.Viewer.ID) {
		p.emit(event.TeamMembership{Meta: p.meta(it.Viewer, it.At), Level: it.Badges.FanClubLevel})
	}
}

func (p *Pipeline) chat(it normalize.Item, now time.Time) {
	if it.Text == "" {
		return
	}
	ev := event.Chat{Meta: p.meta(it.Viewer, it.At), Text: it.Text, Command: p.commands.Parse(it.Text)}
	if ev.Command.Kind == event.CommandSpawn && !p.throttle.Allow(it.Viewer.ID, now) {
		telemetry.IncCooldownSuppressed(string(p.provider))
		slog.Debug("spawn suppressed by cooldown",
			slog.String("provider", string(p.provider)),
			slog.String("viewer", it.Viewer.ID),
			slog.Duration("remaining", p.throttle.Remaining(it.Viewer.ID, now)),
			slog.String("component", "chat"))
		ev.Command = event.Command{}
		ev.Throttled = true
	}
	p.emit(ev)
}

func (p *Pipeline) notice(n *connection.Notice, now time.Time) {
	if !n.Terminal {
		telemetry.IncReconnect(string(p.provider))
	} else {
		p.emitGifts(p.gifts.FlushAll())
		slog.Error("provider connection gave up",
			slog.String("provider", string(p.provider)),
			slog.String("class", n.Class.String()),
			slog.String("last_error", n.Message),
			slog.String("component", "chat"))
	}
	p.emit(event.Error{
		Meta:     p.meta(event.Viewer{}, now),
		Message:  n.Message,
		Class:    n.Class.String(),
		Terminal: n.Terminal,
	})
}

func (p *Pipeline) emitGifts(gs []event.Gift) {
	for _, g := range gs {
		p.emit(g)
	}
}

func (p *Pipeline) emit(e event.Event) {
	telemetry.IncEvent(string(p.provider), e.Kind().String())
	p.sink.OnCanonicalEvent(e)
}

func (p *Pipeline) meta(v event.Viewer, at time.Time) event.Meta {
	return event.Meta{Provider: p.provider, Viewer: v, At: at}
}
