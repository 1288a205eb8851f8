// Package event defines the canonical, provider-agnostic events produced by the
// ingestion pipelines and the Sink interface their consumer implements.
//
// Every canonical event is one of a closed set of variant structs. Consumers
// switch on the concrete type (or on Kind) and never see provider wire shapes.
package event

import "time"

// Provider identifies the platform an event originated from.
type Provider string

const (
	ProviderTikTok  Provider = "tiktok"
	ProviderYouTube Provider = "youtube"
)

// Kind tags the variant of a canonical event.
type Kind int

const (
	KindChat Kind = iota + 1
	KindGift
	KindSubscribe
	KindNewSubscriber
	KindFollow
	KindShare
	KindTeamMembership
	KindLikeMilestone
	KindStreamConnected
	KindStreamEnded
	KindError
)

var kindNames = map[Kind]string{
	KindChat:            "chat",
	KindGift:            "gift",
	KindSubscribe:       "subscribe",
	KindNewSubscriber:   "new_subscriber",
	KindFollow:          "follow",
	KindShare:           "share",
	KindTeamMembership:  "team_membership",
	KindLikeMilestone:   "like_milestone",
	KindStreamConnected: "stream_connected",
	KindStreamEnded:     "stream_ended",
	KindError:           "error",
}

// String returns the snake_case name used in logs, metrics and JSON.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Viewer is the audience member an event is attributed to. Lifecycle events
// carry a zero Viewer.
type Viewer struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Meta is shared by every variant.
type Meta struct {
	Provider Provider  `json:"provider"`
	Viewer   Viewer    `json:"viewer"`
	At       time.Time `json:"at"`
}

// Event is the sealed canonical event union.
type Event interface {
	Kind() Kind
	Header() Meta
	sealed()
}

// CommandKind classifies a chat command.
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandSpawn
	CommandStance
)

// Command is the parsed command carried by a Chat event.
type Command struct {
	Kind CommandKind `json:"kind"`
	Name string      `json:"name,omitempty"`
	Arg  string      `json:"arg,omitempty"`
}

// Chat is delivered once per chat message. Throttled is set when the message
// held a spawn command that the viewer's cooldown suppressed; Command is then
// CommandNone.
type Chat struct {
	Meta
	Text      string  `json:"text"`
	Command   Command `json:"command"`
	Throttled bool    `json:"throttled,omitempty"`
}

// Gift is one aggregated burst of gifts from a single viewer.
type Gift struct {
	Meta
	Label   string `json:"label"`
	Count   int    `json:"count"`
	Value   int64  `json:"value"`
	Tier    int    `json:"tier"`
	Display string `json:"display"`
}

// Subscribe reports a subscription (or membership milestone) by a viewer.
type Subscribe struct {
	Meta
	Months int `json:"months,omitempty"`
}

// NewSubscriber is emitted the first time a viewer is seen as a subscriber.
type NewSubscriber struct{ Meta }

// Follow is emitted at most once per viewer per session.
type Follow struct{ Meta }

// Share is emitted at most once per viewer per session.
type Share struct{ Meta }

// TeamMembership is emitted the first time a viewer is seen with a fan-club badge.
type TeamMembership struct {
	Meta
	Level int `json:"level"`
}

// LikeMilestone reports that the like counter crossed Threshold since connect.
type LikeMilestone struct {
	Meta
	Index     int   `json:"index"`
	Threshold int64 `json:"threshold"`
	Total     int64 `json:"total"`
}

// StreamConnected signals that the provider acknowledged the connection.
type StreamConnected struct {
	Meta
	Channel string `json:"channel"`
}

// StreamEnded signals the live stream is over.
type StreamEnded struct{ Meta }

// Error surfaces a pipeline error. Terminal errors leave the session
// disconnected until the user reconnects.
type Error struct {
	Meta
	Message  string `json:"message"`
	Class    string `json:"class,omitempty"`
	Terminal bool   `json:"terminal"`
}

func (Chat) Kind() Kind            { return KindChat }
func (Gift) Kind() Kind            { return KindGift }
func (Subscribe) Kind() Kind       { return KindSubscribe }
func (NewSubscriber) Kind() Kind   { return KindNewSubscriber }
func (Follow) Kind() Kind          { return KindFollow }
func (Share) Kind() Kind           { return KindShare }
func (TeamMembership) Kind() Kind  { return KindTeamMembership }
func (LikeMilestone) Kind() Kind   { return KindLikeMilestone }
func (StreamConnected) Kind() Kind { return KindStreamConnected }
func (StreamEnded) Kind() Kind     { return KindStreamEnded }
func (Error) Kind() Kind           { return KindError }

func (m Meta) Header() Meta { return m }
func (Meta) sealed()        {}
