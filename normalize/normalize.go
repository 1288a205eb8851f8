// Package normalize turns raw provider payloads into provider-agnostic Items.
//
// Items are still one step short of canonical events: the chat pipeline
// decides whether an Item becomes an event (detection, cooldowns, gift
// aggregation, milestones), so normalizers stay pure and stateless.
package normalize

import (
	"errors"
	"time"

	"github.com/onnwee/live-ingest/event"
)

// ErrMalformed is wrapped by every decode error.
var ErrMalformed = errors.New("malformed payload")

// ItemKind is the normalized payload tag.
type ItemKind int

const (
	ItemChat ItemKind = iota + 1
	ItemGift
	ItemLike
	ItemSubscribe
	ItemNewSponsor
	ItemFollow
	ItemShare
	ItemMember
	ItemConnected
	ItemDisconnected
	ItemStreamEnded
	ItemError
)

var itemNames = map[ItemKind]string{
	ItemChat:         "chat",
	ItemGift:         "gift",
	ItemLike:         "like",
	ItemSubscribe:    "subscribe",
	ItemNewSponsor:   "new_sponsor",
	ItemFollow:       "follow",
	ItemShare:        "share",
	ItemMember:       "member",
	ItemConnected:    "connected",
	ItemDisconnected: "disconnected",
	ItemStreamEnded:  "stream_ended",
	ItemError:        "error",
}

func (k ItemKind) String() string {
	if s, ok := itemNames[k]; ok {
		return s
	}
	return "unknown"
}

// Badges is the support relationship advertised on a payload.
type Badges struct {
	Subscriber   bool
	FanClubLevel int
}

// Item is one normalized payload. Only the fields relevant to Kind are set.
type Item struct {
	Kind     ItemKind
	Provider event.Provider
	Viewer   event.Viewer
	Badges   Badges
	At       time.Time

	Text string // chat text, error message or disconnect reason

	GiftLabel string
	GiftValue int64

	LikeTotal int64
	LikeDelta int64

	Months  int
	Channel string

	// ErrorClass is the connection.ErrorClass name carried by disconnect
	// markers.
	ErrorClass string
}

// Normalizer decodes one raw payload. A nil slice with a nil error means the
// payload was recognized but carries nothing of interest.
type Normalizer interface {
	Normalize(payload []byte, at time.Time) ([]Item, error)
}
