package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/live-ingest/event"
)

// Wire tags emitted by the TikTok broker. DisconnectedTag is injected locally
// by the transport when the socket is lost.
const (
	TagConnected    = "connected"
	TagChat         = "chat"
	TagGift         = "gift"
	TagLike         = "like"
	TagSubscribe    = "subscribe"
	TagFollow       = "follow"
	TagShare        = "share"
	TagMember       = "member"
	TagStreamEnd    = "streamEnd"
	TagError        = "error"
	DisconnectedTag = "_disconnected"
)

// tiktokFrame is the broker envelope. The tag travels as "type", which cannot
// be a Go identifier, so it is read into Kind.
type tiktokFrame struct {
	Kind string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type tiktokBadge struct {
	Type  string  `json:"type"`
	Name  string  `json:"name"`
	Level flexInt `json:"level"`
}

type tiktokUser struct {
	UserID       string          `json:"userId"`
	UniqueID     string          `json:"uniqueId"`
	Nickname     string          `json:"nickname"`
	ProfilePic   json.RawMessage `json:"profilePictureUrl"`
	IsSubscriber bool            `json:"isSubscriber"`
	Badges       []tiktokBadge   `json:"userBadges"`
}

type tiktokData struct {
	tiktokUser

	Comment string `json:"comment"`

	GiftName      string  `json:"giftName"`
	DiamondCount  flexInt `json:"diamondCount"`
	RepeatCount   flexInt `json:"repeatCount"`
	RepeatEnd     *bool   `json:"repeatEnd"`
	TotalDiamonds flexInt `json:"totalDiamonds"`

	LikeCount      flexInt `json:"likeCount"`
	TotalLikeCount flexInt `json:"totalLikeCount"`

	SubMonth flexInt `json:"subMonth"`

	RoomID   string `json:"roomId"`
	Username string `json:"username"`

	Message string `json:"message"`
	Reason  string `json:"reason"`
	Class   string `json:"class"`
}

// TikTok decodes broker frames.
type TikTok struct{}

// Normalize implements Normalizer.
func (TikTok) Normalize(payload []byte, at time.Time) ([]Item, error) {
	var f tiktokFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("%w: tiktok frame: %v", ErrMalformed, err)
	}
	var d tiktokData
	if len(f.Data) > 0 && !bytes.Equal(f.Data, []byte("null")) {
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: tiktok %s data: %v", ErrMalformed, f.Kind, err)
		}
	}

	it := Item{Provider: event.ProviderTikTok, At: at}
	switch f.Kind {
	case TagConnected:
		it.Kind = ItemConnected
		it.Channel = firstNonEmpty(d.Username, d.RoomID)
		return []Item{it}, nil
	case DisconnectedTag:
		it.Kind = ItemDisconnected
		it.Text = firstNonEmpty(d.Reason, d.Message, "connection lost")
		it.ErrorClass = d.Class
		return []Item{it}, nil
	case TagStreamEnd:
		it.Kind = ItemStreamEnded
		return []Item{it}, nil
	case TagError:
		it.Kind = ItemError
		it.Text = firstNonEmpty(d.Message, d.Reason, "broker error")
		return []Item{it}, nil
	case TagChat:
		it.Kind = ItemChat
		it.Text = strings.TrimSpace(d.Comment)
	case TagGift:
		// Streakable gifts repeat the frame while the streak runs; only the
		// closing frame carries the final count.
		if d.RepeatEnd != nil && !*d.RepeatEnd {
			return nil, nil
		}
		it.Kind = ItemGift
		it.GiftLabel = firstNonEmpty(d.GiftName, "gift")
		it.GiftValue = giftValue(int64(d.TotalDiamonds), int64(d.DiamondCount), int64(d.RepeatCount))
	case TagLike:
		it.Kind = ItemLike
		it.LikeDelta = int64(d.LikeCount)
		it.LikeTotal = int64(d.TotalLikeCount)
	case TagSubscribe:
		it.Kind = ItemSubscribe
		it.Months = int(d.SubMonth)
		it.Badges.Subscriber = true
	case TagFollow:
		it.Kind = ItemFollow
	case TagShare:
		it.Kind = ItemShare
	case TagMember:
		it.Kind = ItemMember
	default:
		return nil, nil
	}

	it.Viewer = event.Viewer{
		ID:        firstNonEmpty(d.UserID, d.UniqueID),
		Name:      firstNonEmpty(d.Nickname, d.UniqueID),
		AvatarURL: avatarURL(d.ProfilePic, f.Data),
	}
	if d.IsSubscriber {
		it.Badges.Subscriber = true
	}
	for _, b := range d.Badges {
		applyBadge(&it.Badges, b)
	}
	return []Item{it}, nil
}

// giftValue prefers the cumulative total and falls back to unit x repeat.
func giftValue(total, unit, repeat int64) int64 {
	if total > 0 {
		return total
	}
	if repeat < 1 {
		repeat = 1
	}
	if unit > 0 && repeat > math.MaxInt64/unit {
		return math.MaxInt64
	}
	return unit * repeat
}

func applyBadge(b *Badges, tb tiktokBadge) {
	t := strings.ToLower(tb.Type + " " + tb.Name)
	switch {
	case strings.Contains(t, "subscriber"):
		b.Subscriber = true
	case strings.Contains(t, "fan"):
		lvl := max(int(tb.Level), 1)
		if lvl > b.FanClubLevel {
			b.FanClubLevel = lvl
		}
	}
}

var (
	avatarKeyRe  = regexp.MustCompile(`"profilePictureUrl"\s*:\s*"([^"]+)"`)
	avatarUrlsRe = regexp.MustCompile(`"urls"\s*:\s*\[\s*"([^"]+)"`)
)

// avatarURL returns the avatar when the field is a plain string. The broker
// also sends it as an object of url lists, which the struct decode cannot
// hold, so the raw text is scanned as a fallback.
func avatarURL(field json.RawMessage, raw []byte) string {
	var s string
	if len(field) > 0 && json.Unmarshal(field, &s) == nil && s != "" {
		return s
	}
	if m := avatarUrlsRe.FindSubmatch(field); m != nil {
		return unescapeJSON(m[1])
	}
	if m := avatarKeyRe.FindSubmatch(raw); m != nil {
		return unescapeJSON(m[1])
	}
	return ""
}

func unescapeJSON(b []byte) string {
	var s string
	if err := json.Unmarshal(append(append([]byte{'"'}, b...), '"'), &s); err != nil {
		return string(b)
	}
	return s
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}

// flexInt accepts a JSON number or a quoted number. Finite values beyond the
// int64 range are clamped; anything else decodes to zero instead of failing
// the whole frame.
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if i, err := strconv.ParseInt(string(b), 10, 64); err == nil {
		*n = flexInt(i)
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	switch {
	case err != nil, math.IsNaN(v), math.IsInf(v, 0):
		*n = 0
	case v >= math.MaxInt64:
		*n = math.MaxInt64
	case v <= math.MinInt64:
		*n = math.MinInt64
	default:
		*n = flexInt(v)
	}
	return nil
}
