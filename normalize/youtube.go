package normalize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/live-ingest/event"
)

// Envelope kinds written by the YouTube poller into the queue.
const (
	EnvMessage      = "message"
	EnvLikes        = "likes"
	EnvConnected    = "connected"
	EnvDisconnected = "_disconnected"
	EnvStreamEnd    = "streamEnd"
)

// YouTubeEnvelope wraps everything the poller hands to the tick goroutine: a
// chat item, a like-count sample or a lifecycle marker.
type YouTubeEnvelope struct {
	Kind       string              `json:"kind"`
	Item       *yt.LiveChatMessage `json:"item,omitempty"`
	Count      int64               `json:"count,omitempty"`
	LiveChatID string              `json:"liveChatId,omitempty"`
	VideoID    string              `json:"videoId,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Class      string              `json:"class,omitempty"`
}

// LiveChatMessage type tags handled by the normalizer.
const (
	ytText            = "textMessageEvent"
	ytSuperChat       = "superChatEvent"
	ytSuperSticker    = "superStickerEvent"
	ytNewSponsor      = "newSponsorEvent"
	ytMemberMilestone = "memberMilestoneChatEvent"
	ytChatEnded       = "chatEndedEvent"
)

// DefaultCurrencyRates converts one unit of a currency into USD. A paid
// message in a currency missing here counts as the one-unit minimum.
var DefaultCurrencyRates = map[string]float64{
	"USD": 1,
	"EUR": 1.08,
	"GBP": 1.27,
	"CAD": 0.73,
	"AUD": 0.66,
	"NZD": 0.61,
	"CHF": 1.12,
	"JPY": 0.0067,
	"KRW": 0.00075,
	"INR": 0.012,
	"BRL": 0.18,
	"MXN": 0.055,
	"PHP": 0.018,
	"IDR": 0.000063,
	"TWD": 0.031,
	"HKD": 0.128,
	"SGD": 0.74,
	"SEK": 0.095,
	"NOK": 0.094,
	"DKK": 0.145,
	"PLN": 0.25,
	"RUB": 0.011,
	"TRY": 0.031,
	"ZAR": 0.054,
	"ARS": 0.0011,
	"BGN": 0.55,
	"BOB": 0.145,
	"BYN": 0.31,
	"CLP": 0.00107,
	"CNY": 0.138,
	"COP": 0.00025,
	"CRC": 0.0019,
	"CZK": 0.043,
	"DOP": 0.017,
	"EGP": 0.021,
	"GTQ": 0.13,
	"HNL": 0.04,
	"HRK": 0.143,
	"HUF": 0.0027,
	"ILS": 0.27,
	"ISK": 0.0072,
	"KES": 0.0077,
	"KZT": 0.0021,
	"MAD": 0.1,
	"MYR": 0.21,
	"NGN": 0.00065,
	"NIO": 0.027,
	"PEN": 0.27,
	"PKR": 0.0036,
	"PYG": 0.00013,
	"QAR": 0.27,
	"RON": 0.22,
	"RSD": 0.0092,
	"SAR": 0.27,
	"THB": 0.028,
	"UAH": 0.024,
	"UYU": 0.025,
	"VND": 0.00004,
	"AED": 0.27,
}

// DefaultCoinsPerUSD scales paid messages into the gift value unit.
const DefaultCoinsPerUSD = 100

// YouTube decodes poller envelopes.
type YouTube struct {
	CoinsPerUSD float64
	Rates       map[string]float64

	mu      sync.Mutex
	unknown map[string]bool // currencies already reported
}

// NewYouTube returns a decoder with the default rate table.
func NewYouTube(coinsPerUSD float64) *YouTube {
	if coinsPerUSD <= 0 {
		coinsPerUSD = DefaultCoinsPerUSD
	}
	return &YouTube{CoinsPerUSD: coinsPerUSD, Rates: DefaultCurrencyRates}
}

// Normalize implements Normalizer.
func (y *YouTube) Normalize(payload []byte, at time.Time) ([]Item, error) {
	var env YouTubeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: youtube envelope: %v", ErrMalformed, err)
	}
	it := Item{Provider: event.ProviderYouTube, At: at}
	switch env.Kind {
	case EnvConnected:
		it.Kind = ItemConnected
		it.Channel = firstNonEmpty(env.VideoID, env.LiveChatID)
	case EnvDisconnected:
		it.Kind = ItemDisconnected
		it.Text = firstNonEmpty(env.Reason, "poll failed")
		it.ErrorClass = env.Class
	case EnvStreamEnd:
		it.Kind = ItemStreamEnded
	case EnvLikes:
		it.Kind = ItemLike
		it.LikeTotal = env.Count
	case EnvMessage:
		if env.Item == nil || env.Item.Snippet == nil {
			return nil, fmt.Errorf("%w: youtube message without snippet", ErrMalformed)
		}
		return y.message(env.Item, at)
	default:
		return nil, nil
	}
	return []Item{it}, nil
}

func (y *YouTube) message(m *yt.LiveChatMessage, at time.Time) ([]Item, error) {
	sn := m.Snippet
	it := Item{Provider: event.ProviderYouTube, At: at}
	if ts, err := time.Parse(time.RFC3339Nano, sn.PublishedAt); err == nil {
		it.At = ts
	}
	it.Viewer.ID = sn.AuthorChannelId
	if a := m.AuthorDetails; a != nil {
		it.Viewer.ID = firstNonEmpty(a.ChannelId, it.Viewer.ID)
		it.Viewer.Name = a.DisplayName
		it.Viewer.AvatarURL = a.ProfileImageUrl
		it.Badges.Subscriber = a.IsChatSponsor
	}

	switch sn.Type {
	case ytText:
		it.Kind = ItemChat
		it.Text = sn.DisplayMessage
		if d := sn.TextMessageDetails; d != nil && d.MessageText != "" {
			it.Text = d.MessageText
		}
		it.Text = strings.TrimSpace(it.Text)
	case ytSuperChat:
		d := sn.SuperChatDetails
		if d == nil {
			return nil, fmt.Errorf("%w: superChatEvent without details", ErrMalformed)
		}
		it.Kind = ItemGift
		it.GiftLabel = firstNonEmpty(d.AmountDisplayString, "Super Chat")
		it.GiftValue = y.coins(d.AmountMicros, d.Currency)
		if c := strings.TrimSpace(d.UserComment); c != "" {
			// the comment can carry commands like any chat line
			comment := it
			comment.Kind = ItemChat
			comment.Text = c
			comment.GiftLabel, comment.GiftValue = "", 0
			return []Item{it, comment}, nil
		}
	case ytSuperSticker:
		d := sn.SuperStickerDetails
		if d == nil {
			return nil, fmt.Errorf("%w: superStickerEvent without details", ErrMalformed)
		}
		it.Kind = ItemGift
		it.GiftLabel = "Super Sticker"
		if md := d.SuperStickerMetadata; md != nil && md.AltText != "" {
			it.GiftLabel = md.AltText
		}
		it.GiftValue = y.coins(d.AmountMicros, d.Currency)
	case ytNewSponsor:
		it.Kind = ItemNewSponsor
		it.Badges.Subscriber = true
	case ytMemberMilestone:
		it.Kind = ItemSubscribe
		it.Badges.Subscriber = true
		if d := sn.MemberMilestoneChatDetails; d != nil {
			it.Months = int(d.MemberMonth)
		}
	case ytChatEnded:
		return []Item{{Kind: ItemStreamEnded, Provider: event.ProviderYouTube, At: it.At}}, nil
	default:
		return nil, nil
	}
	return []Item{it}, nil
}

// coins converts a paid amount into gift value units. Paid messages always
// count for at least one unit; so does any amount in an unknown currency.
func (y *YouTube) coins(micros uint64, currency string) int64 {
	if micros == 0 {
		return 0
	}
	currency = strings.ToUpper(currency)
	rate, ok := y.Rates[currency]
	if !ok {
		y.reportUnknown(currency)
		return 1
	}
	v := math.Round(float64(micros) / 1e6 * rate * y.CoinsPerUSD)
	if v < 1 && micros > 0 {
		v = 1
	}
	return int64(v)
}

func (y *YouTube) reportUnknown(currency string) {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.unknown[currency] {
		return
	}
	if y.unknown == nil {
		y.unknown = map[string]bool{}
	}
	y.unknown[currency] = true
	slog.Warn("unknown super chat currency; counting as minimum value", slog.String("currency", currency), slog.String("component", "normalize"))
}
