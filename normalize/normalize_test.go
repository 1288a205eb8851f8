package normalize

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	yt "google.golang.org/api/youtube/v3"
)

func decodeOne(t *testing.T, n Normalizer, payload string) Item {
	t.Helper()
	items, err := n.Normalize([]byte(payload), time.Unix(100, 0))
	if err != nil {
		t.Fatalf("Normalize(%s): %v", payload, err)
	}
	if len(items) != 1 {
		t.Fatalf("Normalize(%s) = %d items, want 1", payload, len(items))
	}
	return items[0]
}

func TestTikTokGiftValueReconciliation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int64
	}{
		{"cumulative wins", `{"type":"gift","data":{"userId":"1","giftName":"Rose","diamondCount":1,"repeatCount":5,"totalDiamonds":7}}`, 7},
		{"unit times repeat", `{"type":"gift","data":{"userId":"1","giftName":"Rose","diamondCount":2,"repeatCount":5,"totalDiamonds":0}}`, 10},
		{"missing repeat", `{"type":"gift","data":{"userId":"1","giftName":"Lion","diamondCount":"29999"}}`, 29999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := decodeOne(t, TikTok{}, tt.payload)
			if it.Kind != ItemGift || it.GiftValue != tt.want {
				t.Fatalf("item = %+v, want gift value %d", it, tt.want)
			}
		})
	}
}

func TestTikTokStreakInProgressSkipped(t *testing.T) {
	items, err := TikTok{}.Normalize([]byte(`{"type":"gift","data":{"userId":"1","diamondCount":1,"repeatCount":3,"repeatEnd":false}}`), time.Now())
	if err != nil || items != nil {
		t.Fatalf("items=%v err=%v, want nothing", items, err)
	}
	it := decodeOne(t, TikTok{}, `{"type":"gift","data":{"userId":"1","diamondCount":1,"repeatCount":3,"repeatEnd":true}}`)
	if it.GiftValue != 3 {
		t.Fatalf("closing frame value = %d", it.GiftValue)
	}
}

func TestTikTokAvatarFallback(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"plain string", `{"type":"chat","data":{"userId":"1","comment":"hi","profilePictureUrl":"https://a/1.jpg"}}`, "https://a/1.jpg"},
		{"url list object", `{"type":"chat","data":{"userId":"1","comment":"hi","profilePictureUrl":{"urls":["https://a/2.webp","https://a/2.jpg"]}}}`, "https://a/2.webp"},
		{"nested user", `{"type":"chat","data":{"userId":"1","comment":"hi","user":{"profilePictureUrl":"https:\/\/a\/3.jpg"}}}`, "https://a/3.jpg"},
		{"absent", `{"type":"chat","data":{"userId":"1","comment":"hi"}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeOne(t, TikTok{}, tt.payload).Viewer.AvatarURL; got != tt.want {
				t.Fatalf("avatar = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTikTokBadgesAndViewer(t *testing.T) {
	it := decodeOne(t, TikTok{}, `{"type":"chat","data":{"uniqueId":"streamfan","nickname":"Fan","comment":" !spawn ","userBadges":[{"type":"fanclub","level":3},{"type":"subscriber"}]}}`)
	if it.Viewer.ID != "streamfan" || it.Viewer.Name != "Fan" || it.Text != "!spawn" {
		t.Fatalf("item = %+v", it)
	}
	if !it.Badges.Subscriber || it.Badges.FanClubLevel != 3 {
		t.Fatalf("badges = %+v", it.Badges)
	}
}

func TestTikTokLifecycleAndUnknown(t *testing.T) {
	if it := decodeOne(t, TikTok{}, `{"type":"connected","data":{"roomId":"7","username":"host"}}`); it.Kind != ItemConnected || it.Channel != "host" {
		t.Fatalf("connected = %+v", it)
	}
	if it := decodeOne(t, TikTok{}, `{"type":"_disconnected","data":{"reason":"read: connection reset","class":"transient"}}`); it.Kind != ItemDisconnected || it.ErrorClass != "transient" {
		t.Fatalf("disconnected = %+v", it)
	}
	if it := decodeOne(t, TikTok{}, `{"type":"streamEnd"}`); it.Kind != ItemStreamEnded {
		t.Fatalf("streamEnd = %+v", it)
	}
	if it := decodeOne(t, TikTok{}, `{"type":"like","data":{"userId":"1","likeCount":15,"totalLikeCount":1015}}`); it.LikeDelta != 15 || it.LikeTotal != 1015 {
		t.Fatalf("like = %+v", it)
	}
	items, err := TikTok{}.Normalize([]byte(`{"type":"roomUser","data":{"viewerCount":3}}`), time.Now())
	if err != nil || items != nil {
		t.Fatalf("unknown tag should be ignored, got %v %v", items, err)
	}
}

func TestTikTokMalformed(t *testing.T) {
	for _, p := range []string{`{"type":`, `{"type":"chat","data":[1,2]}`} {
		if _, err := (TikTok{}).Normalize([]byte(p), time.Now()); !errors.Is(err, ErrMalformed) {
			t.Errorf("Normalize(%s) err = %v, want ErrMalformed", p, err)
		}
	}
}

func ytPayload(t *testing.T, env YouTubeEnvelope) string {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestYouTubeMessages(t *testing.T) {
	y := NewYouTube(100)
	author := &yt.LiveChatMessageAuthorDetails{ChannelId: "UC1", DisplayName: "Ann", ProfileImageUrl: "https://yt/ann.jpg", IsChatSponsor: true}

	text := decodeOne(t, y, ytPayload(t, YouTubeEnvelope{Kind: EnvMessage, Item: &yt.LiveChatMessage{
		AuthorDetails: author,
		Snippet: &yt.LiveChatMessageSnippet{
			Type:               "textMessageEvent",
			PublishedAt:        "2024-05-01T10:00:00Z",
			TextMessageDetails: &yt.LiveChatTextMessageDetails{MessageText: "!attack"},
		},
	}}))
	if text.Kind != ItemChat || text.Text != "!attack" || text.Viewer.ID != "UC1" || !text.Badges.Subscriber {
		t.Fatalf("text = %+v", text)
	}
	if !text.At.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("published time not used: %s", text.At)
	}

	sc := decodeOne(t, y, ytPayload(t, YouTubeEnvelope{Kind: EnvMessage, Item: &yt.LiveChatMessage{
		AuthorDetails: author,
		Snippet: &yt.LiveChatMessageSnippet{
			Type:             "superChatEvent",
			SuperChatDetails: &yt.LiveChatSuperChatDetails{AmountMicros: 5_000_000, Currency: "EUR", AmountDisplayString: "€5.00"},
		},
	}}))
	if sc.Kind != ItemGift || sc.GiftValue != 540 || sc.GiftLabel != "€5.00" {
		t.Fatalf("super chat = %+v", sc)
	}

	ms := decodeOne(t, y, ytPayload(t, YouTubeEnvelope{Kind: EnvMessage, Item: &yt.LiveChatMessage{
		AuthorDetails: author,
		Snippet: &yt.LiveChatMessageSnippet{
			Type:                       "memberMilestoneChatEvent",
			MemberMilestoneChatDetails: &yt.LiveChatMemberMilestoneChatDetails{MemberMonth: 6},
		},
	}}))
	if ms.Kind != ItemSubscribe || ms.Months != 6 {
		t.Fatalf("milestone = %+v", ms)
	}

	sp := decodeOne(t, y, ytPayload(t, YouTubeEnvelope{Kind: EnvMessage, Item: &yt.LiveChatMessage{
		AuthorDetails: &yt.LiveChatMessageAuthorDetails{ChannelId: "UC2"},
		Snippet:       &yt.LiveChatMessageSnippet{Type: "newSponsorEvent"},
	}}))
	if sp.Kind != ItemNewSponsor || !sp.Badges.Subscriber {
		t.Fatalf("new sponsor = %+v", sp)
	}
}

func TestYouTubeMarkers(t *testing.T) {
	y := NewYouTube(0)
	if it := decodeOne(t, y, `{"kind":"likes","count":1200}`); it.Kind != ItemLike || it.LikeTotal != 1200 {
		t.Fatalf("likes = %+v", it)
	}
	if it := decodeOne(t, y, `{"kind":"_disconnected","reason":"quotaExceeded","class":"quota"}`); it.Kind != ItemDisconnected || it.ErrorClass != "quota" {
		t.Fatalf("disconnected = %+v", it)
	}
	if it := decodeOne(t, y, `{"kind":"connected","liveChatId":"chat1","videoId":"vid"}`); it.Channel != "vid" {
		t.Fatalf("connected = %+v", it)
	}
	if _, err := y.Normalize([]byte(`{"kind":"message"}`), time.Now()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("message without item should be malformed, got %v", err)
	}
	if items, err := y.Normalize([]byte(`{"kind":"other"}`), time.Now()); items != nil || err != nil {
		t.Fatalf("unknown kind should be ignored")
	}
}

func TestCoinsConversion(t *testing.T) {
	y := NewYouTube(100)
	tests := []struct {
		micros   uint64
		currency string
		want     int64
	}{
		{1_000_000, "USD", 100},
		{2_000_000, "usd", 200},
		{1_000_000, "XYZ", 1},
		{100_000_000, "JPY", 67},
		{1_000, "JPY", 1},
		{100_000_000_000, "VND", 400},
		{10_000_000_000, "ars", 1100},
		{0, "USD", 0},
	}
	for _, tt := range tests {
		if got := y.coins(tt.micros, tt.currency); got != tt.want {
			t.Errorf("coins(%d %s) = %d, want %d", tt.micros, tt.currency, got, tt.want)
		}
	}
}

func TestUnknownCurrencyCountsAsMinimum(t *testing.T) {
	y := NewYouTube(100)
	for i := 0; i < 2; i++ {
		if got := y.coins(1_000_000_000_000, "ZZZ"); got != 1 {
			t.Fatalf("unknown currency = %d coins, want 1", got)
		}
	}
	if !y.unknown["ZZZ"] {
		t.Fatal("unknown currency not recorded")
	}
}

func TestYouTubeSuperChatComment(t *testing.T) {
	y := NewYouTube(100)
	items, err := y.Normalize([]byte(ytPayload(t, YouTubeEnvelope{Kind: EnvMessage, Item: &yt.LiveChatMessage{
		AuthorDetails: &yt.LiveChatMessageAuthorDetails{ChannelId: "UC9", DisplayName: "Bo"},
		Snippet: &yt.LiveChatMessageSnippet{
			Type:             "superChatEvent",
			SuperChatDetails: &yt.LiveChatSuperChatDetails{AmountMicros: 2_000_000, Currency: "USD", AmountDisplayString: "$2.00", UserComment: " !spawn "},
		},
	}})), time.Unix(100, 0))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want gift and chat", len(items))
	}
	if g := items[0]; g.Kind != ItemGift || g.GiftValue != 200 {
		t.Fatalf("gift = %+v", g)
	}
	if c := items[1]; c.Kind != ItemChat || c.Text != "!spawn" || c.Viewer.ID != "UC9" || c.GiftValue != 0 {
		t.Fatalf("comment = %+v", c)
	}
}

func TestFlexIntBounds(t *testing.T) {
	tests := []struct {
		in   string
		want flexInt
	}{
		{`12`, 12},
		{`"34"`, 34},
		{`5.9`, 5},
		{`9223372036854775807`, math.MaxInt64},
		{`1e300`, math.MaxInt64},
		{`-1e300`, math.MinInt64},
		{`"Infinity"`, 0},
		{`"NaN"`, 0},
		{`"abc"`, 0},
		{`null`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var n flexInt
			if err := json.Unmarshal([]byte(tt.in), &n); err != nil {
				t.Fatalf("Unmarshal(%s): %v", tt.in, err)
			}
			if n != tt.want {
				t.Fatalf("Unmarshal(%s) = %d, want %d", tt.in, n, tt.want)
			}
		})
	}
}

func TestTikTokGiftValueOverflow(t *testing.T) {
	if got := giftValue(0, math.MaxInt64/2, 3); got != math.MaxInt64 {
		t.Fatalf("giftValue overflow = %d, want clamp", got)
	}
}
