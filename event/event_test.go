package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFanoutDispatchOrderAndPanicIsolation(t *testing.T) {
	var order []string
	f := NewFanout(
		SinkFunc(func(Event) { order = append(order, "first") }),
		SinkFunc(func(Event) { panic("boom") }),
		nil,
		SinkFunc(func(Event) { order = append(order, "third") }),
	)
	f.OnCanonicalEvent(Follow{Meta: Meta{Provider: ProviderTikTok}})
	if len(order) != 2 || order[0] != "first" || order[1] != "third" {
		t.Fatalf("dispatch order = %v, want [first third]", order)
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		e    Event
		want string
	}{
		{Chat{}, "chat"},
		{Gift{}, "gift"},
		{LikeMilestone{}, "like_milestone"},
		{StreamEnded{}, "stream_ended"},
		{Error{}, "error"},
	}
	for _, tt := range tests {
		if got := tt.e.Kind().String(); got != tt.want {
			t.Errorf("Kind().String() = %q, want %q", got, tt.want)
		}
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("unexpected name for unknown kind")
	}
}

func TestMarshalEnvelope(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := Gift{
		Meta:  Meta{Provider: ProviderYouTube, Viewer: Viewer{ID: "V1", Name: "Viv"}, At: at},
		Label: "Super Chat",
		Count: 2,
		Value: 300,
		Tier:  1,
	}
	b, err := Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var env struct {
		Kind string         `json:"kind"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Kind != "gift" {
		t.Errorf("kind = %q, want gift", env.Kind)
	}
	if env.Data["provider"] != "youtube" || env.Data["value"].(float64) != 300 {
		t.Errorf("unexpected body: %v", env.Data)
	}
	viewer, _ := env.Data["viewer"].(map[string]any)
	if viewer["id"] != "V1" {
		t.Errorf("viewer not flattened into body: %v", env.Data)
	}
}
