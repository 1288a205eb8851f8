package tiktok

import (
	"strings"
	"testing"
)

func TestFrameAssembler(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "single",
			chunks: []string{`{"type":"chat"}`},
			want:   []string{`{"type":"chat"}`},
		},
		{
			name:   "split across messages",
			chunks: []string{`{"type":"gi`, `ft","data":{"giftName":"Rose"`, `}}`},
			want:   []string{`{"type":"gift","data":{"giftName":"Rose"}}`},
		},
		{
			name:   "packed",
			chunks: []string{`{"type":"like"}{"type":"follow"}` + "\n" + `{"type":"share"}`},
			want:   []string{`{"type":"like"}`, `{"type":"follow"}`, `{"type":"share"}`},
		},
		{
			name:   "braces inside strings",
			chunks: []string{`{"comment":"}{ not a \"frame\" {"}`, `{"x":1}`},
			want:   []string{`{"comment":"}{ not a \"frame\" {"}`, `{"x":1}`},
		},
		{
			name:   "escaped backslash before quote",
			chunks: []string{`{"a":"\\"`, `,"b":"}"}`},
			want:   []string{`{"a":"\\","b":"}"}`},
		},
		{
			name:   "noise between frames",
			chunks: []string{`} garbage {"ok":true}`},
			want:   []string{`{"ok":true}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a frameAssembler
			var got []string
			for _, c := range tt.chunks {
				for _, f := range a.Feed([]byte(c)) {
					got = append(got, string(f))
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d frames %q, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("frame %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
			if a.Pending() {
				t.Error("assembler still has a pending frame")
			}
		})
	}
}

func TestFrameAssemblerKeepsPartial(t *testing.T) {
	var a frameAssembler
	if out := a.Feed([]byte(`{"type":"chat","data":{"comment":"hi`)); len(out) != 0 {
		t.Fatalf("partial frame emitted: %q", out)
	}
	if !a.Pending() {
		t.Fatal("expected pending frame")
	}
	out := a.Feed([]byte(`"}}{"type":"like"`))
	if len(out) != 1 || string(out[0]) != `{"type":"chat","data":{"comment":"hi"}}` {
		t.Fatalf("unexpected frames %q", out)
	}
	out = a.Feed([]byte(`}`))
	if len(out) != 1 || string(out[0]) != `{"type":"like"}` {
		t.Fatalf("unexpected frames %q", out)
	}
}

func TestFrameAssemblerDiscardsOversized(t *testing.T) {
	var a frameAssembler
	a.Feed([]byte(`{"blob":"` + strings.Repeat("x", maxPending+1)))
	if a.Pending() {
		t.Fatal("oversized frame should be discarded")
	}
	out := a.Feed([]byte(`{"ok":1}`))
	if len(out) != 1 {
		t.Fatalf("assembler did not recover: %q", out)
	}
}
