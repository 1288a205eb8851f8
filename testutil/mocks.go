package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/oauth2"
)

// Paths served by MockYouTubeServer.
const (
	YouTubeVideosPath   = "/youtube/v3/videos"
	YouTubeMessagesPath = "/youtube/v3/liveChat/messages"
	TokenPath           = "/token"
)

// MockYouTubeServer answers the Data API and token endpoint calls the poller
// makes. Handlers can be replaced per path.
type MockYouTubeServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	calls    map[string]*atomic.Int64
}

// NewMockYouTubeServer starts a server that 404s every path until a Mock*
// helper (or Handle) registers one.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		Handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]*atomic.Int64),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.Handlers[r.URL.Path]
		c := m.calls[r.URL.Path]
		if c == nil {
			c = new(atomic.Int64)
			m.calls[r.URL.Path] = c
		}
		m.mu.Unlock()
		c.Add(1)
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Endpoint is the API base URL for option.WithEndpoint.
func (m *MockYouTubeServer) Endpoint() string { return m.URL + "/" }

// OAuthEndpoint points token exchange and refresh at the mock.
func (m *MockYouTubeServer) OAuthEndpoint() oauth2.Endpoint {
	return oauth2.Endpoint{AuthURL: m.URL + "/auth", TokenURL: m.URL + TokenPath, AuthStyle: oauth2.AuthStyleInParams}
}

// Handle registers h for path.
func (m *MockYouTubeServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = h
	m.mu.Unlock()
}

// Calls reports how many requests path received.
func (m *MockYouTubeServer) Calls(path string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.calls[path]; c != nil {
		return c.Load()
	}
	return 0
}

// MockVideo serves videos.list for one live video.
func (m *MockYouTubeServer) MockVideo(videoID, liveChatID string, likes uint64) {
	m.Handle(YouTubeVideosPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != videoID {
			writeJSON(w, map[string]any{"items": []any{}})
			return
		}
		writeJSON(w, map[string]any{
			"items": []map[string]any{{
				"id":                   videoID,
				"liveStreamingDetails": map[string]any{"activeLiveChatId": liveChatID},
				"statistics":           map[string]any{"likeCount": fmt.Sprint(likes)},
			}},
		})
	})
}

// MockMessages serves liveChatMessages.list from pages keyed by the
// requested pageToken ("" for the first page). Unknown tokens get an empty
// page pointing back at themselves.
func (m *MockYouTubeServer) MockMessages(pages map[string]map[string]any) {
	m.Handle(YouTubeMessagesPath, func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("pageToken")
		page, ok := pages[tok]
		if !ok {
			page = map[string]any{"items": []any{}, "nextPageToken": tok, "pollingIntervalMillis": 1}
		}
		writeJSON(w, page)
	})
}

// MockAPIError makes path fail with a googleapi-shaped error body.
func (m *MockYouTubeServer) MockAPIError(path string, code int, reason string) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
			"error": map[string]any{
				"code":    code,
				"message": reason,
				"errors":  []map[string]any{{"reason": reason, "message": reason}},
			},
		})
	})
}

// MockOAuthTokenResponse serves the token endpoint for both grants.
func (m *MockYouTubeServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.Handle(TokenPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"token_type":    "Bearer",
		})
	})
}

// ChatMessage builds a liveChatMessage resource.
func ChatMessage(id, kind, authorID, author, text string) map[string]any {
	return map[string]any{
		"id": id,
		"snippet": map[string]any{
			"type":            kind,
			"displayMessage":  text,
			"authorChannelId": authorID,
			"publishedAt":     "2026-01-01T00:00:00Z",
		},
		"authorDetails": map[string]any{"channelId": authorID, "displayName": author},
	}
}

// Token returns an oauth2 token holding only a refresh token.
func Token(refresh string) *oauth2.Token { return &oauth2.Token{RefreshToken: refresh} }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
