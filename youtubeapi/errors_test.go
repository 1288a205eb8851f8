package youtubeapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/onnwee/live-ingest/connection"
)

func apiErr(code int, reason string) error {
	e := &googleapi.Error{Code: code, Message: reason}
	if reason != "" {
		e.Errors = []googleapi.ErrorItem{{Reason: reason}}
	}
	return fmt.Errorf("liveChatMessages.list: %w", e)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		ended bool
		class connection.ErrorClass
	}{
		{name: "chat ended", err: apiErr(http.StatusForbidden, "liveChatEnded"), ended: true},
		{name: "chat not found", err: apiErr(http.StatusNotFound, "liveChatNotFound"), ended: true},
		{name: "bare 404", err: apiErr(http.StatusNotFound, ""), ended: true},
		{name: "quota", err: apiErr(http.StatusForbidden, "quotaExceeded"), class: connection.ClassQuota},
		{name: "rate limited", err: apiErr(http.StatusForbidden, "rateLimitExceeded"), class: connection.ClassQuota},
		{name: "429", err: apiErr(http.StatusTooManyRequests, ""), class: connection.ClassQuota},
		{name: "401", err: apiErr(http.StatusUnauthorized, "authError"), class: connection.ClassAuth},
		{name: "forbidden", err: apiErr(http.StatusForbidden, "forbidden"), class: connection.ClassAuth},
		{name: "server error", err: apiErr(http.StatusBadGateway, "backendError"), class: connection.ClassTransient},
		{name: "bad request", err: apiErr(http.StatusBadRequest, "invalidPageToken"), class: connection.ClassFatal},
		{name: "network", err: errors.New("dial tcp: connection refused"), class: connection.ClassTransient},
		{name: "already classified", err: connection.Classified(connection.ClassFatal, errors.New("x")), class: connection.ClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.ended {
				if !errors.Is(got, ErrStreamEnded) {
					t.Fatalf("classify(%v) = %v, want ErrStreamEnded", tt.err, got)
				}
				return
			}
			if errors.Is(got, ErrStreamEnded) {
				t.Fatalf("classify(%v) unexpectedly ended the stream", tt.err)
			}
			if c := connection.Classify(got); c != tt.class {
				t.Fatalf("class = %v, want %v", c, tt.class)
			}
		})
	}
}

func TestUnauthorized(t *testing.T) {
	if !unauthorized(apiErr(http.StatusUnauthorized, "")) {
		t.Error("401 not detected")
	}
	if unauthorized(apiErr(http.StatusForbidden, "quotaExceeded")) {
		t.Error("403 reported as 401")
	}
}
