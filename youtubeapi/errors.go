package youtubeapi

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/onnwee/live-ingest/connection"
)

// classify maps a Data API error onto the connection taxonomy. A chat that
// has ended comes back as ErrStreamEnded rather than a failure class.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrStreamEnded) {
		return err
	}
	var f *connection.Failure
	if errors.As(err, &f) {
		return err
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return connection.Classified(connection.Classify(err), err)
	}
	for _, r := range reasons(gerr) {
		switch r {
		case "liveChatEnded", "liveChatNotFound", "liveChatDisabled":
			return errors.Join(ErrStreamEnded, err)
		case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded", "userRateLimitExceeded":
			return connection.Classified(connection.ClassQuota, err)
		case "forbidden", "insufficientPermissions", "authError":
			return connection.Classified(connection.ClassAuth, err)
		}
	}
	switch {
	case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
		return connection.Classified(connection.ClassAuth, err)
	case gerr.Code == http.StatusTooManyRequests:
		return connection.Classified(connection.ClassQuota, err)
	case gerr.Code == http.StatusNotFound:
		return errors.Join(ErrStreamEnded, err)
	case gerr.Code >= 500:
		return connection.Classified(connection.ClassTransient, err)
	case gerr.Code >= 400:
		return connection.Classified(connection.ClassFatal, err)
	}
	return connection.Classified(connection.ClassTransient, err)
}

// unauthorized reports a 401, which usually means the access token was
// revoked or expired early.
func unauthorized(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

func reasons(gerr *googleapi.Error) []string {
	out := make([]string, 0, len(gerr.Errors))
	for _, e := range gerr.Errors {
		out = append(out, e.Reason)
	}
	return out
}
