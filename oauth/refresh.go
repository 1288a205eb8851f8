// Package oauth holds the provider-neutral pieces of the authorization-code
// flow: a loopback listener that captures the redirect, and a background
// refresher that keeps an access token warm.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/oauth2"
)

// TokenFunc returns a valid token, refreshing it first when it is close to
// expiry. youtubeapi.Service.TokenContext has this shape.
type TokenFunc func(ctx context.Context) (*oauth2.Token, error)

// StartRefresher launches a goroutine that calls fn every interval while
// active reports true, so the token is renewed ahead of expiry even when no
// API call happens (for example while polling is paused). Errors matching
// skip are not logged; they mean there is nothing to refresh yet.
func StartRefresher(ctx context.Context, provider string, interval time.Duration, fn TokenFunc, active func() bool, skip error) {
	if interval <= 0 {
		interval = time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if active == nil || active() {
				refreshOnce(ctx, provider, fn, skip)
			}
			// per-iteration jitter of +-20%
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval + jitter):
			}
		}
	}()
}

func refreshOnce(ctx context.Context, provider string, fn TokenFunc, skip error) {
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	tok, err := fn(ctx2)
	switch {
	case err == nil:
		slog.Debug("token checked", slog.String("provider", provider), slog.Time("expiry", tok.Expiry), slog.String("component", "oauth"))
	case skip != nil && errors.Is(err, skip), ctx.Err() != nil:
	default:
		slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err), slog.String("component", "oauth"))
	}
}
