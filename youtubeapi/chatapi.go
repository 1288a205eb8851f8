package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/live-ingest/connection"
)

var (
	// ErrStreamEnded means the live chat is over; the session ends without
	// retrying.
	ErrStreamEnded = errors.New("live chat ended")
	// ErrNotLive means the video exists but has no active live chat yet.
	ErrNotLive = errors.New("video has no active live chat")
)

// ChatAPI is the subset of the Data API the poller needs.
type ChatAPI interface {
	// LiveChatID resolves the active chat of a live video.
	LiveChatID(ctx context.Context, videoID string) (string, error)
	// Messages fetches the page after pageToken.
	Messages(ctx context.Context, liveChatID, pageToken string) (*yt.LiveChatMessageListResponse, error)
	// Likes returns the video's current like count.
	Likes(ctx context.Context, videoID string) (int64, error)
}

// DataAPI implements ChatAPI with google.golang.org/api/youtube/v3.
type DataAPI struct {
	svc *yt.Service
}

// NewDataAPI builds a client over hc. endpoint overrides the API base URL
// and is only set in tests.
func NewDataAPI(ctx context.Context, hc *http.Client, endpoint string) (*DataAPI, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &DataAPI{svc: svc}, nil
}

func (d *DataAPI) LiveChatID(ctx context.Context, videoID string) (string, error) {
	res, err := d.svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("videos.list: %w", err)
	}
	if len(res.Items) == 0 {
		return "", connection.Classified(connection.ClassFatal, fmt.Errorf("video %q not found", videoID))
	}
	details := res.Items[0].LiveStreamingDetails
	switch {
	case details == nil:
		return "", connection.Classified(connection.ClassFatal, fmt.Errorf("video %q is not a live broadcast", videoID))
	case details.ActualEndTime != "":
		return "", ErrStreamEnded
	case details.ActiveLiveChatId == "":
		return "", connection.Classified(connection.ClassTransient, ErrNotLive)
	}
	return details.ActiveLiveChatId, nil
}

func (d *DataAPI) Messages(ctx context.Context, liveChatID, pageToken string) (*yt.LiveChatMessageListResponse, error) {
	call := d.svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).
		MaxResults(2000).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("liveChatMessages.list: %w", err)
	}
	return res, nil
}

func (d *DataAPI) Likes(ctx context.Context, videoID string) (int64, error) {
	res, err := d.svc.Videos.List([]string{"statistics"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("videos.list statistics: %w", err)
	}
	if len(res.Items) == 0 || res.Items[0].Statistics == nil {
		return 0, fmt.Errorf("no statistics for video %q", videoID)
	}
	return int64(res.Items[0].Statistics.LikeCount), nil
}
