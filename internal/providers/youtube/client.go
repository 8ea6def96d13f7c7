package youtube

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// APIClient implements VideoClient using the YouTube Data API.
type APIClient struct {
	service *yt.Service
}

// createService creates a YouTube API service. Overridden in tests.
var createService = func(ctx context.Context, opts ...option.ClientOption) (*yt.Service, error) {
	return yt.NewService(ctx, opts...)
}

// NewAPIClient creates a client authenticated with apiKey. Extra options are
// appended, which lets tests point the client at a local server.
func NewAPIClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (*APIClient, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	srv, err := createService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &APIClient{service: srv}, nil
}

// SearchVideos runs search.list for one page and then videos.list for the
// details of the videos found, keeping the search order.
func (c *APIClient) SearchVideos(ctx context.Context, query, pageToken string, max int64) (SearchPage, error) {
	call := c.service.Search.List([]string{"id"}).
		Q(query).
		Type("video").
		MaxResults(max).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return SearchPage{}, fmt.Errorf("youtube search.list: %w", err)
	}

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	page := SearchPage{NextPageToken: resp.NextPageToken}
	if len(ids) == 0 {
		return page, nil
	}

	details, err := c.service.Videos.List([]string{"snippet", "contentDetails", "statistics"}).
		Id(ids...).
		Context(ctx).
		Do()
	if err != nil {
		return SearchPage{}, fmt.Errorf("youtube videos.list: %w", err)
	}

	byID := make(map[string]*yt.Video, len(details.Items))
	for _, v := range details.Items {
		byID[v.Id] = v
	}
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			page.Videos = append(page.Videos, toVideo(v))
		}
	}
	return page, nil
}

// Ping makes the cheapest authenticated call the API offers.
func (c *APIClient) Ping(ctx context.Context) error {
	_, err := c.service.I18nRegions.List([]string{"snippet"}).Hl("en_US").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("youtube i18nRegions.list: %w", err)
	}
	return nil
}

func toVideo(v *yt.Video) Video {
	out := Video{ID: v.Id}
	if s := v.Snippet; s != nil {
		out.Title = s.Title
		out.Channel = s.ChannelTitle
		out.Tags = s.Tags
		out.Thumbnail = bestThumbnail(s.Thumbnails)
	}
	if cd := v.ContentDetails; cd != nil {
		out.Duration = cd.Duration
	}
	if st := v.Statistics; st != nil {
		out.Views = st.ViewCount
		out.Likes = st.LikeCount
		out.HasStatistics = true
	}
	return out
}

func bestThumbnail(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*yt.Thumbnail{t.High, t.Medium, t.Default, t.Standard, t.Maxres} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}
