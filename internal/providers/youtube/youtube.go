// Package youtube searches YouTube through the Data API v3.
package youtube

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"strconv"

	slogctx "github.com/veqryn/slog-context"

	"github.com/fastzet/metastream/internal/providers"
)

// Name is the provider name, also used as the record source.
const Name = "YouTube"

// DefaultPageSize is the number of videos requested per page.
const DefaultPageSize = 20

// tokensKey holds a map[int]string from page number to the token that
// fetches it. Page 1 needs no token.
var tokensKey = providers.Key{Provider: Name, Name: "page_tokens"}

// Video is the subset of a YouTube video used for results.
type Video struct {
	ID        string
	Title     string
	Channel   string
	Thumbnail string
	// Duration is ISO 8601, e.g. PT4M13S.
	Duration      string
	Tags          []string
	Views         uint64
	Likes         uint64
	HasStatistics bool
}

// SearchPage is one page of search results.
type SearchPage struct {
	Videos        []Video
	NextPageToken string
}

// VideoClient abstracts the YouTube Data API for testability.
type VideoClient interface {
	SearchVideos(ctx context.Context, query, pageToken string, max int64) (SearchPage, error)
	Ping(ctx context.Context) error
}

// Provider implements providers.Provider for YouTube.
type Provider struct {
	client   VideoClient
	pageSize int64
}

// New creates a YouTube provider.
func New(client VideoClient, pageSize int64) *Provider {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Provider{client: client, pageSize: pageSize}
}

func (p *Provider) Name() string {
	return Name
}

// Search returns page of query. The API pages with opaque tokens, so the
// tokens seen so far are kept in scratch and a jump past the last known page
// walks the chain.
func (p *Provider) Search(ctx context.Context, query string, page int, scratch *providers.Scratch) ([]providers.Record, error) {
	token, ok, err := p.tokenFor(ctx, query, page, scratch)
	if err != nil {
		return nil, err
	}
	if !ok {
		slogctx.Debug(ctx, "No more YouTube pages", "page", page)
		return []providers.Record{}, nil
	}

	res, err := p.client.SearchVideos(ctx, query, token, p.pageSize)
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}
	p.remember(scratch, page+1, res.NextPageToken)

	records := make([]providers.Record, 0, len(res.Videos))
	for _, v := range res.Videos {
		records = append(records, toRecord(v))
	}
	return records, nil
}

// HealthCheck reports whether the API accepts our key.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// tokenFor returns the token of page. ok is false when the results end
// before page.
func (p *Provider) tokenFor(ctx context.Context, query string, page int, scratch *providers.Scratch) (string, bool, error) {
	if page <= 1 {
		return "", true, nil
	}
	tokens, _ := providers.Lookup[map[int]string](scratch, tokensKey)
	if tok, ok := tokens[page]; ok {
		return tok, tok != "", nil
	}

	// Walk forward from the closest known page.
	from, tok := 1, ""
	for n, t := range tokens {
		if n < page && n > from {
			from, tok = n, t
		}
	}
	if from > 1 && tok == "" {
		return "", false, nil
	}
	for n := from; n < page; n++ {
		res, err := p.client.SearchVideos(ctx, query, tok, p.pageSize)
		if err != nil {
			return "", false, fmt.Errorf("youtube search page %d: %w", n, err)
		}
		tok = res.NextPageToken
		p.remember(scratch, n+1, tok)
		if tok == "" {
			return "", false, nil
		}
	}
	return tok, true, nil
}

// remember records the token of page. An empty token marks the end.
func (p *Provider) remember(scratch *providers.Scratch, page int, token string) {
	// Copy on write: readers hold the previous map without a lock.
	scratch.Update(tokensKey, func(old any, _ bool) any {
		tokens, _ := old.(map[int]string)
		next := make(map[int]string, len(tokens)+1)
		maps.Copy(next, tokens)
		next[page] = token
		return next
	})
}

func toRecord(v Video) providers.Record {
	r := providers.Record{
		Title:     v.Title,
		URL:       "https://www.youtube.com/watch?v=" + v.ID,
		Thumbnail: v.Thumbnail,
		Source:    Name,
		Duration:  FormatDuration(v.Duration),
		Views:     providers.NotAvailable,
		Rating:    providers.NotAvailable,
		Uploader:  v.Channel,
		Tags:      v.Tags,
	}
	if r.Thumbnail == "" {
		r.Thumbnail = providers.PlaceholderThumbnail
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if v.HasStatistics {
		r.Views = strconv.FormatUint(v.Views, 10)
		if v.Views > 0 && v.Likes > 0 {
			r.Rating = fmt.Sprintf("%.1f/100", likeRating(v.Likes, v.Views))
		}
	}
	return r
}

// likeRating maps the like to view ratio onto 0..100; 4% and above is 100.
func likeRating(likes, views uint64) float64 {
	r := float64(likes) / float64(views) / 0.04 * 100
	if r > 100 {
		return 100
	}
	return r
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// FormatDuration converts an ISO 8601 duration to M:SS or H:MM:SS. Zero and
// unparsable durations, such as those of live streams, become "N/A".
func FormatDuration(iso string) string {
	m := isoDuration.FindStringSubmatch(iso)
	if m == nil {
		return providers.NotAvailable
	}
	part := func(i int) int {
		n, _ := strconv.Atoi(m[i])
		return n
	}
	total := part(1)*86400 + part(2)*3600 + part(3)*60 + part(4)
	if total == 0 {
		return providers.NotAvailable
	}
	h, rem := total/3600, total%3600
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, rem/60, rem%60)
	}
	return fmt.Sprintf("%d:%02d", rem/60, rem%60)
}
