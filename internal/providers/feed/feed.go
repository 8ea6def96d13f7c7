// Package feed searches sites that publish results as an RSS, Atom or JSON
// feed. The whole result feed is fetched once per query and paged locally.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	slogctx "github.com/veqryn/slog-context"

	"github.com/fastzet/metastream/internal/providers"
)

// QueryPlaceholder is replaced by the escaped query in Config.URL.
const QueryPlaceholder = "{query}"

// DefaultPageSize is the number of items per page.
const DefaultPageSize = 20

// Config describes one feed.
type Config struct {
	Name      string
	URL       string
	PageSize  int
	UserAgent string
	Client    *http.Client
}

// Provider implements providers.Provider for a search feed.
type Provider struct {
	cfg Config
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, errors.New("feed name is required")
	}
	if !strings.Contains(cfg.URL, QueryPlaceholder) {
		return nil, fmt.Errorf("feed %s: url must contain %s", cfg.Name, QueryPlaceholder)
	}
	u, err := url.Parse(strings.ReplaceAll(cfg.URL, QueryPlaceholder, "q"))
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("feed %s: url %q is not absolute", cfg.Name, cfg.URL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &Provider{cfg: cfg}, nil
}

func (p *Provider) Name() string {
	return p.cfg.Name
}

func (p *Provider) itemsKey() providers.Key {
	return providers.Key{Provider: p.cfg.Name, Name: "items"}
}

// Search returns page of the query's feed items.
func (p *Provider) Search(ctx context.Context, query string, page int, scratch *providers.Scratch) ([]providers.Record, error) {
	items, ok := providers.Lookup[[]providers.Record](scratch, p.itemsKey())
	if !ok {
		var err error
		items, err = p.fetch(ctx, query)
		if err != nil {
			return nil, err
		}
		scratch.Set(p.itemsKey(), items)
	}

	if page < 1 {
		page = 1
	}
	start := (page - 1) * p.cfg.PageSize
	if start >= len(items) {
		return []providers.Record{}, nil
	}
	end := min(start+p.cfg.PageSize, len(items))
	out := make([]providers.Record, end-start)
	copy(out, items[start:end])
	return out, nil
}

func (p *Provider) fetch(ctx context.Context, query string) ([]providers.Record, error) {
	target := strings.ReplaceAll(p.cfg.URL, QueryPlaceholder, url.QueryEscape(query))
	slogctx.Debug(ctx, "Fetching feed", "url", target)

	// A Parser keeps state while parsing and must not be shared.
	fp := gofeed.NewParser()
	fp.Client = p.cfg.Client
	if p.cfg.UserAgent != "" {
		fp.UserAgent = p.cfg.UserAgent
	}

	f, err := fp.ParseURLWithContext(target, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", target, err)
	}

	base, _ := url.Parse(target)
	if f.Link != "" {
		if l, err := base.Parse(f.Link); err == nil {
			base = l
		}
	}

	records := make([]providers.Record, 0, len(f.Items))
	for _, item := range f.Items {
		if rec, ok := p.toRecord(base, item); ok {
			records = append(records, rec)
		}
	}
	slogctx.Debug(ctx, "Parsed feed", "items", len(f.Items), "results", len(records))
	return records, nil
}

func (p *Provider) toRecord(base *url.URL, item *gofeed.Item) (providers.Record, bool) {
	title := strings.TrimSpace(item.Title)
	link := item.Link
	if link == "" && len(item.Links) > 0 {
		link = item.Links[0]
	}
	u, err := base.Parse(strings.TrimSpace(link))
	if title == "" || link == "" || err != nil || u.Host == "" {
		return providers.Record{}, false
	}

	rec := providers.Record{
		Title:     title,
		URL:       u.String(),
		Thumbnail: providers.PlaceholderThumbnail,
		Source:    p.cfg.Name,
		Duration:  providers.NotAvailable,
		Views:     providers.NotAvailable,
		Rating:    providers.NotAvailable,
		Tags:      []string{},
	}

	media := mediaOf(item)
	if th := thumbnail(item, media); th != "" {
		if t, err := base.Parse(th); err == nil {
			rec.Thumbnail = t.String()
		}
	}
	if d := duration(item, media); d != "" {
		rec.Duration = d
	}
	if v := media.attr("views", "community", "statistics"); v != "" {
		rec.Views = v
	}
	if avg := media.attr("average", "community", "starRating"); avg != "" {
		rec.Rating = avg
		if top := media.attr("max", "community", "starRating"); top != "" {
			rec.Rating = avg + "/" + top
		}
	}
	rec.Uploader = uploader(item, media)
	rec.Tags = tags(item, media)
	return rec, true
}

// mediaExt is the item's Media RSS namespace, with media:group flattened.
type mediaExt map[string][]ext.Extension

func mediaOf(item *gofeed.Item) mediaExt {
	m := mediaExt{}
	if item.Extensions == nil {
		return m
	}
	for name, list := range item.Extensions["media"] {
		m[name] = append(m[name], list...)
		if name == "group" {
			for _, g := range list {
				for child, cl := range g.Children {
					m[child] = append(m[child], cl...)
				}
			}
		}
	}
	return m
}

// attr returns attribute name of the first element found by following path.
func (m mediaExt) attr(name string, path ...string) string {
	list := m[path[0]]
	for _, step := range path[1:] {
		var next []ext.Extension
		for _, e := range list {
			next = append(next, e.Children[step]...)
		}
		list = next
	}
	for _, e := range list {
		if v := strings.TrimSpace(e.Attrs[name]); v != "" {
			return v
		}
	}
	return ""
}

func thumbnail(item *gofeed.Item, media mediaExt) string {
	if th := media.attr("url", "thumbnail"); th != "" {
		return th
	}
	for _, c := range media["content"] {
		if c.Attrs["medium"] == "image" || strings.HasPrefix(c.Attrs["type"], "image/") {
			return c.Attrs["url"]
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if item.ITunesExt != nil && item.ITunesExt.Image != "" {
		return item.ITunesExt.Image
	}
	return ""
}

func duration(item *gofeed.Item, media mediaExt) string {
	if s := media.attr("duration", "content"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return clock(secs)
		}
	}
	if item.ITunesExt != nil {
		d := strings.TrimSpace(item.ITunesExt.Duration)
		if secs, err := strconv.Atoi(d); err == nil {
			if secs > 0 {
				return clock(secs)
			}
			return ""
		}
		return d
	}
	return ""
}

// clock formats seconds as M:SS or H:MM:SS.
func clock(secs int) string {
	d := time.Duration(secs) * time.Second
	h, m, s := int(d.Hours()), int(d.Minutes())%60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func uploader(item *gofeed.Item, media mediaExt) string {
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	for _, c := range media["credit"] {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	if item.ITunesExt != nil {
		return item.ITunesExt.Author
	}
	return ""
}

func tags(item *gofeed.Item, media mediaExt) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t != "" && !seen[strings.ToLower(t)] {
			seen[strings.ToLower(t)] = true
			out = append(out, t)
		}
	}
	for _, c := range item.Categories {
		add(c)
	}
	for _, k := range media["keywords"] {
		for _, t := range strings.Split(k.Value, ",") {
			add(t)
		}
	}
	return out
}
