// Package htmlsite scrapes search listing pages of video sites. The markup is
// described by CSS selectors; the defaults match DinoTube.
package htmlsite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"
	slogctx "github.com/veqryn/slog-context"

	"github.com/fastzet/metastream/internal/providers"
)

// DefaultUserAgent is sent unless the site configures another one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"

// DefaultTimeout bounds one page request.
const DefaultTimeout = 15 * time.Second

// Selectors locate the fields of one result card.
type Selectors struct {
	// Card matches each result. The other selectors are relative to it.
	Card      string
	Link      string
	Thumbnail string
	Duration  string
	Rating    string
	Views     string
	Source    string
	Uploader  string
}

// DefaultSelectors returns the DinoTube markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:      ".cards-container .card",
		Link:      "a.item-link",
		Thumbnail: "img.item-image",
		Duration:  ".badge.float-right",
		Rating:    ".item-score",
		Source:    "a.item-source",
	}
}

// Config describes one site.
type Config struct {
	Name      string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Selectors Selectors
}

// Scraper implements providers.Provider for a listing site.
type Scraper struct {
	cfg       Config
	base      *url.URL
	transport http.RoundTripper
}

// New validates cfg and fills in defaults for empty fields.
func New(cfg Config) (*Scraper, error) {
	if cfg.Name == "" {
		return nil, errors.New("site name is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("site %s: base url %q is not absolute", cfg.Name, cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Selectors = withDefaults(cfg.Selectors)
	return &Scraper{cfg: cfg, base: base, transport: http.DefaultTransport}, nil
}

func withDefaults(s Selectors) Selectors {
	d := DefaultSelectors()
	pick := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}
	return Selectors{
		Card:      pick(s.Card, d.Card),
		Link:      pick(s.Link, d.Link),
		Thumbnail: pick(s.Thumbnail, d.Thumbnail),
		Duration:  pick(s.Duration, d.Duration),
		Rating:    pick(s.Rating, d.Rating),
		Views:     s.Views,
		Source:    pick(s.Source, d.Source),
		Uploader:  s.Uploader,
	}
}

func (s *Scraper) Name() string {
	return s.cfg.Name
}

func (s *Scraper) resolvedKey() providers.Key {
	return providers.Key{Provider: s.cfg.Name, Name: "resolved_url"}
}

// Search scrapes one listing page. The site may redirect the first page to
// a canonical search URL; that URL is kept in scratch and later pages are
// requested from it.
func (s *Scraper) Search(ctx context.Context, query string, page int, scratch *providers.Scratch) ([]providers.Record, error) {
	target := s.pageURL(query, page, scratch)
	slogctx.Debug(ctx, "Fetching listing page", "url", target)

	c := s.collector(ctx)
	records := []providers.Record{}
	cards := 0
	var resolved string

	c.OnResponse(func(r *colly.Response) {
		resolved = r.Request.URL.String()
	})
	c.OnHTML(s.cfg.Selectors.Card, func(e *colly.HTMLElement) {
		cards++
		if rec, ok := s.parseCard(e); ok {
			records = append(records, rec)
		}
	})

	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	if page <= 1 && resolved != "" {
		scratch.Set(s.resolvedKey(), resolved)
	}
	if cards == 0 {
		slogctx.Warn(ctx, "No result cards found", "url", resolved)
	} else {
		slogctx.Debug(ctx, "Parsed listing page", "cards", cards, "results", len(records))
	}
	return records, nil
}

// HealthCheck fetches the site's home page.
func (s *Scraper) HealthCheck(ctx context.Context) error {
	if err := s.collector(ctx).Visit(s.base.String()); err != nil {
		return fmt.Errorf("fetch %s: %w", s.base, err)
	}
	return nil
}

func (s *Scraper) pageURL(query string, page int, scratch *providers.Scratch) string {
	if page > 1 {
		if resolved, ok := providers.Lookup[string](scratch, s.resolvedKey()); ok {
			if u, err := url.Parse(resolved); err == nil {
				q := u.Query()
				q.Set("page", strconv.Itoa(page))
				u.RawQuery = q.Encode()
				return u.String()
			}
		}
	}

	words := strings.Fields(query)
	for i, w := range words {
		words[i] = url.PathEscape(w)
	}
	u := s.base.String() + "/search/" + strings.Join(words, "+")
	if page > 1 {
		u += "?page=" + strconv.Itoa(page)
	}
	return u
}

func (s *Scraper) collector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(s.cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(s.cfg.Timeout)
	c.WithTransport(contextTransport{ctx: ctx, next: s.transport})
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})
	return c
}

// contextTransport binds outgoing requests to the provider call's context.
type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}

var badgeNoise = strings.NewReplacer("HD", "", "4K", "", "VR", "")

func (s *Scraper) parseCard(e *colly.HTMLElement) (providers.Record, bool) {
	sel := s.cfg.Selectors

	link := e.DOM.Find(sel.Link).First()
	if link.Length() == 0 {
		return providers.Record{}, false
	}
	href, _ := link.Attr("href")
	abs := e.Request.AbsoluteURL(strings.TrimSpace(href))
	if href == "" || abs == "" {
		return providers.Record{}, false
	}
	title, _ := link.Attr("title")
	if title = strings.TrimSpace(title); title == "" {
		title = strings.TrimSpace(link.Text())
	}
	if title == "" {
		title = "Unknown Title"
	}

	rec := providers.Record{
		Title:     title,
		URL:       abs,
		Thumbnail: providers.PlaceholderThumbnail,
		Source:    s.cfg.Name,
		Duration:  providers.NotAvailable,
		Views:     providers.NotAvailable,
		Rating:    providers.NotAvailable,
		Tags:      []string{},
	}

	if img := e.DOM.Find(sel.Thumbnail).First(); img.Length() > 0 {
		src, _ := img.Attr("src")
		if src == "" {
			src, _ = img.Attr("data-src")
		}
		if src != "" {
			rec.Thumbnail = e.Request.AbsoluteURL(src)
		}
	}
	if d := strings.Join(strings.Fields(badgeNoise.Replace(text(e.DOM, sel.Duration))), " "); d != "" {
		rec.Duration = d
	}
	if r := text(e.DOM, sel.Rating); r != "" {
		rec.Rating = r
	}
	if v := text(e.DOM, sel.Views); v != "" {
		rec.Views = v
	}
	if src := text(e.DOM, sel.Source); src != "" {
		rec.Source = src
	}
	rec.Uploader = text(e.DOM, sel.Uploader)
	return rec, true
}

// text returns the trimmed text of the first match of selector, or "".
func text(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(card.Find(selector).First().Text())
}
