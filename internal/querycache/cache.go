// Package querycache serves paginated results for the current query. Pages
// are kept for as long as the query stays the same, and the page after the
// one requested is fetched in the background so that paging forward is
// usually a cache hit.
package querycache

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/singleflight"

	"github.com/fastzet/metastream/internal/metrics"
	"github.com/fastzet/metastream/internal/providers"
	"github.com/fastzet/metastream/internal/search"
)

// DefaultMaxPages is the number of pages kept per query unless overridden.
const DefaultMaxPages = 64

// Fetcher produces the merged, ranked results for one page.
type Fetcher interface {
	Fetch(ctx context.Context, query string, page int, scratch *providers.Scratch) search.Result
}

// Page is the response for one page request.
type Page struct {
	Query       string             `json:"query"`
	Results     []providers.Record `json:"results"`
	Count       int                `json:"count"`
	ElapsedTime float64            `json:"elapsedTime"`
	Page        int                `json:"page"`
	Failed      []string           `json:"failed,omitempty"`
	Cached      bool               `json:"cached"`
}

// Cache holds the pages of the current query. Asking for a different query
// discards every page and the providers' scratch data.
type Cache struct {
	fetcher  Fetcher
	maxPages int
	metrics  *metrics.Metrics
	group    singleflight.Group
	// noPrefetch disables the background fetch of the next page.
	noPrefetch bool

	mu      sync.Mutex
	active  bool
	query   string
	gen     uint64
	scratch *providers.Scratch
	pages   map[int]search.Result
	tasks   map[int]*Task
	// inflight spans generations so Wait also covers stale prefetches.
	inflight map[*Task]struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxPages caps the pages kept per query. Zero means unbounded.
func WithMaxPages(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.maxPages = n
		}
	}
}

// WithoutPrefetch turns off fetching the next page in the background, for
// callers that serve a single page and exit.
func WithoutPrefetch() Option {
	return func(c *Cache) { c.noPrefetch = true }
}

// WithMetrics records lookups and prefetches on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an empty cache in front of f.
func New(f Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:  f,
		maxPages: DefaultMaxPages,
		scratch:  providers.NewScratch(),
		pages:    make(map[int]search.Result),
		tasks:    make(map[int]*Task),
		inflight: make(map[*Task]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPage returns page of query, from the cache when possible, and starts
// fetching the following page in the background. It never fails; provider
// problems show up as fewer results and in Page.Failed.
func (c *Cache) GetPage(ctx context.Context, query string, page int) Page {
	start := time.Now()
	query = strings.TrimSpace(query)
	if page < 1 {
		page = 1
	}
	ctx = slogctx.Append(ctx, "query", query, "page", page)

	c.mu.Lock()
	gen, scratch := c.transition(ctx, query)
	res, hit := c.pages[page]
	c.mu.Unlock()

	if hit {
		c.metrics.IncCacheLookup(metrics.LookupHit)
		slogctx.Debug(ctx, "Serving cached page")
	} else {
		c.metrics.IncCacheLookup(metrics.LookupMiss)
		res, _ = c.load(ctx, gen, query, page, scratch)
	}
	elapsed := time.Since(start)

	if !c.noPrefetch {
		c.prefetch(ctx, gen, query, page+1)
	}

	slogctx.Info(ctx, "Served page",
		"count", len(res.Records),
		"cached", hit,
		"elapsed", elapsed,
		"failed", len(res.Failed))

	return Page{
		Query:       query,
		Results:     res.Records,
		Count:       len(res.Records),
		ElapsedTime: elapsed.Seconds(),
		Page:        page,
		Failed:      res.Failed,
		Cached:      hit,
	}
}

// transition moves the cache to query. Caller holds c.mu.
func (c *Cache) transition(ctx context.Context, query string) (uint64, *providers.Scratch) {
	if c.active && c.query == query {
		return c.gen, c.scratch
	}
	if c.active {
		slogctx.Info(ctx, "Query changed, discarding cached pages",
			"previous_query", c.query, "pages", len(c.pages))
		c.metrics.IncQueryReset()
	}
	c.active = true
	c.query = query
	c.gen++
	c.scratch = providers.NewScratch()
	c.pages = make(map[int]search.Result)
	c.tasks = make(map[int]*Task)
	return c.gen, c.scratch
}

type loaded struct {
	result search.Result
	stored bool
}

// load fetches a page once per generation even when a prefetch and a real
// request ask for it at the same time.
func (c *Cache) load(ctx context.Context, gen uint64, query string, page int, scratch *providers.Scratch) (search.Result, bool) {
	key := fmt.Sprintf("%d/%d", gen, page)
	v, _, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if c.gen == gen {
			if res, ok := c.pages[page]; ok {
				c.mu.Unlock()
				return loaded{result: res, stored: true}, nil
			}
		}
		c.mu.Unlock()

		res := c.fetcher.Fetch(context.WithoutCancel(ctx), query, page, scratch)
		return loaded{result: res, stored: c.store(ctx, gen, page, res)}, nil
	})
	l := v.(loaded)
	return l.result, l.stored
}

// store keeps res unless the query changed since gen.
func (c *Cache) store(ctx context.Context, gen uint64, page int, res search.Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		slogctx.Debug(ctx, "Discarding results of a previous query")
		return false
	}
	c.pages[page] = res
	c.evict(page)
	return true
}

// evict drops the pages farthest from keep until the cap holds. Caller holds c.mu.
func (c *Cache) evict(keep int) {
	if c.maxPages <= 0 {
		return
	}
	for len(c.pages) > c.maxPages {
		victim, worst := 0, -1
		for p := range c.pages {
			d := p - keep
			if d < 0 {
				d = -d
			}
			if d > worst || (d == worst && p > victim) {
				victim, worst = p, d
			}
		}
		delete(c.pages, victim)
	}
}

// prefetch starts loading page in the background unless it is cached or
// already being loaded. It returns the task loading page, if any.
func (c *Cache) prefetch(ctx context.Context, gen uint64, query string, page int) *Task {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	if _, ok := c.pages[page]; ok {
		c.mu.Unlock()
		c.metrics.IncPrefetch(metrics.PrefetchSkipped)
		return nil
	}
	if t, ok := c.tasks[page]; ok {
		c.mu.Unlock()
		c.metrics.IncPrefetch(metrics.PrefetchSkipped)
		return t
	}
	t := newTask(gen, page)
	c.tasks[page] = t
	c.inflight[t] = struct{}{}
	scratch := c.scratch
	c.mu.Unlock()

	ctx = slogctx.Append(ctx, "prefetch_page", page, "prefetch_id", t.ID())
	go c.runPrefetch(ctx, t, query, scratch)
	return t
}

func (c *Cache) runPrefetch(ctx context.Context, t *Task, query string, scratch *providers.Scratch) {
	defer func() {
		c.mu.Lock()
		if c.tasks[t.page] == t {
			delete(c.tasks, t.page)
		}
		delete(c.inflight, t)
		c.mu.Unlock()
		close(t.done)
	}()

	slogctx.Debug(ctx, "Prefetching page")
	res, stored := c.load(ctx, t.gen, query, t.page, scratch)
	t.stored = stored
	if stored {
		c.metrics.IncPrefetch(metrics.PrefetchStored)
		slogctx.Debug(ctx, "Prefetched page", "count", len(res.Records))
	} else {
		c.metrics.IncPrefetch(metrics.PrefetchStale)
		slogctx.Debug(ctx, "Prefetched page is stale, discarded")
	}
}

// Prefetching returns the in-flight background fetch of page for the
// current query.
func (c *Cache) Prefetching(page int) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[page]
	return t, ok
}

// Wait blocks until every background fetch, including those of previous
// queries, has finished or ctx is done.
func (c *Cache) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		var next *Task
		for t := range c.inflight {
			next = t
			break
		}
		c.mu.Unlock()

		if next == nil {
			return nil
		}
		// The task leaves inflight before Done is closed.
		if err := next.Wait(ctx); err != nil {
			return err
		}
	}
}

// Query returns the current query, if any.
func (c *Cache) Query() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query, c.active
}

// Snapshot returns the cached page numbers in ascending order.
func (c *Cache) Snapshot() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages := make([]int, 0, len(c.pages))
	for p := range c.pages {
		pages = append(pages, p)
	}
	slices.Sort(pages)
	return pages
}

// Scratch returns the provider scratch data of the current query.
func (c *Cache) Scratch() *providers.Scratch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scratch
}
