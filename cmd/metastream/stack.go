package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogctx "github.com/veqryn/slog-context"

	"github.com/fastzet/metastream/internal/config"
	"github.com/fastzet/metastream/internal/health"
	"github.com/fastzet/metastream/internal/metrics"
	"github.com/fastzet/metastream/internal/providers"
	"github.com/fastzet/metastream/internal/providers/feed"
	"github.com/fastzet/metastream/internal/providers/htmlsite"
	"github.com/fastzet/metastream/internal/providers/youtube"
	"github.com/fastzet/metastream/internal/querycache"
	"github.com/fastzet/metastream/internal/search"
	"github.com/fastzet/metastream/internal/tracing"
)

// newYouTubeClient is a package-level var so tests can replace it.
var newYouTubeClient = func(ctx context.Context, apiKey string) (youtube.VideoClient, error) {
	return youtube.NewAPIClient(ctx, apiKey)
}

// stack is the in-process search service.
type stack struct {
	registry *providers.Registry
	promReg  *prometheus.Registry
	cache    *querycache.Cache
	monitor  *health.Monitor
	tracer   *tracing.Provider
}

func buildRegistry(ctx context.Context, cfg *config.Config) (*providers.Registry, error) {
	registry, err := providers.NewRegistry()
	if err != nil {
		return nil, err
	}

	if cfg.YouTube.APIKey != "" {
		client, err := newYouTubeClient(ctx, cfg.YouTube.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create YouTube client: %w", err)
		}
		if err := registry.Register(youtube.New(client, cfg.YouTube.PageSize)); err != nil {
			return nil, err
		}
	} else {
		slogctx.Info(ctx, "YouTube provider disabled, no API key")
	}

	for _, s := range cfg.Sites {
		if s.Disabled {
			continue
		}
		scraper, err := htmlsite.New(htmlsite.Config{
			Name:      s.Name,
			BaseURL:   s.BaseURL,
			UserAgent: s.UserAgent,
			Timeout:   cfg.ProviderTimeout(),
			Selectors: htmlsite.Selectors{
				Card:      s.CardSelector,
				Link:      s.LinkSelector,
				Thumbnail: s.ThumbnailSelector,
				Duration:  s.DurationSelector,
				Rating:    s.RatingSelector,
				Views:     s.ViewsSelector,
				Source:    s.SourceSelector,
				Uploader:  s.UploaderSelector,
			},
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(scraper); err != nil {
			return nil, err
		}
	}

	for _, f := range cfg.Feeds {
		if f.Disabled {
			continue
		}
		p, err := feed.New(feed.Config{
			Name:     f.Name,
			URL:      f.URL,
			PageSize: f.PageSize,
			Client:   &http.Client{Timeout: cfg.ProviderTimeout()},
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func buildStack(ctx context.Context, cfg *config.Config, cacheOpts ...querycache.Option) (*stack, error) {
	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Insecure:     cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(promReg); err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	dispatcher := search.New(registry,
		search.WithTimeout(cfg.ProviderTimeout()),
		search.WithMetrics(m),
		search.WithTracer(tracing.Tracer()),
	)
	cache := querycache.New(dispatcher, append([]querycache.Option{
		querycache.WithMaxPages(cfg.MaxCachedPages),
		querycache.WithMetrics(m),
	}, cacheOpts...)...)

	slogctx.Info(ctx, "Providers registered", "providers", registry.Names())
	return &stack{
		registry: registry,
		promReg:  promReg,
		cache:    cache,
		monitor:  health.New(registry, cfg.HealthInterval, cfg.ProviderTimeout()),
		tracer:   tp,
	}, nil
}

func (s *stack) pageFunc() PageFunc {
	return func(ctx context.Context, query string, page int) (querycache.Page, error) {
		return s.cache.GetPage(ctx, query, page), nil
	}
}

func (s *stack) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{Registry: s.promReg})
}

// close waits up to timeout for background prefetches, then stops the
// monitor and flushes spans.
func (s *stack) close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := s.cache.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for prefetches: %w", err))
	}
	if err := s.monitor.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("stopping health monitor: %w", err))
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing spans: %w", err))
	}
	return errors.Join(errs...)
}
