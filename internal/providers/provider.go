package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// NotAvailable marks a free-form metadata field the source did not expose.
const NotAvailable = "N/A"

// PlaceholderThumbnail is used when a source has no thumbnail for a result.
const PlaceholderThumbnail = "https://via.placeholder.com/320x180?text=No+Image"

// ErrMalformedRecord is returned by Record.Validate for records that do not
// have the shape every provider must produce.
var ErrMalformedRecord = errors.New("malformed record")

// Record is a single result as produced by a provider. Duration, Views and
// Rating are free-form text exactly as the source shows them.
//
// Score is the only field written after a provider returns the record, and it
// is written by ranking only.
type Record struct {
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Thumbnail string   `json:"thumbnail"`
	Source    string   `json:"source"`
	Duration  string   `json:"duration"`
	Views     string   `json:"views"`
	Rating    string   `json:"rating"`
	Uploader  string   `json:"uploader,omitempty"`
	Tags      []string `json:"tags"`
	Score     float64  `json:"score"`
}

// Validate reports whether the record carries a title and an absolute URL.
func (r Record) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("%w: empty title", ErrMalformedRecord)
	}
	if r.URL == "" {
		return fmt.Errorf("%w: empty url", ErrMalformedRecord)
	}
	u, err := url.Parse(r.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: url %q is not absolute", ErrMalformedRecord, r.URL)
	}
	return nil
}

// Provider is the interface that each content source implements.
//
// Search returns the records for one page (1-based) of a query. An empty
// slice means no results; errors are reserved for failures. The scratch is
// shared by every provider for the lifetime of the query and may be read and
// written.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, page int, scratch *Scratch) ([]Record, error)
}

// HealthChecker is implemented by providers that can report whether their
// upstream is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
