// Package ranking turns loosely typed provider metadata into a single
// comparable score and orders result sets by it.
//
// The score is a sort key only. Its scale and weights may change between
// versions and must not be exposed as a stable metric.
package ranking

import (
	"context"
	"math"
	"sort"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/fastzet/metastream/internal/providers"
)

// Weights of the sub-scores in the final score.
const (
	ViewWeight     = 0.4
	RatingWeight   = 0.4
	DurationWeight = 0.2

	// TitleMatchBonus is added once per query term found in the title.
	TitleMatchBonus = 5.0

	// Views at or above this count get the full view score.
	viewCap = 1_000_000
)

// Breakdown holds the sub-scores that make up a record's score.
type Breakdown struct {
	Views    float64
	Rating   float64
	Duration float64
	Bonus    float64
	Total    float64
}

// ViewScore maps a view count linearly onto 0-100, capped at one million views.
func ViewScore(views int64) float64 {
	if views <= 0 {
		return 0
	}
	return math.Min(float64(views)/viewCap, 1.0) * 100
}

// DurationScore bands a duration in seconds. Longer content scores higher.
func DurationScore(seconds int) float64 {
	switch {
	case seconds < 120:
		return 20
	case seconds < 600:
		return 60
	default:
		return 100
	}
}

// Terms splits a query into lower-cased whitespace-separated terms. Repeated
// terms are kept.
func Terms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// TitleBonus adds TitleMatchBonus for every term that occurs in the title.
func TitleBonus(title string, terms []string) float64 {
	lower := strings.ToLower(title)
	bonus := 0.0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			bonus += TitleMatchBonus
		}
	}
	return bonus
}

// Score computes the ranking score of one record. Fields that cannot be
// parsed fall back to their defaults and are logged as warnings.
func Score(ctx context.Context, r providers.Record, terms []string) Breakdown {
	views, err := ParseViews(r.Views)
	if err != nil {
		slogctx.Warn(ctx, "Failed to parse view count", "url", r.URL, "error", err)
	}
	rating, err := ParseRating(r.Rating)
	if err != nil {
		slogctx.Warn(ctx, "Failed to parse rating", "url", r.URL, "error", err)
	}
	seconds, err := ParseDuration(r.Duration)
	if err != nil {
		slogctx.Warn(ctx, "Failed to parse duration", "url", r.URL, "error", err)
	}

	b := Breakdown{
		Views:    ViewScore(views),
		Rating:   rating,
		Duration: DurationScore(seconds),
		Bonus:    TitleBonus(r.Title, terms),
	}
	b.Total = b.Views*ViewWeight + b.Rating*RatingWeight + b.Duration*DurationWeight + b.Bonus
	return b
}

// Rank scores every record against the query and returns them in descending
// score order. Records with equal scores keep their input order. The input
// slice is not modified.
func Rank(ctx context.Context, records []providers.Record, query string) []providers.Record {
	slogctx.Debug(ctx, "Ranking results", "count", len(records), "query", query)

	terms := Terms(query)
	ranked := make([]providers.Record, len(records))
	for i, r := range records {
		b := Score(ctx, r, terms)
		r.Score = b.Total
		ranked[i] = r
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
