package ranking

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastzet/metastream/internal/providers"
)

func TestParseViews(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1.2k", 1200, false},
		{"2M", 2_000_000, false},
		{"500", 500, false},
		{"N/A", 0, false},
		{"", 0, false},
		{"500 views", 500, false},
		{"1,024", 1024, false},
		{" 3.5 K views ", 3500, false},
		{"1b", 1_000_000_000, false},
		{"5 bookmarks", 5, false},
		{"garbage", 0, true},
		{"99999999999999999999999", 0, true},
		{"9223372036.854775808b", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseViews(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRating(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"95%", 95.0, false},
		{"4.5/5", 90.0, false},
		{"9/10", 90.0, false},
		{"8.5", 85.0, false},
		{"12", 12.0, false},
		{"N/A", 50.0, false},
		{"", 50.0, false},
		{"great", 50.0, true},
		{"3/0", 50.0, true},
		{"NaN", 50.0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRating(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"10:05", 605, false},
		{"1:20:00", 4800, false},
		{"5 min", 300, false},
		{"N/A", 0, false},
		{" 00:59 ", 59, false},
		{"ab:cd", 0, true},
		{"long", 0, true},
		{"153722867280912931 min", 0, true},
		{"153722867280912931:00:00", 0, true},
		{"153722867280912930 min", 153722867280912930 * 60, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDuration(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDurationScore_Bands(t *testing.T) {
	assert.Equal(t, 20.0, DurationScore(0))
	assert.Equal(t, 20.0, DurationScore(119))
	assert.Equal(t, 60.0, DurationScore(120))
	assert.Equal(t, 60.0, DurationScore(599))
	assert.Equal(t, 100.0, DurationScore(600))
}

func TestTitleBonus_CountsRepeatedTerms(t *testing.T) {
	assert.Equal(t, 10.0, TitleBonus("Funny Cat Compilation", Terms("cat funny")))
	assert.Equal(t, 10.0, TitleBonus("Cat video", Terms("cat CAT")))
	assert.Equal(t, 0.0, TitleBonus("Dog video", Terms("cat")))
}

func TestScore_CombinesWeights(t *testing.T) {
	r := providers.Record{
		Title:    "Cat video",
		URL:      "https://example.com/1",
		Views:    "500k",
		Rating:   "80%",
		Duration: "12:00",
	}
	b := Score(context.Background(), r, Terms("cat"))

	assert.InDelta(t, 50.0, b.Views, 1e-9)
	assert.InDelta(t, 80.0, b.Rating, 1e-9)
	assert.InDelta(t, 100.0, b.Duration, 1e-9)
	assert.InDelta(t, 5.0, b.Bonus, 1e-9)
	assert.InDelta(t, 50*0.4+80*0.4+100*0.2+5, b.Total, 1e-9)
}

func TestScore_UnparsableFieldsUseDefaults(t *testing.T) {
	r := providers.Record{Title: "x", URL: "https://example.com/1", Views: "lots", Rating: "good", Duration: "long"}
	b := Score(context.Background(), r, nil)

	assert.Equal(t, 0.0, b.Views)
	assert.Equal(t, NeutralRating, b.Rating)
	assert.Equal(t, 20.0, b.Duration)
}

func TestScore_MonotonicInViewsBelowCap(t *testing.T) {
	base := providers.Record{Title: "t", URL: "https://example.com/1", Rating: "4/5", Duration: "3:00"}
	prev := -1.0
	for _, v := range []int{0, 1, 1000, 250_000, 999_999, 1_000_000} {
		r := base
		r.Views = strconv.Itoa(v)
		s := Score(context.Background(), r, nil).Total
		assert.Greater(t, s, prev, "views=%d", v)
		prev = s
	}

	r := base
	r.Views = "5M"
	assert.Equal(t, prev, Score(context.Background(), r, nil).Total)
}

func TestRank_SortsDescending(t *testing.T) {
	records := []providers.Record{
		{Title: "low", URL: "https://a/1", Views: "10", Rating: "1", Duration: "0:30"},
		{Title: "high", URL: "https://a/2", Views: "2M", Rating: "99%", Duration: "20:00"},
		{Title: "mid", URL: "https://a/3", Views: "100k", Rating: "70%", Duration: "5:00"},
	}
	ranked := Rank(context.Background(), records, "")

	require.Len(t, ranked, 3)
	assert.Equal(t, "high", ranked[0].Title)
	assert.Equal(t, "mid", ranked[1].Title)
	assert.Equal(t, "low", ranked[2].Title)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)

	// Input untouched.
	assert.Equal(t, 0.0, records[1].Score)
}

func TestRank_StableForEqualScores(t *testing.T) {
	var records []providers.Record
	for i := 0; i < 20; i++ {
		records = append(records, providers.Record{
			Title: "same",
			URL:   "https://example.com/" + strconv.Itoa(i),
		})
	}
	ranked := Rank(context.Background(), records, "query")

	for i, r := range ranked {
		assert.Equal(t, records[i].URL, r.URL)
	}
}

func TestRank_TitleMatchBreaksTies(t *testing.T) {
	records := []providers.Record{
		{Title: "Something else", URL: "https://a/1"},
		{Title: "Sunset timelapse", URL: "https://a/2"},
	}
	ranked := Rank(context.Background(), records, "sunset")
	assert.Equal(t, "https://a/2", ranked[0].URL)
}

func TestRank_Empty(t *testing.T) {
	ranked := Rank(context.Background(), nil, "q")
	assert.NotNil(t, ranked)
	assert.Empty(t, ranked)
}
