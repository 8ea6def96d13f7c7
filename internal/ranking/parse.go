package ranking

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/fastzet/metastream/internal/providers"
)

// NeutralRating is the rating assumed when a source shows none.
const NeutralRating = 50.0

var (
	errNoNumber   = errors.New("no number found")
	errOutOfRange = errors.New("out of range")

	// First number in the text, with an optional magnitude suffix.
	viewsPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([kmb]?)`)
	digitRun     = regexp.MustCompile(`\d+`)
)

var viewMultipliers = map[string]float64{
	"k": 1e3,
	"m": 1e6,
	"b": 1e9,
}

func isMissing(raw string) bool {
	s := strings.TrimSpace(raw)
	return s == "" || strings.EqualFold(s, providers.NotAvailable)
}

// ParseViews converts view counts such as "1.2k", "2M", "1,024" or
// "500 views" to an integer. On failure it returns 0 together with the
// reason; an empty or "N/A" value is 0 without an error.
func ParseViews(raw string) (int64, error) {
	if isMissing(raw) {
		return 0, nil
	}
	s := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, ",", "")))

	loc := viewsPattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return 0, fmt.Errorf("views %q: %w", raw, errNoNumber)
	}
	number := s[loc[2]:loc[3]]
	suffix := s[loc[4]:loc[5]]

	// "5 bookmarks" is five, not five billion.
	if suffix != "" && loc[5] < len(s) && unicode.IsLetter(rune(s[loc[5]])) {
		suffix = ""
	}

	if suffix != "" {
		v, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return 0, fmt.Errorf("views %q: %w", raw, err)
		}
		total := v * viewMultipliers[suffix]
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if total >= math.MaxInt64 {
			return 0, fmt.Errorf("views %q: %w", raw, errOutOfRange)
		}
		return int64(total), nil
	}

	run := digitRun.FindString(number)
	v, err := strconv.ParseInt(run, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("views %q: %w", raw, err)
	}
	return v, nil
}

// ParseRating converts ratings such as "95%", "4.5/5", "8.5" or "9/10" to a
// 0-100 value. Values of 10 or less are read as "out of 10". On failure it
// returns NeutralRating together with the reason.
func ParseRating(raw string) (float64, error) {
	if isMissing(raw) {
		return NeutralRating, nil
	}
	s := strings.TrimSpace(raw)

	if strings.Contains(s, "/") {
		parts := strings.SplitN(s, "/", 2)
		num, err := parseFinite(strings.TrimSuffix(strings.TrimSpace(parts[0]), "%"))
		if err != nil {
			return NeutralRating, fmt.Errorf("rating %q: %w", raw, err)
		}
		den, err := parseFinite(strings.TrimSpace(parts[1]))
		if err != nil {
			return NeutralRating, fmt.Errorf("rating %q: %w", raw, err)
		}
		if den == 0 {
			return NeutralRating, fmt.Errorf("rating %q: zero denominator", raw)
		}
		return num / den * 100, nil
	}

	v, err := parseFinite(strings.TrimSpace(strings.TrimSuffix(s, "%")))
	if err != nil {
		return NeutralRating, fmt.Errorf("rating %q: %w", raw, err)
	}
	if v <= 10 {
		return v * 10, nil
	}
	return v, nil
}

// ParseDuration converts "MM:SS", "HH:MM:SS" or text such as "5 min" to
// seconds. Text without colons is read as minutes from its first number.
// On failure it returns 0 together with the reason.
func ParseDuration(raw string) (int, error) {
	if isMissing(raw) {
		return 0, nil
	}
	s := strings.TrimSpace(raw)

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) == 2 || len(parts) == 3 {
			total := 0
			for _, p := range parts {
				n, err := strconv.Atoi(strings.TrimSpace(p))
				if err != nil || n < 0 {
					return 0, fmt.Errorf("duration %q: bad component %q", raw, p)
				}
				if total > (math.MaxInt-n)/60 {
					return 0, fmt.Errorf("duration %q: %w", raw, errOutOfRange)
				}
				total = total*60 + n
			}
			return total, nil
		}
	}

	run := digitRun.FindString(s)
	if run == "" {
		return 0, fmt.Errorf("duration %q: %w", raw, errNoNumber)
	}
	minutes, err := strconv.Atoi(run)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", raw, err)
	}
	if minutes > math.MaxInt/60 {
		return 0, fmt.Errorf("duration %q: %w", raw, errOutOfRange)
	}
	return minutes * 60, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}
