package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ISODate is the layout of normalized dates.
const ISODate = "2006-01-02"

// ErrUnparseableDate signals that date text could not be read. Callers treat
// it as a warning and publish with an empty date.
var ErrUnparseableDate = errors.New("unparseable date")

var (
	postedLabel = regexp.MustCompile(`(?i)date\s+posted\s*:?\s*`)
	monthDayYr  = regexp.MustCompile(`[A-Za-z]{3,9}\.?\s+\d{1,2},?\s+\d{4}`)
	dayMonthYr  = regexp.MustCompile(`\d{1,2}\s+[A-Za-z]{3,9}\.?,?\s+\d{4}`)
	isoLike     = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	slashDate   = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)
)

var dateLayouts = []string{
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"2006-01-02",
	"1/2/2006",
}

// Date parses human-readable date text into YYYY-MM-DD. When the text
// carries a "Date posted" label the earliest date after it wins; without the
// label only a date at the very start of the text is accepted. On failure it
// returns an empty string and an error wrapping ErrUnparseableDate.
func Date(raw string) (string, error) {
	text := raw
	loc := postedLabel.FindStringIndex(text)
	labelled := loc != nil
	if labelled {
		text = text[loc[1]:]
	}
	text = collapse(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty input", ErrUnparseableDate)
	}
	if iso, ok := parseLayouts(text); ok {
		return iso, nil
	}
	for _, m := range dateCandidates(text) {
		if !labelled && m[0] > 0 {
			break
		}
		if iso, ok := parseLayouts(text[m[0]:m[1]]); ok {
			return iso, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnparseableDate, raw)
}

// dateCandidates returns the [start, end) offsets of every date-shaped match
// in text ordered by position, longest first at equal starts.
func dateCandidates(text string) [][]int {
	var out [][]int
	for _, re := range []*regexp.Regexp{monthDayYr, dayMonthYr, isoLike, slashDate} {
		out = append(out, re.FindAllStringIndex(text, -1)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] > out[j][1]
	})
	return out
}

func parseLayouts(text string) (string, bool) {
	text = strings.NewReplacer(".", "", "Sept ", "Sep ").Replace(text)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format(ISODate), true
		}
	}
	return "", false
}
