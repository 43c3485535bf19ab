package model

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// absoluteLayouts are tried in order before natural-language parsing.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var naturalDates = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// NormalizeDate turns user input into a canonical UTC timestamp truncated
// to the second. Empty or unparseable input yields nil rather than an
// error: a bad date must not fail the rest of an update.
//
// Accepted forms are RFC3339, "2006-01-02[ 15:04[:05]]" (read as UTC) and
// English phrases such as "tomorrow" or "next friday", resolved against now.
func NormalizeDate(raw string, now time.Time) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC().Truncate(time.Second)
			return &t
		}
	}

	r, err := naturalDates.Parse(s, now)
	if err != nil || r == nil {
		return nil
	}
	// Partial matches ("foo tomorrow bar") are treated as malformed.
	if r.Index != 0 || len(r.Text) != len(s) {
		return nil
	}
	t := r.Time.UTC().Truncate(time.Second)
	return &t
}

// FormatTime renders t in the canonical storage form used by history
// entries.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
