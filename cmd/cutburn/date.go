package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

var dateParser = newDateParser()

func newDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// parseDay resolves a --date value to YYYY-MM-DD. It accepts an empty value
// (today), an ISO date, or natural language such as "yesterday" or
// "last friday", interpreted relative to now in local time.
func parseDay(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "today") {
		return schema.FormatDate(now), nil
	}
	if _, err := schema.ParseDate(s); err == nil {
		return s, nil
	}

	r, err := dateParser.Parse(s, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized date %q (use YYYY-MM-DD or e.g. \"yesterday\")", s)
	}
	return schema.FormatDate(r.Time), nil
}

// mustParseDay is parseDay for command handlers.
func mustParseDay(s string) string {
	day, err := parseDay(s, time.Now())
	if err != nil {
		exitf("%v", err)
	}
	return day
}
