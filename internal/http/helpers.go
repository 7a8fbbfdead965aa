package http

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	"sumarte/internal/core"
)

// sanitizeInput removes control characters except tab and newlines, and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// isHTMX reports whether the request was issued by htmx.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// checked reads an HTML checkbox value.
func checked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}

// parseDay parses a YYYY-MM-DD query value; empty or invalid input yields
// the zero time.
func parseDay(s string) time.Time {
	t, err := time.Parse(core.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(core.DateLayout)
}

func money(tag language.Tag) func(core.Amount) string {
	return func(a core.Amount) string {
		return core.FormatAmount(&a, tag)
	}
}
