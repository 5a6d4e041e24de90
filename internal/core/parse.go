package core

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var errEmptyExpiry = errors.New("empty expiry")

// unitRe matches one "<n><unit>" token: 30s, 90m, 2h, 3d, 2w, 1mo, 1y.
// Tokens may be concatenated ("1w3d") or the whole string may be a plain
// Go duration or an RFC 3339 timestamp.
var unitRe = regexp.MustCompile(`^(\d+)(mo|[smhdwy])`)

// ParseExpiry turns a moderator-supplied expiry into an absolute time.
// Accepted forms, tried in order: RFC 3339 timestamp, Go duration,
// day/week/month/year unit string. Relative forms are anchored at now;
// calendar units use calendar arithmetic, so "1mo" lands on the same day
// next month.
func ParseExpiry(raw string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errEmptyExpiry
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		if !t.After(now) {
			return time.Time{}, fmt.Errorf("expiry %q is not in the future", raw)
		}
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("expiry %q is not in the future", raw)
		}
		return now.Add(d), nil
	}

	t, rest, err := addUnits(now, strings.ToLower(s))
	if err != nil {
		return time.Time{}, err
	}
	if rest != "" {
		return time.Time{}, fmt.Errorf("invalid expiry %q", raw)
	}
	if !t.After(now) {
		return time.Time{}, fmt.Errorf("expiry %q is not in the future", raw)
	}
	return t, nil
}

func addUnits(now time.Time, s string) (time.Time, string, error) {
	t := now
	matched := false
	for {
		m := unitRe.FindStringSubmatch(s)
		if m == nil {
			break
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return now, s, fmt.Errorf("invalid expiry amount %q", m[1])
		}
		switch m[2] {
		case "s":
			t = t.Add(time.Duration(n) * time.Second)
		case "m":
			t = t.Add(time.Duration(n) * time.Minute)
		case "h":
			t = t.Add(time.Duration(n) * time.Hour)
		case "d":
			t = t.AddDate(0, 0, n)
		case "w":
			t = t.AddDate(0, 0, 7*n)
		case "mo":
			t = t.AddDate(0, n, 0)
		case "y":
			t = t.AddDate(n, 0, 0)
		}
		matched = true
		s = s[len(m[0]):]
	}
	if !matched {
		return now, s, fmt.Errorf("invalid expiry %q", s)
	}
	return t, s, nil
}

func parseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
