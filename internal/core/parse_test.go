package core

import (
	"testing"
	"time"
)

func TestParseExpiry(t *testing.T) {
	now := time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   string
		want time.Time
	}{
		{"go duration", "90m", now.Add(90 * time.Minute)},
		{"compound go duration", "2h30m", now.Add(2*time.Hour + 30*time.Minute)},
		{"days", "3d", now.AddDate(0, 0, 3)},
		{"weeks", "2w", now.AddDate(0, 0, 14)},
		{"calendar month", "1mo", time.Date(2025, time.February, 15, 12, 0, 0, 0, time.UTC)},
		{"year", "1y", time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)},
		{"mixed units", "1w3d", now.AddDate(0, 0, 10)},
		{"unit hours", "12h", now.Add(12 * time.Hour)},
		{"rfc3339", "2025-06-01T00:00:00Z", time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseExpiry(tc.in, now)
			if err != nil {
				t.Fatalf("ParseExpiry(%q): %v", tc.in, err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("ParseExpiry(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseExpiryRejects(t *testing.T) {
	now := time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"", "   ", "soon", "12", "3x", "1mo junk", "-5m", "0s",
		"2024-12-31T23:59:59Z", // absolute time in the past
		"2025-01-15T12:00:00Z", // absolute time exactly now
	} {
		if _, err := ParseExpiry(in, now); err == nil {
			t.Fatalf("ParseExpiry(%q): expected error", in)
		}
	}
}
