package stdlib

import (
	"io"
	"time"
)

// loadTime loads the library for clocks and durations. Durations are whole
// milliseconds.
func loadTime(io.Writer) map[string]any {
	return map[string]any{
		"now":       time.Now,
		"since":     func(t time.Time) int64 { return time.Since(t).Milliseconds() },
		"sleep":     func(ms int64) { time.Sleep(time.Duration(ms) * time.Millisecond) },
		"unixMilli": func(t time.Time) int64 { return t.UnixMilli() },
		"unixNano":  func(t time.Time) int64 { return t.UnixNano() },
		"add":       func(t time.Time, ms int64) time.Time { return t.Add(time.Duration(ms) * time.Millisecond) },
		"sub":       func(a, b time.Time) int64 { return a.Sub(b).Milliseconds() },
		"format":    func(t time.Time, layout string) string { return t.Format(layout) },
		"parse":     time.Parse,
		"weekday":   func(t time.Time) string { return t.Weekday().String() },
	}
}
