package stdlib

import (
	"fmt"
	"io"
)

// loadFmt loads the library for formatted output. The print functions
// write to w and return nothing.
func loadFmt(w io.Writer) map[string]any {
	return map[string]any{
		"print":    func(a ...any) { fmt.Fprint(w, a...) },
		"println":  func(a ...any) { fmt.Fprintln(w, a...) },
		"printf":   func(format string, a ...any) { fmt.Fprintf(w, format, a...) },
		"sprint":   fmt.Sprint,
		"sprintln": fmt.Sprintln,
		"sprintf":  fmt.Sprintf,
		"errorf": func(format string, a ...any) error {
			return fmt.Errorf(format, a...)
		},
	}
}

func errNegative(n int) error {
	return fmt.Errorf("negative argument %d", n)
}
