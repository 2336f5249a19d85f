package stdlib

import (
	"io"
	"strconv"
	"strings"
)

// loadStrings loads string functions and the string builder. A builder is
// used through its methods: WriteString, WriteByte, WriteRune, Len, Reset
// and String.
func loadStrings(io.Writer) map[string]any {
	return map[string]any{
		"builder":   func() *strings.Builder { return new(strings.Builder) },
		"contains":  strings.Contains,
		"count":     strings.Count,
		"fields":    strings.Fields,
		"hasPrefix": strings.HasPrefix,
		"hasSuffix": strings.HasSuffix,
		"index":     strings.Index,
		"join":      strings.Join,
		"lower":     strings.ToLower,
		"repeat":    repeat,
		"replace":   strings.ReplaceAll,
		"split":     strings.Split,
		"trim":      strings.TrimSpace,
		"upper":     strings.ToUpper,
		"itoa":      strconv.Itoa,
		"atoi":      strconv.Atoi,
		"quote":     strconv.Quote,
		"parseFloat": func(s string) (float64, error) {
			return strconv.ParseFloat(s, 64)
		},
	}
}

// repeat is strings.Repeat throwing on a negative count instead of
// panicking.
func repeat(s string, n int) (string, error) {
	if n < 0 {
		return "", errNegative(n)
	}
	return strings.Repeat(s, n), nil
}
