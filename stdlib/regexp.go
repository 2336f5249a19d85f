package stdlib

import (
	"io"
	"regexp"
	"sync"
)

// loadRegex loads the library for regular expressions. Patterns are
// compiled once per process; an invalid pattern throws.
func loadRegex(io.Writer) map[string]any {
	return map[string]any{
		"match": func(pattern, s string) (bool, error) {
			re, err := compile(pattern)
			if err != nil {
				return false, err
			}
			return re.MatchString(s), nil
		},
		"find": func(pattern, s string) (string, error) {
			re, err := compile(pattern)
			if err != nil {
				return "", err
			}
			return re.FindString(s), nil
		},
		"findAll": func(pattern, s string, n int) ([]string, error) {
			re, err := compile(pattern)
			if err != nil {
				return nil, err
			}
			return re.FindAllString(s, n), nil
		},
		"findSubmatch": func(pattern, s string) ([]string, error) {
			re, err := compile(pattern)
			if err != nil {
				return nil, err
			}
			return re.FindStringSubmatch(s), nil
		},
		"replace": func(pattern, s, repl string) (string, error) {
			re, err := compile(pattern)
			if err != nil {
				return "", err
			}
			return re.ReplaceAllString(s, repl), nil
		},
		"split": func(pattern, s string, n int) ([]string, error) {
			re, err := compile(pattern)
			if err != nil {
				return nil, err
			}
			return re.Split(s, n), nil
		},
	}
}

var patterns sync.Map // string -> *regexp.Regexp

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	actual, _ := patterns.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}
