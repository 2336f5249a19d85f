// Package stdlib holds the host functions programs call by name. Each
// library contributes functions keyed "library.name", so "math.sqrt" is
// math.Sqrt and "regex.match" matches a pattern against a string.
package stdlib

import (
	"fmt"
	"io"
	"sort"
)

// Loader builds the functions of one library. Printing functions write to w.
type Loader func(w io.Writer) map[string]any

// Stdlib is the map mapping library names to Loaders.
var Stdlib = map[string]Loader{
	"math":    loadMath,
	"random":  loadRandom,
	"time":    loadTime,
	"strings": loadStrings,
	"regex":   loadRegex,
	"fmt":     loadFmt,
}

// Load returns the functions of the named libraries, or of all of them when
// none is named.
func Load(w io.Writer, libs ...string) (map[string]any, error) {
	if len(libs) == 0 {
		libs = Names()
	}
	funcs := make(map[string]any)
	for _, lib := range libs {
		load, ok := Stdlib[lib]
		if !ok {
			return nil, fmt.Errorf("stdlib: no library %q", lib)
		}
		for name, fn := range load(w) {
			funcs[lib+"."+name] = fn
		}
	}
	return funcs, nil
}

// Names lists the libraries in order.
func Names() []string {
	names := make([]string, 0, len(Stdlib))
	for name := range Stdlib {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
