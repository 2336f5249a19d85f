package yamltree

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/vida-lang/lambdac/tree"
)

var namedTypes = map[string]reflect.Type{
	"void":    tree.Void,
	"any":     tree.AnyType,
	"error":   tree.ErrorType,
	"bool":    tree.BoolType,
	"string":  tree.StringType,
	"int":     tree.IntType,
	"int8":    reflect.TypeOf(int8(0)),
	"int16":   reflect.TypeOf(int16(0)),
	"int32":   reflect.TypeOf(int32(0)),
	"int64":   tree.Int64Type,
	"uint":    reflect.TypeOf(uint(0)),
	"uint8":   reflect.TypeOf(uint8(0)),
	"uint16":  reflect.TypeOf(uint16(0)),
	"uint32":  reflect.TypeOf(uint32(0)),
	"uint64":  reflect.TypeOf(uint64(0)),
	"byte":    reflect.TypeOf(byte(0)),
	"rune":    reflect.TypeOf(rune(0)),
	"float32": reflect.TypeOf(float32(0)),
	"float64": tree.Float64Type,
	"lambda":  tree.LambdaType,
	"vars":    tree.VariableSetType,
}

// ParseType parses a Go-like type expression: a predeclared name, *T for
// the optional form of a basic type, []T, map[K]V or func(A, B) R.
func ParseType(s string) (reflect.Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return tree.Void, nil
	}
	if t, ok := namedTypes[s]; ok {
		return t, nil
	}
	switch {
	case strings.HasPrefix(s, "*"):
		elem, err := ParseType(s[1:])
		if err != nil {
			return nil, err
		}
		if elem == tree.Void {
			return nil, fmt.Errorf("pointer to void in %q", s)
		}
		return reflect.PointerTo(elem), nil
	case strings.HasPrefix(s, "[]"):
		elem, err := ParseType(s[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(s, "map["):
		end := closing(s, 3, '[', ']')
		if end < 0 {
			return nil, fmt.Errorf("unbalanced brackets in %q", s)
		}
		k, err := ParseType(s[4:end])
		if err != nil {
			return nil, err
		}
		v, err := ParseType(s[end+1:])
		if err != nil {
			return nil, err
		}
		if !k.Comparable() {
			return nil, fmt.Errorf("invalid map key type %v", k)
		}
		return reflect.MapOf(k, v), nil
	case strings.HasPrefix(s, "func("):
		return parseFuncType(s)
	}
	return nil, fmt.Errorf("unknown type %q", s)
}

func parseFuncType(s string) (reflect.Type, error) {
	end := closing(s, 4, '(', ')')
	if end < 0 {
		return nil, fmt.Errorf("unbalanced parentheses in %q", s)
	}
	var in []reflect.Type
	for _, p := range splitTop(s[5:end]) {
		t, err := ParseType(p)
		if err != nil {
			return nil, err
		}
		if t == tree.Void {
			return nil, fmt.Errorf("void parameter in %q", s)
		}
		in = append(in, t)
	}
	var out []reflect.Type
	if r := strings.TrimSpace(s[end+1:]); r != "" {
		t, err := ParseType(r)
		if err != nil {
			return nil, err
		}
		if t != tree.Void {
			out = append(out, t)
		}
	}
	return reflect.FuncOf(in, out, false), nil
}

// closing returns the index of the bracket matching the one at open.
func closing(s string, open int, l, r byte) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case l:
			depth++
		case r:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTop splits a parameter list on the commas outside brackets.
func splitTop(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
