// Package yamltree reads lambdas written as YAML documents. A file holds one
// or more documents; each describes a lambda and, optionally, the arguments
// to run it with and the result it should produce:
//
//	name: clamp
//	params: [{x: int}, {hi: int}]
//	returns: int
//	body:
//	  if: [{gt: [x, hi]}, hi, x]
//	args: [12, 10]
//	want: 10
//
// Expressions are YAML scalars and single-form mappings. An unquoted string
// names a variable; a quoted one is a string constant.
package yamltree

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vida-lang/lambdac/stdlib"
	"github.com/vida-lang/lambdac/tree"
)

// Error is a problem in a YAML program, located by line and column.
type Error struct {
	File   string
	Line   int
	Column int
	Msg    string
}

func (e *Error) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Msg)
}

// Program is one document: a lambda ready to compile and its test vector.
type Program struct {
	Name    string
	Lambda  *tree.Lambda
	Args    []any
	Want    any
	HasWant bool
	Nodes   int // size of the tree
	Line    int
}

// Check compares the result of running the program with the expected one.
// Optional values are compared by the value they hold.
func (p *Program) Check(got any) error {
	if !p.HasWant {
		return nil
	}
	g, w := deref(got), deref(p.Want)
	if !reflect.DeepEqual(g, w) {
		return fmt.Errorf("%v: got %v, want %v", p.Name, g, w)
	}
	return nil
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return rv.Elem().Interface()
	}
	return v
}

// Builtins are the host functions available to every program through the
// call form.
var Builtins = map[string]any{
	"sqrt":     math.Sqrt,
	"itoa":     strconv.Itoa,
	"atoi":     strconv.Atoi,
	"upper":    strings.ToUpper,
	"repeat":   strings.Repeat,
	"contains": strings.Contains,
	"sprint":   fmt.Sprint,
	"sprintf":  fmt.Sprintf,
	"errorf": func(format string, args ...any) error {
		return fmt.Errorf(format, args...)
	},
}

type document struct {
	Name     string              `yaml:"name"`
	Params   []map[string]string `yaml:"params"`
	Returns  string              `yaml:"returns"`
	TailCall bool                `yaml:"tail_call"`
	Labels   []map[string]string `yaml:"labels"`
	Body     yaml.Node           `yaml:"body"`
	Args     []yaml.Node         `yaml:"args"`
	Want     yaml.Node           `yaml:"want"`
}

// Parse reads the programs of a YAML stream. Programs may call Builtins and
// the stdlib libraries by name ("math.sqrt"); funcs adds host functions or
// replaces them. file names the source in errors.
func Parse(file string, data []byte, funcs map[string]any) ([]*Program, error) {
	all, err := stdlib.Load(os.Stdout)
	if err != nil {
		return nil, err
	}
	for k, v := range Builtins {
		all[k] = v
	}
	for k, v := range funcs {
		all[k] = v
	}

	var progs []*Program
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	for {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		b := &builder{file: file, funcs: all}
		p, err := b.program(&doc)
		if err != nil {
			return nil, err
		}
		progs = append(progs, p)
	}
	return progs, nil
}

// Load reads the programs of a YAML file.
func Load(path string, funcs map[string]any) ([]*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data, funcs)
}

func (b *builder) program(doc *document) (p *Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, b.recovered(r)
		}
	}()
	l := b.lambda(doc)
	p = &Program{Name: l.Name, Lambda: l, Line: doc.Body.Line}
	if len(doc.Args) > 0 && len(doc.Args) != len(l.Params) {
		b.fail("%v takes %v arguments, %v given", l.Name, len(l.Params), len(doc.Args))
	}
	for i := range doc.Args {
		p.Args = append(p.Args, b.value(&doc.Args[i], l.Params[i].SignatureType()))
	}
	if doc.Want.Kind != 0 && l.ReturnType != tree.Void {
		p.Want = b.value(&doc.Want, l.ReturnType)
		p.HasWant = true
	}
	tree.Inspect(l, func(tree.Node) bool {
		p.Nodes++
		return true
	})
	return p, nil
}

// value decodes a YAML value as a Go value of type t.
func (b *builder) value(n *yaml.Node, t reflect.Type) any {
	b.at(n)
	v := reflect.New(t)
	if err := n.Decode(v.Interface()); err != nil {
		b.fail("%v", err)
	}
	return v.Elem().Interface()
}
