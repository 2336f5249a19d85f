package yamltree

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/vida-lang/lambdac/compiler"
	"github.com/vida-lang/lambdac/tree"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want reflect.Type
	}{
		{"int", tree.IntType},
		{"", tree.Void},
		{"*int", tree.Nullable(tree.IntType)},
		{"[]string", reflect.TypeOf([]string(nil))},
		{"map[string][]int", reflect.TypeOf(map[string][]int(nil))},
		{"func(int, string) bool", reflect.TypeOf(func(int, string) bool { return false })},
		{"func()", reflect.TypeOf(func() {})},
		{"func(func(int) int) void", reflect.TypeOf(func(func(int) int) {})},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"integer", "map[int", "func(int", "func(void)", "map[[]int]int"} {
		if _, err := ParseType(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

// run parses, compiles and runs every program of src, checking results.
func run(t *testing.T, src string) []*Program {
	t.Helper()
	progs, err := Parse("test.yaml", []byte(src), nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range progs {
		proc, err := compiler.Compile(p.Lambda)
		if err != nil {
			t.Fatalf("%v: %v", p.Name, err)
		}
		got, err := proc.Call(p.Args...)
		if err != nil {
			t.Fatalf("%v: %v", p.Name, err)
		}
		if err := p.Check(got); err != nil {
			t.Error(err)
		}
	}
	return progs
}

func TestPrograms(t *testing.T) {
	progs := run(t, `
name: clamp
params: [{x: int}, {hi: int}]
returns: int
body:
  if: [{gt: [x, hi]}, hi, x]
args: [12, 10]
want: 10
---
name: greet
params: [{who: string}]
body: {add: ["hello, ", {call: upper, args: [who]}]}
args: [gopher]
want: hello, GOPHER
---
name: sum
params: [{n: int}]
labels: [{done: int}]
body:
  do:
    - loop:
        do:
          - if: [{gt: [i, n]}, {break: done, value: acc}]
          - add_assign: [acc, i]
          - preinc: i
      break: done
  vars: [{i: int}, {acc: int}]
args: [10]
want: 55
---
name: plus5
params: [{x: "*int"}]
body: {add: [x, {const: 5, type: "*int"}]}
args: [null]
want: null
`)
	if len(progs) != 4 {
		t.Fatalf("got %v programs", len(progs))
	}
	if progs[2].Nodes < 10 {
		t.Fatalf("sum has %v nodes", progs[2].Nodes)
	}
}

func TestSwitchAndTry(t *testing.T) {
	run(t, `
name: day
params: [{d: string}]
body:
  switch: d
  cases:
    - {when: [sat, sun], then: "weekend"}
    - {when: mon, then: "start"}
  default: {const: weekday}
args: [sun]
want: weekend
---
name: parse
params: [{s: string}]
body:
  try: {call: atoi, args: [s]}
  catch:
    - {type: error, var: e, do: -1}
args: [x12]
want: -1
---
name: filtered
params: [{s: string}]
body:
  try: {throw: s, type: string}
  catch:
    - {type: string, var: m, when: {eq: [m, "a"]}, do: "first"}
    - {type: string, do: "second"}
args: [b]
want: second
`)
}

func TestClosures(t *testing.T) {
	run(t, `
name: counter
returns: int
body:
  do:
    - set: [f, {lambda: {name: inc, body: {preinc: n}}}]
    - invoke: f
    - invoke: f
  vars: [{n: int}, {f: "func() int"}]
want: 2
---
name: countdown
params: [{m: int}]
body:
  do:
    - set:
        - f
        - lambda:
            name: step
            params: [{k: int}]
            tail_call: true
            body:
              if: [{eq: [k, 0]}, "done", {invoke: f, args: [{sub: [k, 1]}]}]
    - invoke: f
      args: [m]
  vars: [{f: "func(int) string"}]
args: [5000]
want: done
`)
}

func TestErrorsCarryPosition(t *testing.T) {
	tests := []struct {
		src  string
		line int
		msg  string
	}{
		{"name: f\nbody: {add: [1, y]}\n", 2, `undefined variable "y"`},
		{"name: f\nbody:\n  add: [1, \"s\"]\n", 3, "not defined"},
		{"name: f\nbody: {frobnicate: 1}\n", 2, "unknown form"},
		{"name: f\nbody: {add: [1, 2], colour: red}\n", 2, `does not take "colour"`},
		{"name: f\n", 0, "no body"},
		{"name: f\nparams: [{x: integer}]\nbody: x\n", 0, "unknown type"},
	}
	for _, tt := range tests {
		_, err := Parse("bad.yaml", []byte(tt.src), nil)
		var e *Error
		if !errors.As(err, &e) {
			t.Fatalf("%q: got %v, want a positioned error", tt.src, err)
		}
		if tt.line > 0 && e.Line != tt.line {
			t.Errorf("%q: line %v, want %v", tt.src, e.Line, tt.line)
		}
		if !strings.Contains(e.Error(), tt.msg) || !strings.HasPrefix(e.Error(), "bad.yaml:") {
			t.Errorf("%q: got %q, want %q", tt.src, e.Error(), tt.msg)
		}
	}
}

func TestUnknownDocumentKey(t *testing.T) {
	if _, err := Parse("", []byte("name: f\nbody: 1\nretruns: int\n"), nil); err == nil {
		t.Fatal("misspelt key accepted")
	}
}

func TestCustomFunctions(t *testing.T) {
	var seen []int
	funcs := map[string]any{"record": func(n int) { seen = append(seen, n) }}
	progs, err := Parse("", []byte("name: rec\nbody: {do: [{call: record, args: [1]}, {call: record, args: [2]}]}\n"), funcs)
	if err != nil {
		t.Fatal(err)
	}
	p, err := compiler.Compile(progs[0].Lambda)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Call(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(seen, []int{1, 2}) {
		t.Fatalf("got %v", seen)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	if err := os.WriteFile(path, []byte("name: one\nbody: 1\nwant: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	progs, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(progs) != 1 || progs[0].Name != "one" || !progs[0].HasWant {
		t.Fatalf("got %+v", progs)
	}
	if err := progs[0].Check(2); err == nil {
		t.Fatal("wrong result passed the check")
	}
}
