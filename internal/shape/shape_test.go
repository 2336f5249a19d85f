package shape

import (
	"reflect"
	"testing"

	"golang.org/x/sync/errgroup"
)

var (
	intType    = reflect.TypeOf(0)
	stringType = reflect.TypeOf("")
)

func TestFuncBuildsMatchingType(t *testing.T) {
	ft := Func([]reflect.Type{intType, stringType}, intType)
	want := reflect.TypeOf(func(int, string) int { return 0 })
	if ft != want {
		t.Fatalf("got %v, want %v", ft, want)
	}
	void := Func([]reflect.Type{intType}, Void)
	if void != reflect.TypeOf(func(int) {}) {
		t.Fatalf("got %v for void result", void)
	}
}

func TestFuncIsSharedAcrossGoroutines(t *testing.T) {
	params := []reflect.Type{stringType, stringType, intType}
	results := make([]reflect.Type, 32)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			results[i] = Func(params, stringType)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		if r != results[0] {
			t.Fatalf("result %d differs: %v vs %v", i, r, results[0])
		}
	}
	before := Len()
	Func(params, stringType)
	if Len() != before {
		t.Fatalf("cache grew on a repeated shape: %d -> %d", before, Len())
	}
}

func localA() reflect.Type {
	type T struct{ A int }
	return reflect.TypeOf(T{})
}

func localB() reflect.Type {
	type T struct{ B string }
	return reflect.TypeOf(T{})
}

func TestSameNamedTypesGetTheirOwnShapes(t *testing.T) {
	a, b := localA(), localB()
	if a.String() != b.String() || a == b {
		t.Fatalf("want two distinct types printing alike, got %v and %v", a, b)
	}
	fa := Func([]reflect.Type{a}, Void)
	fb := Func([]reflect.Type{b}, a)
	fb2 := Func([]reflect.Type{b}, Void)
	if fa.In(0) != a || fb2.In(0) != b {
		t.Fatalf("got %v and %v", fa.In(0), fb2.In(0))
	}
	if fb.In(0) != b || fb.Out(0) != a {
		t.Fatalf("got %v", fb)
	}
}
