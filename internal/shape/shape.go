// Package shape keeps the process-wide cache of callable shapes: the Go
// func types built for a parameter list and a result type.
package shape

import (
	"reflect"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// voidType is the marker for procedures without a result.
type voidType struct{}

// Void is the result type of procedures that produce no value.
var Void = reflect.TypeOf(voidType{})

var (
	mu     sync.Mutex
	ids    = make(map[reflect.Type]uint64)
	shapes = make(map[string]reflect.Type)
	group  singleflight.Group
)

// id numbers each distinct type. Type names are not unique: two types
// declared in different functions of one package print the same.
func id(t reflect.Type) uint64 {
	n, ok := ids[t]
	if !ok {
		n = uint64(len(ids)) + 1
		ids[t] = n
	}
	return n
}

// key renders a shape as a string of type ids for the singleflight group.
func key(params []reflect.Type, result reflect.Type) string {
	mu.Lock()
	defer mu.Unlock()
	b := make([]byte, 0, 8*(len(params)+1))
	for _, p := range params {
		b = strconv.AppendUint(b, id(p), 10)
		b = append(b, ',')
	}
	b = append(b, ':')
	b = strconv.AppendUint(b, id(result), 10)
	return string(b)
}

func lookup(k string) (reflect.Type, bool) {
	mu.Lock()
	defer mu.Unlock()
	t, ok := shapes[k]
	return t, ok
}

// Func returns the func type taking params and returning result (no result
// when result is Void). Entries are immutable once inserted; concurrent
// callers asking for the same shape share one build.
func Func(params []reflect.Type, result reflect.Type) reflect.Type {
	k := key(params, result)
	if t, ok := lookup(k); ok {
		return t
	}
	v, _, _ := group.Do(k, func() (any, error) {
		if t, ok := lookup(k); ok {
			return t, nil
		}
		var out []reflect.Type
		if result != Void {
			out = []reflect.Type{result}
		}
		t := reflect.FuncOf(append([]reflect.Type(nil), params...), out, false)
		mu.Lock()
		shapes[k] = t
		mu.Unlock()
		return t, nil
	})
	return v.(reflect.Type)
}

// Len reports the number of cached shapes.
func Len() int {
	mu.Lock()
	defer mu.Unlock()
	return len(shapes)
}
