package stdlib

import (
	"io"
	"math/rand/v2"
)

// loadRandom loads the library for random numbers.
func loadRandom(io.Writer) map[string]any {
	return map[string]any{
		"randInt":   randomRandInt,
		"randFloat": rand.Float64,
		"expDist":   rand.ExpFloat64,
		"normDist":  rand.NormFloat64,
		"shuffle":   shuffle,
	}
}

// randomRandInt returns a number in [0, |upperBound|), or 0 for a zero bound.
func randomRandInt(upperBound int64) int64 {
	if upperBound > 0 {
		return rand.Int64N(upperBound)
	} else if upperBound < 0 {
		return rand.Int64N(-upperBound)
	}
	return 0
}

func shuffle(xs []int) []int {
	out := append([]int(nil), xs...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
