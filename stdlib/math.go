package stdlib

import (
	"io"
	"math"
)

// loadMath loads the library for mathematical computations over float64.
func loadMath(io.Writer) map[string]any {
	return map[string]any{
		"e":     constant(math.E),
		"pi":    constant(math.Pi),
		"tau":   constant(math.Pi * 2.0),
		"phi":   constant(math.Phi),
		"inf":   func() float64 { return math.Inf(0) },
		"nan":   math.NaN,
		"isnan": math.IsNaN,
		"acos":  math.Acos,
		"asin":  math.Asin,
		"atan":  math.Atan,
		"atan2": math.Atan2,
		"cbrt":  math.Cbrt,
		"ceil":  math.Ceil,
		"cos":   math.Cos,
		"exp":   math.Exp,
		"floor": math.Floor,
		"hypot": math.Hypot,
		"log":   math.Log,
		"log10": math.Log10,
		"log2":  math.Log2,
		"max":   math.Max,
		"min":   math.Min,
		"pow":   math.Pow,
		"round": math.Round,
		"sin":   math.Sin,
		"sqrt":  math.Sqrt,
		"tan":   math.Tan,
		"trunc": math.Trunc,
		"abs":   math.Abs,
		"isqrt": isqrt,
	}
}

func constant(x float64) func() float64 {
	return func() float64 { return x }
}

// isqrt is the integer square root; negative input throws.
func isqrt(n int) (int, error) {
	if n < 0 {
		return 0, errNegative(n)
	}
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r, nil
}
