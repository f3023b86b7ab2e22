// Package qvalue converts a vector of p-values from one comparison group
// into q-values (the minimum FDR at which each test would be called
// significant) with Storey's pi0 estimator. Comparison groups must be
// estimated independently; pooling groups distorts the apparent FDR.
package qvalue

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/yumyai/metadiff/pkg/table"
)

// DefaultMinTests is the smallest collection pi0 can be estimated from.
const DefaultMinTests = 20

// Options tunes the estimator. FixedPi0 > 0 bypasses estimation entirely,
// the conservative fallback after an InsufficientDataError is FixedPi0 = 1.
type Options struct {
	Lambdas  []float64
	FixedPi0 float64
	MinTests int
}

// Result holds the estimated pi0 and the q-values aligned to the input
// p-value order.
type Result struct {
	Pi0 float64
	Q   []float64
}

func defaultLambdas() []float64 {
	var ls []float64
	for l := 0.05; l < 0.951; l += 0.05 {
		ls = append(ls, l)
	}
	return ls
}

// Estimate computes q-values for one comparison group.
func Estimate(p []float64, opt Options) (*Result, error) {
	n := len(p)
	minTests := opt.MinTests
	if minTests <= 0 {
		minTests = DefaultMinTests
	}
	if n == 0 {
		return nil, &table.InsufficientDataError{N: 0, Min: minTests}
	}
	for i, v := range p {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, fmt.Errorf("qvalue: p-value %g at index %d is outside [0,1]", v, i)
		}
	}

	var pi0 float64
	switch {
	case opt.FixedPi0 > 0:
		if opt.FixedPi0 > 1 {
			return nil, fmt.Errorf("qvalue: fixed pi0 %g exceeds 1", opt.FixedPi0)
		}
		pi0 = opt.FixedPi0
	case n < minTests:
		return nil, &table.InsufficientDataError{N: n, Min: minTests}
	default:
		lambdas := opt.Lambdas
		if len(lambdas) == 0 {
			lambdas = defaultLambdas()
		}
		pi0 = estimatePi0(p, lambdas)
	}

	// q_(i) = min over j >= i of pi0 * n * p_(j) / j, enforced by a running
	// minimum from the largest p-value downward.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })

	q := make([]float64, n)
	running := 1.0
	for i := n - 1; i >= 0; i-- {
		idx := order[i]
		v := pi0 * float64(n) * p[idx] / float64(i+1)
		if v < running {
			running = v
		}
		q[idx] = running
	}
	return &Result{Pi0: pi0, Q: q}, nil
}

// estimatePi0 evaluates pi0(lambda) = #{p > lambda} / (n (1-lambda)) over
// the tuning grid and smooths it with a cubic least-squares fit evaluated
// at the largest lambda (Storey's smoother). Degenerate fits fall back to
// the conservative pi0 = 1.
func estimatePi0(p []float64, lambdas []float64) float64 {
	n := len(p)
	ls := append([]float64(nil), lambdas...)
	sort.Float64s(ls)

	pi0s := make([]float64, len(ls))
	for k, l := range ls {
		count := 0
		for _, v := range p {
			if v > l {
				count++
			}
		}
		pi0s[k] = float64(count) / (float64(n) * (1 - l))
	}

	pi0 := smoothAtMax(ls, pi0s)
	if math.IsNaN(pi0) || pi0 > 1 {
		pi0 = 1
	}
	if pi0 <= 0 {
		// All p-values below the grid; keep a floor so q-values stay defined.
		pi0 = 1.0 / float64(n)
	}
	return pi0
}

// smoothAtMax fits y ~ poly(x, 3) by least squares and predicts at max(x).
func smoothAtMax(x, y []float64) float64 {
	m := len(x)
	deg := 3
	if m <= deg {
		return y[m-1]
	}
	v := mat.NewDense(m, deg+1, nil)
	b := mat.NewDense(m, 1, nil)
	for i := 0; i < m; i++ {
		pow := 1.0
		for j := 0; j <= deg; j++ {
			v.Set(i, j, pow)
			pow *= x[i]
		}
		b.Set(i, 0, y[i])
	}
	var qr mat.QR
	qr.Factorize(v)
	var coef mat.Dense
	if err := qr.SolveTo(&coef, false, b); err != nil {
		return y[m-1]
	}
	xm := x[m-1]
	out := 0.0
	pow := 1.0
	for j := 0; j <= deg; j++ {
		out += coef.At(j, 0) * pow
		pow *= xm
	}
	return out
}
