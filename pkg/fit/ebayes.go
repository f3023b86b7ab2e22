package fit

import (
	"math"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"

	"github.com/yumyai/metadiff/pkg/table"
)

// maxPriorDF stands in for an infinite prior when the observed variances
// carry no excess spread over pure chi-squared sampling noise.
const maxPriorDF = 1e6

// fitFDist fits a scaled inverse-chi-squared prior (d0, s0^2) to per-gene
// residual variances, all sharing residual df, by the method of moments on
// log variances: with z = log(s^2),
//
//	E[z] = log(sigma^2) + digamma(df/2) - log(df/2)
//	Var[z] = trigamma(df/2)
//
// so the excess variance of z over trigamma(df/2) identifies d0 through
// trigamma(d0/2), and the mean equation then gives s0^2.
func fitFDist(s2 []float64, df float64) (Prior, error) {
	if df <= 0 {
		return Prior{}, &table.DegenerateFitError{Stage: "ebayes", Msg: "non-positive residual degrees of freedom"}
	}
	var e []float64
	offset := digamma(df/2) - math.Log(df/2)
	for _, v := range s2 {
		if v > 0 {
			e = append(e, math.Log(v)-offset)
		}
	}
	if len(e) < 2 {
		return Prior{}, &table.DegenerateFitError{Stage: "ebayes", Msg: "fewer than two genes with positive residual variance"}
	}

	emean := stat.Mean(e, nil)
	evar := stat.Variance(e, nil) - trigamma(df/2)
	if evar <= 0 {
		// No excess spread: variances are exchangeable, prior is a point.
		return Prior{DF: maxPriorDF, Var: math.Exp(emean)}, nil
	}
	d0 := 2 * trigammaInverse(evar)
	if d0 > maxPriorDF {
		d0 = maxPriorDF
	}
	s0 := math.Exp(emean + digamma(d0/2) - math.Log(d0/2))
	return Prior{DF: d0, Var: s0}, nil
}

func digamma(x float64) float64 { return mathext.Digamma(x) }

// trigamma is psi'(x) = Hurwitz zeta(2, x).
func trigamma(x float64) float64 { return mathext.Zeta(2, x) }

// tetragamma is psi''(x) = -2 * Hurwitz zeta(3, x).
func tetragamma(x float64) float64 { return -2 * mathext.Zeta(3, x) }

// trigammaInverse solves trigamma(x) = y for x > 0 by Newton iteration on
// 1/trigamma, which is nearly linear in x.
func trigammaInverse(y float64) float64 {
	if y > 1e7 {
		return 1 / math.Sqrt(y)
	}
	if y < 1e-6 {
		return 1 / y
	}
	x := 0.5 + 1/y
	for i := 0; i < 50; i++ {
		tri := trigamma(x)
		dif := tri * (1 - tri/y) / tetragamma(x)
		x += dif
		if math.Abs(dif/x) < 1e-8 {
			break
		}
	}
	return x
}
