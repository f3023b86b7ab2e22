// Package voom estimates the mean-variance trend of log-abundance data and
// turns it into per-observation precision weights, so downstream linear
// modelling can treat count-derived values as if they were homoskedastic.
package voom

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/yumyai/metadiff/pkg/design"
	"github.com/yumyai/metadiff/pkg/table"
)

// DefaultSpan is the default lowess span for the mean-variance trend.
const DefaultSpan = 0.5

// minTrendGenes is the smallest number of genes with positive residual
// variance the trend can be fit from.
const minTrendGenes = 3

// Options tunes the trend smoother. A span too large over-smooths a
// heterogeneous trend, too small chases noise.
type Options struct {
	Span  float64
	Iters int // robustness iterations for lowess
}

// Weights fits each gene by ordinary least squares, smooths log residual
// standard deviation against mean fitted log-abundance with lowess, and
// returns a strictly-positive precision-weight matrix shaped like logAb
// (weight = 1 / predicted variance at each fitted value).
func Weights(logAb *table.Matrix, d *design.Design, opt Options) (*table.Matrix, error) {
	span := opt.Span
	if span <= 0 {
		span = DefaultSpan
	}
	iters := opt.Iters
	if iters <= 0 {
		iters = 3
	}

	n := logAb.NSamples()
	p := d.P()
	if d.N() != n {
		return nil, &table.AlignmentError{Msg: fmt.Sprintf("design has %d rows, matrix has %d samples", d.N(), n)}
	}
	if n <= p {
		return nil, &table.DegenerateFitError{Stage: "voom", Msg: fmt.Sprintf("%d samples cannot support %d coefficients", n, p)}
	}

	var qr mat.QR
	qr.Factorize(d.X)
	if fullRank, _ := designRank(&qr, p); !fullRank {
		return nil, fmt.Errorf("voom: design matrix is singular: %w", table.ErrRankDeficient)
	}

	ng := logAb.NGenes()
	fittedRows := make([][]float64, ng)
	meanFit := make([]float64, ng)
	logSD := make([]float64, ng)
	hasVar := make([]bool, ng)

	y := mat.NewDense(n, 1, nil)
	var beta, fit mat.Dense
	nPos := 0
	for i := 0; i < ng; i++ {
		row := logAb.Row(i)
		for j, v := range row {
			y.Set(j, 0, v)
		}
		if err := qr.SolveTo(&beta, false, y); err != nil {
			return nil, fmt.Errorf("voom: OLS solve for gene %q: %w", logAb.Genes[i], err)
		}
		fit.Mul(d.X, &beta)

		fr := make([]float64, n)
		rss := 0.0
		msq := 0.0
		for j := 0; j < n; j++ {
			fr[j] = fit.At(j, 0)
			r := row[j] - fr[j]
			rss += r * r
			msq += row[j] * row[j]
		}
		fittedRows[i] = fr
		meanFit[i] = stat.Mean(fr, nil)
		s2 := rss / float64(n-p)
		msq /= float64(n)
		// An exact fit leaves residuals at rounding-noise scale, not exactly
		// zero; compare the variance against the row's own magnitude.
		if s2 > 1e-12*msq && s2 > 0 {
			logSD[i] = math.Log(math.Sqrt(s2))
			hasVar[i] = true
			nPos++
		}
	}
	if nPos < minTrendGenes {
		return nil, &table.DegenerateFitError{Stage: "voom", Msg: fmt.Sprintf("only %d genes have nonzero residual variance", nPos)}
	}

	// Trend: log(residual SD) over mean fitted log-abundance, sorted.
	sx := make([]float64, 0, nPos)
	sy := make([]float64, 0, nPos)
	order := make([]int, 0, nPos)
	for i := 0; i < ng; i++ {
		if hasVar[i] {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool { return meanFit[order[a]] < meanFit[order[b]] })
	for _, i := range order {
		sx = append(sx, meanFit[i])
		sy = append(sy, logSD[i])
	}
	curve := lowess(sx, sy, span, iters)
	cx, cy := dedupe(sx, curve)

	w, err := table.NewMatrix(logAb.Genes, logAb.Samples)
	if err != nil {
		return nil, err
	}
	for i := 0; i < ng; i++ {
		for j, f := range fittedRows[i] {
			l := interpolate(cx, cy, f)
			// Bound the predicted log-SD so weights stay finite.
			if l < -30 {
				l = -30
			} else if l > 30 {
				l = 30
			}
			w.Data[i][j] = math.Exp(-2 * l) // 1 / SD^2
		}
	}
	return w, nil
}

// designRank checks the R factor diagonal against a relative tolerance.
func designRank(qr *mat.QR, p int) (fullRank bool, rank int) {
	var r mat.Dense
	qr.RTo(&r)
	maxDiag := 0.0
	for j := 0; j < p; j++ {
		if a := math.Abs(r.At(j, j)); a > maxDiag {
			maxDiag = a
		}
	}
	tol := 1e-10 * maxDiag
	for j := 0; j < p; j++ {
		if math.Abs(r.At(j, j)) > tol {
			rank++
		}
	}
	return rank == p, rank
}
