// Package fit runs a weighted linear model per gene against the health-state
// design and moderates the per-gene residual variances with an empirical
// Bayes prior shared across all genes, the central power lever of the
// pipeline at small sample sizes.
package fit

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/yumyai/metadiff/pkg/design"
	"github.com/yumyai/metadiff/pkg/table"
)

// Coef is one reported contrast for one gene. StdErr, T and P are the
// moderated versions.
type Coef struct {
	Name   string
	Beta   float64
	StdErr float64
	T      float64
	P      float64
}

// GeneFit is the immutable per-gene result. Coefs excludes the intercept.
type GeneFit struct {
	Gene         string
	Coefs        []Coef
	ResidVar     float64 // raw s_g^2
	ResidDF      float64
	ModeratedVar float64
	TotalDF      float64 // prior + residual df
}

// Prior is the scaled inverse-chi-squared prior fitted across genes.
type Prior struct {
	DF  float64
	Var float64
}

// Result is the full moderated-fit output. Skipped lists genes whose
// weighted design was singular; they carry no statistics but are never
// silently dropped.
type Result struct {
	Fits    []GeneFit
	Prior   Prior
	Skipped []string
}

// Options controls parallelism of the per-gene fits.
type Options struct {
	Workers int // <=0 means GOMAXPROCS
}

type geneWLS struct {
	beta    []float64 // full coefficient vector
	covDiag []float64 // diagonal of (X'WX)^-1
	s2      float64
	ok      bool
}

// Fit regresses every gene's log-abundance row on the design using the
// gene's precision weights, fits the variance prior across genes, and
// reports moderated t-statistics and two-sided p-values for every
// non-intercept coefficient.
func Fit(logAb *table.Matrix, d *design.Design, weights *table.Matrix, opt Options) (*Result, error) {
	n := logAb.NSamples()
	p := d.P()
	if d.N() != n {
		return nil, &table.AlignmentError{Msg: fmt.Sprintf("design has %d rows, matrix has %d samples", d.N(), n)}
	}
	if !weights.SameShape(logAb) {
		return nil, &table.AlignmentError{Msg: "weight matrix shape differs from abundance matrix"}
	}
	if n <= p {
		return nil, &table.DegenerateFitError{Stage: "fit", Msg: fmt.Sprintf("%d samples cannot support %d coefficients", n, p)}
	}
	residDF := float64(n - p)

	ng := logAb.NGenes()
	raw := make([]geneWLS, ng)

	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < ng; i++ {
		i := i
		g.Go(func() error {
			res, err := solveGene(logAb.Row(i), weights.Row(i), d.X, n, p)
			if err != nil {
				var rankErr *table.RankError
				if errors.As(err, &rankErr) {
					raw[i] = geneWLS{ok: false}
					return nil
				}
				return fmt.Errorf("fit gene %q: %w", logAb.Genes[i], err)
			}
			raw[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Empirical Bayes: pool residual variances across all fitted genes.
	var s2s []float64
	for i := range raw {
		if raw[i].ok {
			s2s = append(s2s, raw[i].s2)
		}
	}
	if len(s2s) == 0 {
		return nil, &table.DegenerateFitError{Stage: "fit", Msg: "no gene could be fit"}
	}
	prior, err := fitFDist(s2s, residDF)
	if err != nil {
		return nil, err
	}

	fits := make([]GeneFit, 0, ng)
	var skipped []string
	for i := 0; i < ng; i++ {
		if !raw[i].ok {
			skipped = append(skipped, logAb.Genes[i])
			continue
		}
		r := raw[i]
		modVar := (prior.DF*prior.Var + residDF*r.s2) / (prior.DF + residDF)
		totalDF := prior.DF + residDF

		gf := GeneFit{
			Gene:         logAb.Genes[i],
			ResidVar:     r.s2,
			ResidDF:      residDF,
			ModeratedVar: modVar,
			TotalDF:      totalDF,
		}
		tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: totalDF}
		for k := 1; k < p; k++ { // intercept is never reported
			se := math.Sqrt(modVar * r.covDiag[k])
			t := r.beta[k] / se
			gf.Coefs = append(gf.Coefs, Coef{
				Name:   d.Coefs[k],
				Beta:   r.beta[k],
				StdErr: se,
				T:      t,
				P:      2 * tdist.Survival(math.Abs(t)),
			})
		}
		fits = append(fits, gf)
	}

	return &Result{Fits: fits, Prior: prior, Skipped: skipped}, nil
}

// solveGene runs one weighted least-squares fit by QR on the
// sqrt(weight)-scaled system.
func solveGene(y, w []float64, x *mat.Dense, n, p int) (geneWLS, error) {
	a := mat.NewDense(n, p, nil)
	b := mat.NewDense(n, 1, nil)
	for j := 0; j < n; j++ {
		if w[j] <= 0 || math.IsNaN(w[j]) {
			return geneWLS{}, fmt.Errorf("non-positive weight at sample %d", j)
		}
		sw := math.Sqrt(w[j])
		for k := 0; k < p; k++ {
			a.Set(j, k, sw*x.At(j, k))
		}
		b.Set(j, 0, sw*y[j])
	}

	var qr mat.QR
	qr.Factorize(a)
	var r mat.Dense
	qr.RTo(&r)
	maxDiag := 0.0
	for k := 0; k < p; k++ {
		if v := math.Abs(r.At(k, k)); v > maxDiag {
			maxDiag = v
		}
	}
	for k := 0; k < p; k++ {
		if math.Abs(r.At(k, k)) <= 1e-10*maxDiag {
			return geneWLS{}, &table.RankError{}
		}
	}

	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, b); err != nil {
		return geneWLS{}, err
	}

	// Unscaled covariance diagonal from (A'A)^-1 = (X'WX)^-1.
	var xtx, inv mat.Dense
	xtx.Mul(a.T(), a)
	if err := inv.Inverse(&xtx); err != nil {
		return geneWLS{}, &table.RankError{}
	}

	res := geneWLS{
		beta:    make([]float64, p),
		covDiag: make([]float64, p),
		ok:      true,
	}
	rss := 0.0
	for j := 0; j < n; j++ {
		f := 0.0
		for k := 0; k < p; k++ {
			f += x.At(j, k) * beta.At(k, 0)
		}
		d := y[j] - f
		rss += w[j] * d * d
	}
	res.s2 = rss / float64(n-p)
	for k := 0; k < p; k++ {
		res.beta[k] = beta.At(k, 0)
		res.covDiag[k] = inv.At(k, k)
	}
	return res, nil
}
