package fit

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/yumyai/metadiff/pkg/design"
	"github.com/yumyai/metadiff/pkg/table"
)

// twoGroupDesign builds 3 healthy + 3 conditionA samples.
func twoGroupDesign(t *testing.T) (*design.Design, []string) {
	t.Helper()
	ids := []string{"S1", "S2", "S3", "S4", "S5", "S6"}
	states := []string{"healthy", "healthy", "healthy", "conditionA", "conditionA", "conditionA"}
	var samples []table.Sample
	for i, id := range ids {
		samples = append(samples, table.Sample{ID: id, State: states[i], Reads: 1, MeanReadLength: 1, GenomeSize: 1})
	}
	md, err := table.NewMetadata(samples)
	require.NoError(t, err)
	d, err := design.Build(ids, md, "healthy")
	require.NoError(t, err)
	return d, ids
}

// groupShiftMatrix makes ng genes whose healthy mean is 2+i/10 and whose
// conditionA mean is shifted by delta[i], each group with residuals
// (-1, 0, +1) so every gene has raw residual variance exactly 1 (df 4).
func groupShiftMatrix(t *testing.T, ids []string, deltas []float64) *table.Matrix {
	t.Helper()
	genes := make([]string, len(deltas))
	for i := range genes {
		genes[i] = fmt.Sprintf("g%02d", i)
	}
	m, err := table.NewMatrix(genes, ids)
	require.NoError(t, err)
	for i, delta := range deltas {
		a := 2 + float64(i)/10
		b := a + delta
		m.Data[i] = []float64{a - 1, a, a + 1, b - 1, b, b + 1}
	}
	return m
}

func unitWeights(t *testing.T, m *table.Matrix) *table.Matrix {
	t.Helper()
	w, err := table.NewMatrix(m.Genes, m.Samples)
	require.NoError(t, err)
	for i := range w.Data {
		for j := range w.Data[i] {
			w.Data[i][j] = 1
		}
	}
	return w
}

func TestFitRecoversGroupDifference(t *testing.T) {
	d, ids := twoGroupDesign(t)
	deltas := []float64{4, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	m := groupShiftMatrix(t, ids, deltas)
	w := unitWeights(t, m)

	res, err := Fit(m, d, w, Options{})
	require.NoError(t, err)
	require.Len(t, res.Fits, 10)
	require.Empty(t, res.Skipped)

	for i, gf := range res.Fits {
		require.Len(t, gf.Coefs, 1, "intercept must not be reported")
		require.Equal(t, "conditionA", gf.Coefs[0].Name)
		require.InDelta(t, deltas[i], gf.Coefs[0].Beta, 1e-9)
		require.InDelta(t, 1.0, gf.ResidVar, 1e-9)
		require.Equal(t, 4.0, gf.ResidDF)
	}
}

func TestFitModeratedStatisticsPointPrior(t *testing.T) {
	// Every gene has identical residual variance 1, so the prior collapses
	// to a point at 1 and the moderated variance equals the raw variance.
	d, ids := twoGroupDesign(t)
	deltas := []float64{4, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	m := groupShiftMatrix(t, ids, deltas)
	w := unitWeights(t, m)

	res, err := Fit(m, d, w, Options{})
	require.NoError(t, err)
	// Point prior at the bias-corrected common variance (df = 4).
	s0 := math.Exp(math.Log(2.0) - digamma(2.0))
	require.InEpsilon(t, s0, res.Prior.Var, 1e-9)

	shifted := res.Fits[0]
	require.InEpsilon(t, s0, shifted.ModeratedVar, 1e-4)
	// Unweighted two-group design: unscaled variance of the difference
	// coefficient is 1/3 + 1/3 = 2/3, so t = 4 / sqrt(modVar * 2/3).
	wantT := 4 / math.Sqrt(shifted.ModeratedVar*2.0/3.0)
	require.InDelta(t, wantT, shifted.Coefs[0].T, 1e-9)
	require.Less(t, shifted.Coefs[0].P, 1e-4)

	null := res.Fits[1]
	require.InDelta(t, 0.0, null.Coefs[0].T, 1e-9)
	require.InDelta(t, 1.0, null.Coefs[0].P, 1e-9)
}

func TestModeratedVarianceIsConvex(t *testing.T) {
	// Heterogeneous residual variances: every moderated variance must lie
	// between the gene's raw variance and the prior variance.
	d, ids := twoGroupDesign(t)
	genes := make([]string, 30)
	for i := range genes {
		genes[i] = fmt.Sprintf("g%02d", i)
	}
	m, err := table.NewMatrix(genes, ids)
	require.NoError(t, err)
	for i := range m.Data {
		scale := math.Exp(math.Sin(float64(i * 3)))
		a := 5.0
		m.Data[i] = []float64{a - scale, a, a + scale, a - scale, a, a + scale}
	}
	w := unitWeights(t, m)

	res, err := Fit(m, d, w, Options{})
	require.NoError(t, err)
	for _, gf := range res.Fits {
		lo := math.Min(gf.ResidVar, res.Prior.Var)
		hi := math.Max(gf.ResidVar, res.Prior.Var)
		require.GreaterOrEqual(t, gf.ModeratedVar, lo-1e-12, "gene %s", gf.Gene)
		require.LessOrEqual(t, gf.ModeratedVar, hi+1e-12, "gene %s", gf.Gene)
	}
}

func TestFitSingularDesignFails(t *testing.T) {
	_, ids := twoGroupDesign(t)
	deltas := []float64{0, 0, 0, 0, 0}
	m := groupShiftMatrix(t, ids, deltas[:5])
	w := unitWeights(t, m)

	// Duplicate indicator column makes the design rank deficient for every
	// gene; nothing can be fit.
	x := mat.NewDense(6, 3, nil)
	for i := 0; i < 6; i++ {
		x.Set(i, 0, 1)
		v := 0.0
		if i >= 3 {
			v = 1
		}
		x.Set(i, 1, v)
		x.Set(i, 2, v)
	}
	bad := &design.Design{
		Samples:   ids,
		Coefs:     []string{"(Intercept)", "conditionA", "conditionA_dup"},
		Reference: "healthy",
		X:         x,
	}

	_, err := Fit(m, bad, w, Options{})
	require.ErrorIs(t, err, table.ErrDegenerateFit)
}

func TestFitWeightsChangeEstimates(t *testing.T) {
	d, ids := twoGroupDesign(t)
	m := groupShiftMatrix(t, ids, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	w := unitWeights(t, m)

	base, err := Fit(m, d, w, Options{})
	require.NoError(t, err)

	// Downweight the last replicate of each group.
	for i := range w.Data {
		w.Data[i][2] = 0.1
		w.Data[i][5] = 0.1
	}
	rew, err := Fit(m, d, w, Options{})
	require.NoError(t, err)

	require.NotEqual(t, base.Fits[0].ResidVar, rew.Fits[0].ResidVar)
}

func TestFitRejectsShapeMismatch(t *testing.T) {
	d, ids := twoGroupDesign(t)
	m := groupShiftMatrix(t, ids, []float64{0, 0, 0, 0, 0})
	other := groupShiftMatrix(t, ids, []float64{0, 0, 0})
	_, err := Fit(m, d, unitWeights(t, other), Options{})
	require.ErrorIs(t, err, table.ErrAlignment)
}
