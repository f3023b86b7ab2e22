package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yumyai/metadiff/internal/config"
	"github.com/yumyai/metadiff/logger"
	"github.com/yumyai/metadiff/pkg/db"
	"github.com/yumyai/metadiff/pkg/table"
)

func init() {
	if err := logger.InitLogger(logger.ParseLevel("error")); err != nil {
		panic(err)
	}
}

const (
	nPerGroup  = 3
	nGenes     = 100
	nShifted   = 5
	trueShift  = 4.0 // log2 units, group A only
	noiseSD    = 0.25
	geneLenAA  = 1000 // 3 kb
	geneLenKB  = 3.0
	equivalent = 1.0
)

// syntheticInputs builds 3 samples per health state and 100 genes, the
// first nShifted of which carry a true +4 log2 shift in conditionA.
// Counts are reconstructed from the intended log2 abundances so the whole
// normalize -> fit -> fdr chain is exercised end to end.
func syntheticInputs(t *testing.T, rng *rand.Rand) Inputs {
	t.Helper()

	states := []string{"healthy", "conditionA", "conditionB"}
	prefixes := []string{"H", "A", "B"}
	var ids []string
	var samples []table.Sample
	for si, st := range states {
		for r := 1; r <= nPerGroup; r++ {
			id := fmt.Sprintf("%s%d", prefixes[si], r)
			ids = append(ids, id)
			samples = append(samples, table.Sample{
				ID: id, State: st,
				// reads * read length / genome size = 1 genome-equivalent
				Reads: 30000, MeanReadLength: 100, GenomeSize: 3000000,
			})
		}
	}
	meta, err := table.NewMetadata(samples)
	require.NoError(t, err)

	genes := make([]string, nGenes)
	lengths := make(table.GeneLengths, nGenes)
	for i := range genes {
		genes[i] = fmt.Sprintf("g%03d", i)
		lengths[genes[i]] = geneLenAA
	}

	counts, err := table.NewMatrix(genes, ids)
	require.NoError(t, err)
	for i := range genes {
		mu := 4 + 6*float64(i%10)/10
		for j, id := range ids {
			target := mu + noiseSD*rng.NormFloat64()
			s, _ := meta.Get(id)
			if i < nShifted && s.State == "conditionA" {
				target += trueShift
			}
			// invert RPKG: count = 2^target * kb * genome-equivalents
			counts.Data[i][j] = math.Round(math.Exp2(target) * geneLenKB * equivalent)
		}
	}

	sets := table.NewGeneSets()
	for i := 0; i < nShifted; i++ {
		sets.Add(genes[i], "M_SHIFT")
	}
	for i := 10; i < nGenes; i += 9 {
		sets.Add(genes[i], "M_RAND")
	}
	sets.Desc["M_SHIFT"] = "Truly shifted pathway"
	sets.Desc["M_RAND"] = "Unrelated pathway"

	return Inputs{Counts: counts, Lengths: lengths, Meta: meta, Sets: sets}
}

func TestEndToEndRecoversShiftedGenes(t *testing.T) {
	cfg := config.Default()
	seeds := []int64{1, 7, 42, 99, 123}
	falsePositives := 0
	falseB := 0

	for _, seed := range seeds {
		in := syntheticInputs(t, rand.New(rand.NewSource(seed)))

		res, err := Run(context.TODO(), cfg, in, nil)
		require.NoError(t, err, "seed %d", seed)

		require.Len(t, res.QTables, 2)
		qa, ok := res.QTables["conditionA_vs_healthy"]
		require.True(t, ok, "comparisons: %v", res.QTables)
		_, ok = res.QTables["conditionB_vs_healthy"]
		require.True(t, ok)

		// All five truly shifted genes must be called in conditionA.
		hitsA := map[string]bool{}
		for _, g := range res.Hits["conditionA_vs_healthy"] {
			hitsA[g] = true
		}
		for i := 0; i < nShifted; i++ {
			require.True(t, hitsA[fmt.Sprintf("g%03d", i)],
				"seed %d: shifted gene g%03d not recovered, pi0=%g", seed, i, qa.Pi0)
		}
		falsePositives += len(hitsA) - nShifted
		falseB += len(res.Hits["conditionB_vs_healthy"])

		// The shifted genes' q-values are among the smallest.
		qByGene := map[string]float64{}
		for i, g := range qa.Genes {
			qByGene[g] = qa.Q[i]
		}
		for i := 0; i < nShifted; i++ {
			require.LessOrEqual(t, qByGene[fmt.Sprintf("g%03d", i)], 0.05, "seed %d", seed)
		}

		// Enrichment in conditionA must flag the truly shifted pathway first.
		era := res.Enrichment["conditionA_vs_healthy"]
		require.NotEmpty(t, era, "seed %d", seed)
		require.Equal(t, "M_SHIFT", era[0].SetID, "seed %d", seed)
		require.Less(t, era[0].P, 1e-4)
		require.Equal(t, "Truly shifted pathway", era[0].Description)
		require.GreaterOrEqual(t, era[0].AdjP, era[0].P)

		require.Empty(t, res.Report.DroppedGenes)
		require.Empty(t, res.Report.SkippedGenes)
	}

	// A 4 log2-unit shift against sd 0.25 dwarfs everything else: at most
	// one false positive per simulation on average.
	require.LessOrEqual(t, falsePositives, len(seeds),
		"average false positives in conditionA above 1")
	// conditionB carries no true signal at all.
	require.LessOrEqual(t, falseB, len(seeds))
}

func TestMissingLengthIsDroppedAndReported(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	in := syntheticInputs(t, rng)
	delete(in.Lengths, "g050")
	cfg := config.Default()

	res, err := Run(context.TODO(), cfg, in, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"g050"}, res.Report.DroppedGenes)

	qa := res.QTables["conditionA_vs_healthy"]
	for _, g := range qa.Genes {
		require.NotEqual(t, "g050", g, "dropped gene leaked into results")
	}
}

func TestStrictLengthPolicyFails(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	in := syntheticInputs(t, rng)
	delete(in.Lengths, "g050")
	cfg := config.Default()
	cfg.Normalize.DropMissingLengths = false

	_, err := Run(context.TODO(), cfg, in, nil)
	require.ErrorIs(t, err, table.ErrMissingReference)
}

func TestRunPersistsResults(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	in := syntheticInputs(t, rng)
	cfg := config.Default()

	store, err := db.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer store.Close()

	res, err := Run(context.TODO(), cfg, in, store)
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
}

func TestDeterministicAcrossRuns(t *testing.T) {
	cfg := config.Default()

	a, err := Run(context.TODO(), cfg, syntheticInputs(t, rand.New(rand.NewSource(9))), nil)
	require.NoError(t, err)
	b, err := Run(context.TODO(), cfg, syntheticInputs(t, rand.New(rand.NewSource(9))), nil)
	require.NoError(t, err)

	qa, qb := a.QTables["conditionA_vs_healthy"], b.QTables["conditionA_vs_healthy"]
	require.Equal(t, qa.Genes, qb.Genes)
	for i := range qa.Q {
		require.Equal(t, qa.Q[i], qb.Q[i], "q differs at %s despite identical inputs", qa.Genes[i])
	}
	require.Equal(t, a.Prior, b.Prior)
}
