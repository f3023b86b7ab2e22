// Package normalize converts raw functional-gene read counts into RPKG
// (reads per kilobase of genome-equivalents) and a log2 abundance matrix
// with a single global pseudocount.
package normalize

import (
	"fmt"
	"math"

	"github.com/yumyai/metadiff/pkg/table"
)

// Options controls the missing-length policy. With DropMissingLengths the
// affected genes are excluded and recorded; otherwise normalization fails
// on the first gene without a usable length.
type Options struct {
	DropMissingLengths bool
}

// Result carries the two derived matrices, the global pseudocount and the
// exclusion record. The raw count matrix is never modified.
type Result struct {
	RPKG         *table.Matrix
	Log          *table.Matrix // log2(RPKG + Pseudocount)
	Pseudocount  float64
	DroppedGenes []string // genes excluded for missing length
}

// RPKG computes RPKG(g,s) = count / (len_aa * 3/1000) / genomeEquivalents
// for every retained gene, then derives the log2 matrix using half the
// smallest strictly-positive RPKG value as a single global pseudocount so
// log-ratios stay comparable across genes.
func RPKG(counts *table.Matrix, lengths table.GeneLengths, meta *table.Metadata, opt Options) (*Result, error) {
	// Every column needs exactly one usable metadata record up front.
	equiv := make([]float64, counts.NSamples())
	for j, id := range counts.Samples {
		s, ok := meta.Get(id)
		if !ok {
			return nil, &table.AlignmentError{Msg: fmt.Sprintf("sample %q has no metadata record", id)}
		}
		if s.GenomeEquivalents <= 0 || math.IsNaN(s.GenomeEquivalents) {
			return nil, &table.MissingReferenceError{Kind: "genome_equivalents", ID: id}
		}
		equiv[j] = s.GenomeEquivalents
	}

	var kept []string
	var dropped []string
	kb := make(map[string]float64, counts.NGenes())
	for _, g := range counts.Genes {
		l, ok := lengths.KB(g)
		if !ok {
			if !opt.DropMissingLengths {
				return nil, &table.MissingReferenceError{Kind: "gene_length", ID: g}
			}
			dropped = append(dropped, g)
			continue
		}
		kb[g] = l
		kept = append(kept, g)
	}
	if len(kept) == 0 {
		return nil, &table.DegenerateFitError{Stage: "normalize", Msg: "no gene has a usable length"}
	}

	rpkg, err := table.NewMatrix(kept, counts.Samples)
	if err != nil {
		return nil, err
	}
	minPos := math.Inf(1)
	for i, g := range kept {
		src := counts.Row(counts.GeneIndex(g))
		dst := rpkg.Row(i)
		for j, c := range src {
			v := c / kb[g] / equiv[j]
			dst[j] = v
			if v > 0 && v < minPos {
				minPos = v
			}
		}
	}
	if math.IsInf(minPos, 1) {
		return nil, &table.DegenerateFitError{Stage: "normalize", Msg: "count matrix is entirely zero"}
	}

	pseudo := minPos / 2
	logm, err := table.NewMatrix(kept, counts.Samples)
	if err != nil {
		return nil, err
	}
	for i := range rpkg.Data {
		for j, v := range rpkg.Data[i] {
			logm.Data[i][j] = math.Log2(v + pseudo)
		}
	}

	return &Result{
		RPKG:         rpkg,
		Log:          logm,
		Pseudocount:  pseudo,
		DroppedGenes: dropped,
	}, nil
}
