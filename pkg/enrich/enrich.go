// Package enrich tests predefined gene sets for over-representation among
// significant hits with a two-sided Fisher exact test (exact hypergeometric
// tail summation; expected cell counts are frequently small, so a
// chi-squared approximation is not acceptable here).
//
// Test reports raw p-values only. Correcting across sets is the caller's
// required follow-up; AdjustBH is provided for that purpose.
package enrich

import (
	"fmt"
	"runtime"
	"sort"

	fet "github.com/glycerine/golang-fisher-exact"
	"golang.org/x/sync/errgroup"

	"github.com/yumyai/metadiff/pkg/table"
)

// SetResult is one tested set. BackgroundOnlyInSet counts set members in
// the background that are not hits. AdjP is zero until AdjustBH runs.
type SetResult struct {
	SetID               string
	Description         string
	HitsInSet           int
	BackgroundOnlyInSet int
	SetSize             int // members present in the background
	P                   float64
	AdjP                float64
}

// Options controls parallelism of the per-set tests.
type Options struct {
	Workers int // <=0 means GOMAXPROCS
}

// Test computes the over-representation p-value for every set with at least
// one member in the background universe. hits must be a subset of
// background. Sets with no member in the background carry an undefined test
// and are skipped. Output is sorted by p-value then set id, so results are
// deterministic regardless of worker scheduling.
func Test(hits, background []string, sets *table.GeneSets, opt Options) ([]SetResult, error) {
	bg := make(map[string]bool, len(background))
	for _, g := range background {
		if bg[g] {
			return nil, &table.AlignmentError{Msg: fmt.Sprintf("duplicate gene %q in background", g)}
		}
		bg[g] = true
	}
	hit := make(map[string]bool, len(hits))
	for _, g := range hits {
		if !bg[g] {
			return nil, &table.AlignmentError{Msg: fmt.Sprintf("hit %q is not in the background universe", g)}
		}
		if hit[g] {
			return nil, &table.AlignmentError{Msg: fmt.Sprintf("duplicate gene %q in hit list", g)}
		}
		hit[g] = true
	}

	setIDs := sets.Sets()
	sort.Strings(setIDs)

	nBG := len(background)
	nHits := len(hits)
	results := make([]*SetResult, len(setIDs))

	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, setID := range setIDs {
		i, setID := i, setID
		g.Go(func() error {
			inBG, inHits := 0, 0
			for _, gene := range sets.Members(setID) {
				if !bg[gene] {
					continue
				}
				inBG++
				if hit[gene] {
					inHits++
				}
			}
			if inBG == 0 {
				return nil // undefined test, skip
			}
			// 2x2 table: rows hit / background-only, columns in-set / not.
			n11 := inHits
			n12 := nHits - inHits
			n21 := inBG - inHits
			n22 := (nBG - nHits) - n21
			_, _, _, twop := fet.FisherExactTest(n11, n12, n21, n22)
			results[i] = &SetResult{
				SetID:               setID,
				Description:         sets.Description(setID),
				HitsInSet:           inHits,
				BackgroundOnlyInSet: n21,
				SetSize:             inBG,
				P:                   twop,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]SetResult, 0, len(setIDs))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].P != out[b].P {
			return out[a].P < out[b].P
		}
		return out[a].SetID < out[b].SetID
	})
	return out, nil
}

// AdjustBH fills AdjP with Benjamini-Hochberg adjusted values across the
// tested sets, the documented follow-up to Test.
func AdjustBH(results []SetResult) {
	n := len(results)
	if n == 0 {
		return
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return results[order[a]].P < results[order[b]].P })

	running := 1.0
	for i := n - 1; i >= 0; i-- {
		idx := order[i]
		v := results[idx].P * float64(n) / float64(i+1)
		if v < running {
			running = v
		}
		results[idx].AdjP = running
	}
}
