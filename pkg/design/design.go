// Package design builds the numeric design matrix encoding health-state
// membership per sample. Row order is always re-derived by joining sample
// metadata against the abundance matrix's own column identifiers, never
// taken from an externally-maintained parallel ordering.
package design

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/yumyai/metadiff/pkg/table"
)

// Design is an n x p matrix with an intercept column and one 0/1 indicator
// per non-reference health state. Coefs[0] is always the intercept.
type Design struct {
	Samples   []string
	Coefs     []string
	Reference string
	X         *mat.Dense
}

// Build joins the ordered sample identifiers (the abundance matrix column
// order) with metadata and emits the design matrix. reference is the
// unaffected level all coefficients are contrasted against; the remaining
// levels appear in order of first occurrence.
func Build(sampleIDs []string, meta *table.Metadata, reference string) (*Design, error) {
	if len(sampleIDs) == 0 {
		return nil, &table.AlignmentError{Msg: "no samples to build a design for"}
	}
	if reference == "" {
		return nil, fmt.Errorf("design: reference level must be set")
	}

	seen := make(map[string]bool, len(sampleIDs))
	states := make([]string, len(sampleIDs))
	levelIdx := make(map[string]int)
	var levels []string
	refSeen := false
	for i, id := range sampleIDs {
		if seen[id] {
			return nil, &table.AlignmentError{Msg: fmt.Sprintf("duplicate sample id %q", id)}
		}
		seen[id] = true
		s, ok := meta.Get(id)
		if !ok {
			return nil, &table.AlignmentError{Msg: fmt.Sprintf("sample %q has no metadata record", id)}
		}
		if s.State == "" {
			return nil, &table.AlignmentError{Msg: fmt.Sprintf("sample %q has no health-state label", id)}
		}
		states[i] = s.State
		if s.State == reference {
			refSeen = true
			continue
		}
		if _, ok := levelIdx[s.State]; !ok {
			levelIdx[s.State] = len(levels)
			levels = append(levels, s.State)
		}
	}
	if !refSeen {
		return nil, &table.AlignmentError{Msg: fmt.Sprintf("reference level %q has no samples", reference)}
	}

	n := len(sampleIDs)
	p := 1 + len(levels)
	x := mat.NewDense(n, p, nil)
	for i := range sampleIDs {
		x.Set(i, 0, 1)
		if states[i] == reference {
			continue
		}
		x.Set(i, 1+levelIdx[states[i]], 1)
	}

	coefs := make([]string, 0, p)
	coefs = append(coefs, "(Intercept)")
	coefs = append(coefs, levels...)

	return &Design{
		Samples:   append([]string(nil), sampleIDs...),
		Coefs:     coefs,
		Reference: reference,
		X:         x,
	}, nil
}

// N reports the number of samples (rows).
func (d *Design) N() int { return len(d.Samples) }

// P reports the number of coefficients (columns).
func (d *Design) P() int { return len(d.Coefs) }

// Comparison names the contrast a non-intercept coefficient tests,
// e.g. "conditionA_vs_healthy".
func (d *Design) Comparison(coef string) string {
	return fmt.Sprintf("%s_vs_%s", coef, d.Reference)
}
