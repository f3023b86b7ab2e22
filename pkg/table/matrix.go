package table

import "fmt"

// Matrix is a dense gene x sample abundance table. Rows are genes, columns
// are samples. Identifiers are unique within their axis.
type Matrix struct {
	Genes   []string
	Samples []string
	Data    [][]float64 // len(Genes) rows, each len(Samples)

	geneIdx   map[string]int
	sampleIdx map[string]int
}

// NewMatrix allocates a zeroed matrix for the given identifiers. Duplicate
// identifiers on either axis are an alignment error.
func NewMatrix(genes, samples []string) (*Matrix, error) {
	m := &Matrix{
		Genes:     genes,
		Samples:   samples,
		Data:      make([][]float64, len(genes)),
		geneIdx:   make(map[string]int, len(genes)),
		sampleIdx: make(map[string]int, len(samples)),
	}
	for i, g := range genes {
		if _, dup := m.geneIdx[g]; dup {
			return nil, &AlignmentError{Msg: fmt.Sprintf("duplicate gene id %q", g)}
		}
		m.geneIdx[g] = i
		m.Data[i] = make([]float64, len(samples))
	}
	for j, s := range samples {
		if _, dup := m.sampleIdx[s]; dup {
			return nil, &AlignmentError{Msg: fmt.Sprintf("duplicate sample id %q", s)}
		}
		m.sampleIdx[s] = j
	}
	return m, nil
}

func (m *Matrix) NGenes() int   { return len(m.Genes) }
func (m *Matrix) NSamples() int { return len(m.Samples) }

// Row returns the abundance row for gene index i.
func (m *Matrix) Row(i int) []float64 { return m.Data[i] }

// GeneIndex reports the row of a gene id, or -1 if absent.
func (m *Matrix) GeneIndex(id string) int {
	if i, ok := m.geneIdx[id]; ok {
		return i
	}
	return -1
}

// SampleIndex reports the column of a sample id, or -1 if absent.
func (m *Matrix) SampleIndex(id string) int {
	if j, ok := m.sampleIdx[id]; ok {
		return j
	}
	return -1
}

// SameShape reports whether o has identical gene and sample identifiers in
// identical order.
func (m *Matrix) SameShape(o *Matrix) bool {
	if len(m.Genes) != len(o.Genes) || len(m.Samples) != len(o.Samples) {
		return false
	}
	for i := range m.Genes {
		if m.Genes[i] != o.Genes[i] {
			return false
		}
	}
	for j := range m.Samples {
		if m.Samples[j] != o.Samples[j] {
			return false
		}
	}
	return true
}
