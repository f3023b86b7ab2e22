package table

import "fmt"

// Sample is one metadata record. GenomeEquivalents is derived once at
// construction (reads * mean read length / genome size) and read-only after.
type Sample struct {
	ID                string
	State             string // categorical health-state label
	Reads             float64
	MeanReadLength    float64
	GenomeSize        float64
	GenomeEquivalents float64
}

// Metadata holds one record per sample, keyed by sample id.
type Metadata struct {
	Samples []Sample
	byID    map[string]int
}

// NewMetadata validates the records and computes genome-equivalents.
// A sample with a non-positive read count, read length or genome size gets
// genome-equivalents of zero; the normalizer rejects such samples when they
// are actually used.
func NewMetadata(samples []Sample) (*Metadata, error) {
	md := &Metadata{
		Samples: samples,
		byID:    make(map[string]int, len(samples)),
	}
	for i := range md.Samples {
		s := &md.Samples[i]
		if s.ID == "" {
			return nil, &AlignmentError{Msg: "metadata record with empty sample id"}
		}
		if _, dup := md.byID[s.ID]; dup {
			return nil, &AlignmentError{Msg: fmt.Sprintf("duplicate metadata record for sample %q", s.ID)}
		}
		md.byID[s.ID] = i
		if s.Reads > 0 && s.MeanReadLength > 0 && s.GenomeSize > 0 {
			s.GenomeEquivalents = s.Reads * s.MeanReadLength / s.GenomeSize
		}
	}
	return md, nil
}

// Get returns the record for a sample id.
func (md *Metadata) Get(id string) (Sample, bool) {
	i, ok := md.byID[id]
	if !ok {
		return Sample{}, false
	}
	return md.Samples[i], true
}

// Len reports the number of metadata records.
func (md *Metadata) Len() int { return len(md.Samples) }

// GeneLengths maps gene id to estimated protein length in amino acids.
type GeneLengths map[string]float64

// KB converts a protein length to nucleotide kilobases (aa * 3 / 1000).
func (gl GeneLengths) KB(gene string) (float64, bool) {
	aa, ok := gl[gene]
	if !ok || aa <= 0 {
		return 0, false
	}
	return aa * 3.0 / 1000.0, true
}
