package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Input loaders for the tab-delimited tables produced upstream of the
// pipeline. The count table uses the conventional Geneid-first layout:
//
//	Geneid	sampleA	sampleB	...
//	K00001	12	0	...
//
// All loaders validate identifiers eagerly so alignment problems fail at
// load time, not deep inside a numeric stage.

func newTSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// ReadCounts parses a gene x sample count matrix.
func ReadCounts(r io.Reader) (*Matrix, error) {
	cr := newTSVReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read count header: %w", err)
	}
	if len(header) < 2 {
		return nil, &AlignmentError{Msg: "count table has no sample columns"}
	}
	samples := header[1:]

	var genes []string
	var rows [][]float64
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read count row: %w", err)
		}
		if len(rec) != len(header) {
			return nil, &AlignmentError{Msg: fmt.Sprintf("count row %q has %d fields, header has %d", rec[0], len(rec), len(header))}
		}
		row := make([]float64, len(samples))
		for j, f := range rec[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("parse count for gene %q sample %q: %w", rec[0], samples[j], err)
			}
			if v < 0 {
				return nil, fmt.Errorf("negative count for gene %q sample %q", rec[0], samples[j])
			}
			row[j] = v
		}
		genes = append(genes, rec[0])
		rows = append(rows, row)
	}

	m, err := NewMatrix(genes, samples)
	if err != nil {
		return nil, err
	}
	copy(m.Data, rows)
	return m, nil
}

// ReadMetadata parses sample metadata with columns
// sample_id, health_state, reads, mean_read_length, genome_size.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	cr := newTSVReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read metadata header: %w", err)
	}
	if len(header) < 5 {
		return nil, &AlignmentError{Msg: "metadata needs sample_id, health_state, reads, mean_read_length, genome_size"}
	}

	var samples []Sample
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read metadata row: %w", err)
		}
		if len(rec) < 5 {
			return nil, &AlignmentError{Msg: fmt.Sprintf("metadata row for %q is short", rec[0])}
		}
		s := Sample{ID: rec[0], State: rec[1]}
		for i, dst := range []*float64{&s.Reads, &s.MeanReadLength, &s.GenomeSize} {
			v, err := strconv.ParseFloat(rec[2+i], 64)
			if err != nil {
				return nil, fmt.Errorf("parse metadata %q column %q: %w", rec[0], header[2+i], err)
			}
			*dst = v
		}
		samples = append(samples, s)
	}
	return NewMetadata(samples)
}

// ReadGeneLengths parses gene_id -> protein length (amino acids).
func ReadGeneLengths(r io.Reader) (GeneLengths, error) {
	cr := newTSVReader(r)
	if _, err := cr.Read(); err != nil { // header
		return nil, fmt.Errorf("read gene length header: %w", err)
	}
	gl := make(GeneLengths)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read gene length row: %w", err)
		}
		if len(rec) < 2 {
			continue
		}
		aa, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse length for gene %q: %w", rec[0], err)
		}
		gl[rec[0]] = aa
	}
	return gl, nil
}

// ReadGeneSets parses (gene_id, set_id) membership pairs.
func ReadGeneSets(r io.Reader) (*GeneSets, error) {
	cr := newTSVReader(r)
	if _, err := cr.Read(); err != nil { // header
		return nil, fmt.Errorf("read gene set header: %w", err)
	}
	gs := NewGeneSets()
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read gene set row: %w", err)
		}
		if len(rec) < 2 || rec[0] == "" || rec[1] == "" {
			continue
		}
		gs.Add(rec[0], rec[1])
	}
	return gs, nil
}

// ReadSetDescriptions parses (set_id, description) rows into an existing
// mapping.
func ReadSetDescriptions(r io.Reader, gs *GeneSets) error {
	cr := newTSVReader(r)
	if _, err := cr.Read(); err != nil { // header
		return fmt.Errorf("read set description header: %w", err)
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read set description row: %w", err)
		}
		if len(rec) < 2 {
			continue
		}
		gs.Desc[rec[0]] = rec[1]
	}
}
