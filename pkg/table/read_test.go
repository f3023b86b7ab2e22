package table

import (
	"errors"
	"strings"
	"testing"
)

func TestReadCounts(t *testing.T) {
	in := "Geneid\tS1\tS2\tS3\n" +
		"K00001\t10\t0\t5\n" +
		"K00002\t3\t7\t2\n"

	m, err := ReadCounts(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCounts: %v", err)
	}
	if m.NGenes() != 2 || m.NSamples() != 3 {
		t.Fatalf("got %dx%d, want 2x3", m.NGenes(), m.NSamples())
	}
	if m.Data[0][0] != 10 || m.Data[1][1] != 7 {
		t.Fatalf("values scrambled: %+v", m.Data)
	}
	if m.GeneIndex("K00002") != 1 || m.SampleIndex("S3") != 2 {
		t.Fatalf("index lookup broken")
	}
}

func TestReadCountsRejectsDuplicateGene(t *testing.T) {
	in := "Geneid\tS1\n" +
		"K00001\t1\n" +
		"K00001\t2\n"
	_, err := ReadCounts(strings.NewReader(in))
	if !errors.Is(err, ErrAlignment) {
		t.Fatalf("want alignment error, got %v", err)
	}
}

func TestReadCountsRejectsRaggedRow(t *testing.T) {
	in := "Geneid\tS1\tS2\n" +
		"K00001\t1\n"
	_, err := ReadCounts(strings.NewReader(in))
	if !errors.Is(err, ErrAlignment) {
		t.Fatalf("want alignment error, got %v", err)
	}
}

func TestReadMetadataComputesGenomeEquivalents(t *testing.T) {
	in := "sample_id\thealth_state\treads\tmean_read_length\tgenome_size\n" +
		"S1\thealthy\t1000000\t150\t3000000\n"
	md, err := ReadMetadata(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	s, ok := md.Get("S1")
	if !ok {
		t.Fatalf("S1 missing")
	}
	want := 1000000.0 * 150 / 3000000
	if s.GenomeEquivalents != want {
		t.Fatalf("genome equivalents = %g, want %g", s.GenomeEquivalents, want)
	}
}

func TestReadMetadataRejectsDuplicate(t *testing.T) {
	in := "sample_id\thealth_state\treads\tmean_read_length\tgenome_size\n" +
		"S1\thealthy\t1\t1\t1\n" +
		"S1\tconditionA\t1\t1\t1\n"
	_, err := ReadMetadata(strings.NewReader(in))
	if !errors.Is(err, ErrAlignment) {
		t.Fatalf("want alignment error, got %v", err)
	}
}

func TestReadGeneSetsManyToMany(t *testing.T) {
	in := "gene_id\tset_id\n" +
		"K1\tM0001\n" +
		"K1\tM0002\n" +
		"K2\tM0001\n" +
		"K1\tM0001\n" // repeated pair collapses
	gs, err := ReadGeneSets(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadGeneSets: %v", err)
	}
	if gs.NSets() != 2 {
		t.Fatalf("got %d sets, want 2", gs.NSets())
	}
	if len(gs.Members("M0001")) != 2 || len(gs.SetsOf("K1")) != 2 {
		t.Fatalf("membership wrong: %v / %v", gs.Members("M0001"), gs.SetsOf("K1"))
	}
}

func TestGeneLengthsKB(t *testing.T) {
	gl := GeneLengths{"K1": 500}
	kb, ok := gl.KB("K1")
	if !ok || kb != 1.5 {
		t.Fatalf("KB = %g, %v; want 1.5, true", kb, ok)
	}
	if _, ok := gl.KB("K2"); ok {
		t.Fatalf("unknown gene must not report a length")
	}
}
