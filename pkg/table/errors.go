package table

import (
	"errors"
	"fmt"
)

// Defining possible error
var (
	ErrAlignment        = errors.New("table alignment mismatch")
	ErrMissingReference = errors.New("missing reference data")
	ErrDegenerateFit    = errors.New("degenerate fit")
	ErrInsufficientData = errors.New("insufficient data")
	ErrRankDeficient    = errors.New("rank-deficient design")
)

// AlignmentError is raised when sample or gene identifiers cannot be
// reconciled 1:1 across tables. Always fatal, the caller must not try to
// continue with a scrambled layout.
type AlignmentError struct {
	Msg string // additional context for the error
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("alignment error: %s", e.Msg)
}

func (e *AlignmentError) Unwrap() error { return ErrAlignment }

// MissingReferenceError marks a gene length or genome-equivalent that is
// absent or unusable. Kind is "gene_length" or "genome_equivalents".
type MissingReferenceError struct {
	Kind string
	ID   string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("missing %s for %q", e.Kind, e.ID)
}

func (e *MissingReferenceError) Unwrap() error { return ErrMissingReference }

// DegenerateFitError means there is not enough variance signal to fit a
// trend or a prior for a whole stage.
type DegenerateFitError struct {
	Stage string
	Msg   string
}

func (e *DegenerateFitError) Error() string {
	return fmt.Sprintf("%s: degenerate fit: %s", e.Stage, e.Msg)
}

func (e *DegenerateFitError) Unwrap() error { return ErrDegenerateFit }

// InsufficientDataError is recoverable: the caller may fall back to a
// conservative alternative (e.g. pi0 = 1 for FDR estimation).
type InsufficientDataError struct {
	N   int
	Min int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d tests, need at least %d", e.N, e.Min)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// RankError marks a single gene whose weighted design is singular. The gene
// is skipped and recorded, the run continues for other genes.
type RankError struct {
	Gene string
}

func (e *RankError) Error() string {
	return fmt.Sprintf("design singular for gene %q", e.Gene)
}

func (e *RankError) Unwrap() error { return ErrRankDeficient }
