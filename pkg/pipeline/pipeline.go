// Package pipeline wires the stages together: normalize, design, weight,
// fit, q-values per comparison, then gene-set enrichment on the hits. It
// owns the exclusion report; nothing a stage drops goes unrecorded.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yumyai/metadiff/internal/config"
	"github.com/yumyai/metadiff/logger"
	"github.com/yumyai/metadiff/pkg/db"
	"github.com/yumyai/metadiff/pkg/design"
	"github.com/yumyai/metadiff/pkg/enrich"
	"github.com/yumyai/metadiff/pkg/fit"
	"github.com/yumyai/metadiff/pkg/normalize"
	"github.com/yumyai/metadiff/pkg/qvalue"
	"github.com/yumyai/metadiff/pkg/table"
	"github.com/yumyai/metadiff/pkg/voom"
)

// Inputs are the fully-materialized tables the pipeline consumes.
type Inputs struct {
	Counts  *table.Matrix
	Lengths table.GeneLengths
	Meta    *table.Metadata
	Sets    *table.GeneSets
}

// QTable is the per-comparison q-value table, rows aligned across the three
// slices.
type QTable struct {
	Comparison  string
	Genes       []string
	P           []float64
	Q           []float64
	Pi0         float64
	Pi0Fallback bool
}

// Report surfaces every exclusion made during the run.
type Report struct {
	DroppedGenes []string // no usable gene length
	SkippedGenes []string // singular weighted design
	Pi0Fallbacks []string // comparisons that used the conservative pi0 = 1
}

// Result collects everything a run produced.
type Result struct {
	RunID       string
	Pseudocount float64
	Prior       fit.Prior
	Fits        *fit.Result
	QTables     map[string]*QTable
	Hits        map[string][]string
	Enrichment  map[string][]enrich.SetResult
	Report      Report
}

// Run executes the whole pipeline. store may be nil to skip persistence.
func Run(ctx context.Context, cfg *config.Config, in Inputs, store *db.ResultDB) (*Result, error) {
	runID := uuid.New().String()
	log := logger.L().With(zap.String("run_id", runID))
	log.Info("Pipeline start",
		zap.Int("genes", in.Counts.NGenes()),
		zap.Int("samples", in.Counts.NSamples()))

	norm, err := normalize.RPKG(in.Counts, in.Lengths, in.Meta, normalize.Options{
		DropMissingLengths: cfg.Normalize.DropMissingLengths,
	})
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	log.Info("Normalized",
		zap.Float64("pseudocount", norm.Pseudocount),
		zap.Int("dropped_genes", len(norm.DroppedGenes)))

	des, err := design.Build(norm.Log.Samples, in.Meta, cfg.Design.Reference)
	if err != nil {
		return nil, fmt.Errorf("design: %w", err)
	}

	weights, err := voom.Weights(norm.Log, des, voom.Options{Span: cfg.Voom.Span})
	if err != nil {
		return nil, fmt.Errorf("voom: %w", err)
	}

	fits, err := fit.Fit(norm.Log, des, weights, fit.Options{})
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	log.Info("Moderated fit done",
		zap.Int("fitted_genes", len(fits.Fits)),
		zap.Int("skipped_genes", len(fits.Skipped)),
		zap.Float64("prior_df", fits.Prior.DF),
		zap.Float64("prior_var", fits.Prior.Var))

	res := &Result{
		RunID:       runID,
		Pseudocount: norm.Pseudocount,
		Prior:       fits.Prior,
		Fits:        fits,
		QTables:     make(map[string]*QTable),
		Hits:        make(map[string][]string),
		Enrichment:  make(map[string][]enrich.SetResult),
		Report: Report{
			DroppedGenes: norm.DroppedGenes,
			SkippedGenes: fits.Skipped,
		},
	}

	// Explicit grouping: comparison label -> aligned gene/p vectors. Each
	// group gets its own independent q-value estimation.
	for k := 1; k < des.P(); k++ {
		comparison := des.Comparison(des.Coefs[k])
		genes := make([]string, 0, len(fits.Fits))
		ps := make([]float64, 0, len(fits.Fits))
		for _, gf := range fits.Fits {
			genes = append(genes, gf.Gene)
			ps = append(ps, gf.Coefs[k-1].P)
		}

		qres, err := qvalue.Estimate(ps, qvalue.Options{MinTests: cfg.FDR.MinTests})
		fallback := false
		if err != nil {
			if !errors.Is(err, table.ErrInsufficientData) || !cfg.FDR.FallbackPi0 {
				return nil, fmt.Errorf("qvalue for %s: %w", comparison, err)
			}
			log.Warn("Too few tests for pi0 estimation, falling back to pi0 = 1",
				zap.String("comparison", comparison), zap.Int("tests", len(ps)))
			fallback = true
			qres, err = qvalue.Estimate(ps, qvalue.Options{FixedPi0: 1, MinTests: cfg.FDR.MinTests})
			if err != nil {
				return nil, fmt.Errorf("qvalue fallback for %s: %w", comparison, err)
			}
		}
		if fallback {
			res.Report.Pi0Fallbacks = append(res.Report.Pi0Fallbacks, comparison)
		}

		qt := &QTable{
			Comparison:  comparison,
			Genes:       genes,
			P:           ps,
			Q:           qres.Q,
			Pi0:         qres.Pi0,
			Pi0Fallback: fallback,
		}
		res.QTables[comparison] = qt

		var hits []string
		for i, q := range qt.Q {
			if q <= cfg.Enrich.QCutoff {
				hits = append(hits, qt.Genes[i])
			}
		}
		res.Hits[comparison] = hits
		log.Info("FDR estimated",
			zap.String("comparison", comparison),
			zap.Float64("pi0", qres.Pi0),
			zap.Int("hits", len(hits)))

		if len(hits) == 0 || in.Sets == nil || in.Sets.NSets() == 0 {
			continue
		}
		er, err := enrich.Test(hits, genes, in.Sets, enrich.Options{})
		if err != nil {
			return nil, fmt.Errorf("enrichment for %s: %w", comparison, err)
		}
		enrich.AdjustBH(er)
		res.Enrichment[comparison] = er
		log.Info("Enrichment tested",
			zap.String("comparison", comparison),
			zap.Int("sets", len(er)))
	}

	if store != nil {
		if err := persist(ctx, store, cfg, des, res); err != nil {
			return nil, err
		}
	}
	log.Info("Pipeline done")
	return res, nil
}

func persist(ctx context.Context, store *db.ResultDB, cfg *config.Config, des *design.Design, res *Result) error {
	snapshot, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("snapshot config: %w", err)
	}
	if err := store.CreateRun(ctx, res.RunID, des.Reference, string(snapshot)); err != nil {
		return err
	}

	for k := 1; k < des.P(); k++ {
		comparison := des.Comparison(des.Coefs[k])
		rows := make([]db.FitRow, 0, len(res.Fits.Fits))
		for _, gf := range res.Fits.Fits {
			c := gf.Coefs[k-1]
			rows = append(rows, db.FitRow{
				Gene:    gf.Gene,
				Beta:    c.Beta,
				StdErr:  c.StdErr,
				T:       c.T,
				P:       c.P,
				ResidDF: gf.ResidDF,
				TotalDF: gf.TotalDF,
			})
		}
		if err := store.SaveFits(ctx, res.RunID, comparison, rows); err != nil {
			return err
		}

		qt := res.QTables[comparison]
		qrows := make([]db.QRow, len(qt.Genes))
		for i := range qt.Genes {
			qrows[i] = db.QRow{Gene: qt.Genes[i], P: qt.P[i], Q: qt.Q[i]}
		}
		if err := store.SaveQValues(ctx, res.RunID, comparison, qt.Pi0, qrows); err != nil {
			return err
		}

		if er, ok := res.Enrichment[comparison]; ok {
			if err := store.SaveEnrichment(ctx, res.RunID, comparison, er); err != nil {
				return err
			}
		}
	}
	return nil
}
