package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/yumyai/metadiff/internal/config"
	"github.com/yumyai/metadiff/internal/util"
	"github.com/yumyai/metadiff/logger"
	mydb "github.com/yumyai/metadiff/pkg/db"
	"github.com/yumyai/metadiff/pkg/pipeline"
	"github.com/yumyai/metadiff/pkg/table"
	"go.uber.org/zap"
)

// envOr reads an environment variable with a fallback default.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {

	VERSION := "0.1.0"

	// Try load env
	dotenvErr := godotenv.Load()

	var (
		countsPath  = flag.String("counts", envOr("METADIFF_COUNTS", ""), "gene x sample count table (TSV, Geneid first)")
		metaPath    = flag.String("metadata", envOr("METADIFF_METADATA", ""), "sample metadata table (TSV)")
		lengthsPath = flag.String("lengths", envOr("METADIFF_LENGTHS", ""), "gene length table (TSV, amino acids)")
		setsPath    = flag.String("genesets", envOr("METADIFF_GENESETS", ""), "gene -> set mapping (TSV), optional")
		descPath    = flag.String("setdesc", envOr("METADIFF_SETDESC", ""), "set descriptions (TSV), optional")
		outDB       = flag.String("out", envOr("METADIFF_OUT", "metadiff_results.db"), "result sqlite database")
		cfgPath     = flag.String("config", envOr("METADIFF_CONFIG", ""), "pipeline config YAML, optional")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			panic(err)
		}
	}

	if err := logger.InitLogger(logger.ParseLevel(cfg.Logging.Level)); err != nil {
		panic(err)
	}

	defer logger.Sync() // Make sure that the buffered is flushed.

	if dotenvErr != nil {
		logger.Warn("No .env found, using local environment")
	}

	logger.Info("Start:", zap.String("Version", VERSION))

	if *countsPath == "" || *metaPath == "" || *lengthsPath == "" {
		logger.Error("counts, metadata and lengths tables are required")
		flag.Usage()
		os.Exit(2)
	}

	in, err := loadInputs(*countsPath, *metaPath, *lengthsPath, *setsPath, *descPath)
	if err != nil {
		logger.Error("Loading inputs failed", zap.Error(err))
		os.Exit(1)
	}

	if dir := filepath.Dir(*outDB); !util.DirExists(dir) {
		logger.Error("Output directory does not exist", zap.String("dir", dir))
		os.Exit(1)
	}
	store, err := mydb.Open(*outDB)
	if err != nil {
		logger.Error("Opening result database failed", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("Result database ready", zap.String("DB_LOC", *outDB))

	res, err := pipeline.Run(context.Background(), cfg, *in, store)
	if err != nil {
		logger.Error("Pipeline failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Run finished",
		zap.String("run_id", res.RunID),
		zap.Int("dropped_genes", len(res.Report.DroppedGenes)),
		zap.Int("skipped_genes", len(res.Report.SkippedGenes)))
}

func loadInputs(countsPath, metaPath, lengthsPath, setsPath, descPath string) (*pipeline.Inputs, error) {
	counts, err := openAnd(countsPath, table.ReadCounts)
	if err != nil {
		return nil, err
	}
	meta, err := openAnd(metaPath, table.ReadMetadata)
	if err != nil {
		return nil, err
	}
	lengths, err := openAnd(lengthsPath, table.ReadGeneLengths)
	if err != nil {
		return nil, err
	}

	in := &pipeline.Inputs{Counts: counts, Meta: meta, Lengths: lengths}

	if setsPath != "" && util.FileExists(setsPath) {
		sets, err := openAnd(setsPath, table.ReadGeneSets)
		if err != nil {
			return nil, err
		}
		if descPath != "" {
			f, err := os.Open(descPath)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			if err := table.ReadSetDescriptions(f, sets); err != nil {
				return nil, err
			}
		}
		in.Sets = sets
	}
	return in, nil
}

func openAnd[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return read(f)
}
