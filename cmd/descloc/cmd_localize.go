package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/descloc/descloc/cmd/descloc/internal"
	"github.com/descloc/descloc/internal/codebook"
	"github.com/descloc/descloc/internal/config"
	"github.com/descloc/descloc/internal/feature"
	"github.com/descloc/descloc/internal/geom"
	"github.com/descloc/descloc/internal/localize"
	"github.com/descloc/descloc/internal/pipeline"
	"github.com/descloc/descloc/internal/recon"
)

// handleLocalize implements the localize subcommand
func handleLocalize(cfg *config.Config, logger *logrus.Logger, args []string) {
	fs := flag.NewFlagSet("localize", flag.ExitOnError)
	out := fs.String("out", "", "Result file path (default: eval.output from the config, else results.txt)")
	resume := fs.Bool("resume", false, "Keep poses from an existing result file and retry the rest")
	verbose := fs.Bool("v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    descloc localize [options]

DESCRIPTION:
    Estimate a camera pose for every query image against the built
    codebook. Each pose is written as one line:

        name qw qx qy qz tx ty tz

    with the world-to-camera rotation as a quaternion. Images that
    could not be localized get a "name # reason" line instead, so the
    output always has one line per query.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    # Localize the configured query set
    descloc localize

    # Choose the output file
    descloc localize -out poses/chess.txt

    # Continue an interrupted run, keeping finished poses
    descloc localize -out poses/chess.txt -resume
`)
	}

	if err := fs.Parse(args); err != nil {
		logger.Fatalf("Failed to parse arguments: %v", err)
	}
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	outPath := resolveOutPath(*out, cfg)
	startTime := time.Now()

	_, results := runLocalization(cfg, logger, outPath, *resume)

	duration := time.Since(startTime)
	tally := pipeline.Tally(results)

	fmt.Println()
	fmt.Println("✅ Localization completed!")
	fmt.Printf("\n⏱️  Duration: %v\n", duration.Round(time.Millisecond))
	fmt.Println("\n📊 Statistics:")
	fmt.Printf("   Queries:      %6d\n", len(results))
	fmt.Printf("   Localized:    %6d\n", tally[localize.StatusPose])
	fmt.Printf("   Insufficient: %6d\n", tally[localize.StatusInsufficient])
	fmt.Printf("   Failed:       %6d\n", tally[localize.StatusFailed])
	if tally[localize.StatusSkipped] > 0 {
		fmt.Printf("   Skipped:      %6d\n", tally[localize.StatusSkipped])
	}
	fmt.Printf("\nResults written to %s\n", outPath)
}

// resolveOutPath picks the result file: flag first, then the config,
// then a plain default.
func resolveOutPath(flagValue string, cfg *config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg.Eval.Output != "" {
		return cfg.Eval.Output
	}
	return "results.txt"
}

// runLocalization wires the configured dataset, feature store, and
// codebook into a localizer and runs it over the query set, writing the
// result file. Errors exit the process. The returned results match the
// query records index for index.
func runLocalization(cfg *config.Config, logger *logrus.Logger, outPath string, resume bool) ([]recon.Record, []localize.Result) {
	ctx := context.Background()

	if cfg.Dataset.QueryIntrinsicsFile == "" {
		logger.Fatalf("dataset.query_intrinsics_file must be set to localize queries")
	}

	codebookPath := cfg.CodebookPath()
	if _, err := os.Stat(codebookPath); os.IsNotExist(err) {
		logger.Fatalf("No codebook found at %s. Run 'descloc build' first.", codebookPath)
	}

	showProgress := cfg.Runtime.Progress && pipeline.DefaultProgressEnabled()

	stopLoad := pipeline.StartSpinner(showProgress, "Loading codebook")
	cb, meta, err := codebook.Load(codebookPath)
	stopLoad()
	if err != nil {
		logger.Fatalf("Failed to load codebook: %v", err)
	}
	if meta.Fingerprint != cfg.Fingerprint().String() {
		logger.Fatalf("Codebook at %s was built with a different configuration. Run 'descloc build' to refresh it.", codebookPath)
	}

	src, err := cfg.Source()
	if err != nil {
		logger.Fatalf("Failed to open reconstruction: %v", err)
	}
	src = recon.WithOutlierFilter(src, cfg.Dataset.OutlierRadius, cfg.Dataset.OutlierMinNeighbors, logger)

	feats, err := feature.Open(cfg.Features.Path)
	if err != nil {
		logger.Fatalf("Failed to open feature store: %v", err)
	}
	defer feats.Close()

	storeMeta, err := feats.Meta()
	if err != nil {
		logger.Fatalf("Failed to read feature store meta: %v", err)
	}
	if err := internal.VerifyFeatureMeta(storeMeta, cfg); err != nil {
		logger.Fatalf("Feature store does not match config: %v", err)
	}

	stopLoad = pipeline.StartSpinner(showProgress, "Loading reconstruction")
	points, perr := src.Points(ctx)
	queries, qerr := src.QueryRecords(ctx)
	stopLoad()
	if perr != nil {
		logger.Fatalf("Failed to load 3D points: %v", perr)
	}
	if qerr != nil {
		logger.Fatalf("Failed to load query records: %v", qerr)
	}
	if len(queries) == 0 {
		logger.Fatalf("No query images in %s", cfg.Dataset.QueryIntrinsicsFile)
	}

	var trainGlobals [][]float64
	if cfg.Fusion.SnapToTrain {
		trainGlobals = loadTrainGlobals(ctx, src, feats, logger)
	}

	loc, err := localize.New(cb, points, trainGlobals, localize.Options{
		Fusion: cfg.FusionOptions(),
		Dedupe: cfg.Fusion.DedupePoints,
		Solver: cfg.SolverOptions(),
	})
	if err != nil {
		logger.Fatalf("Failed to build localizer: %v", err)
	}

	var prior map[string]*geom.Pose
	if resume {
		entries, err := localize.ReadResultFile(outPath)
		switch {
		case err == nil:
			prior = localize.Poses(entries)
			logger.Infof("Resuming: %d of %d images already localized", len(prior), len(queries))
		case os.IsNotExist(errors.Cause(err)):
			// Nothing to resume from.
		default:
			logger.Fatalf("Failed to read previous results: %v", err)
		}
	}

	fmt.Printf("📍 Localizing %d query images\n\n", len(queries))

	results, err := pipeline.LocalizeBatch(ctx, loc, queries, feats, pipeline.LocalizeOptions{
		Workers:  cfg.Runtime.Workers,
		Resume:   prior,
		Progress: pipeline.NewBarProgress(showProgress, "Localizing"),
	})
	if err != nil {
		logger.Fatalf("Localization failed: %v", err)
	}

	if err := localize.WriteResultFile(outPath, results); err != nil {
		logger.Fatalf("Failed to write results: %v", err)
	}
	return queries, results
}

// loadTrainGlobals collects the global descriptors of the training
// images, the snap targets for query globals.
func loadTrainGlobals(ctx context.Context, src recon.Source, feats *feature.Store, logger *logrus.Logger) [][]float64 {
	records, err := src.TrainingRecords(ctx)
	if err != nil {
		logger.Fatalf("Failed to load training records: %v", err)
	}
	globals := make([][]float64, 0, len(records))
	missing := 0
	for _, rec := range records {
		g, err := feats.Global(rec.Name)
		if err != nil {
			if errors.Is(err, feature.ErrNotFound) {
				missing++
				continue
			}
			logger.Fatalf("Failed to load global descriptor for %s: %v", rec.Name, err)
		}
		globals = append(globals, g)
	}
	if missing > 0 {
		logger.Warnf("%d training images have no global descriptor to snap to", missing)
	}
	if len(globals) == 0 {
		logger.Fatalf("snap_to_train is enabled but no training image has a global descriptor")
	}
	return globals
}
