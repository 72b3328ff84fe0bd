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
	"github.com/descloc/descloc/internal/pipeline"
	"github.com/descloc/descloc/internal/recon"
)

// handleBuild implements the build subcommand
func handleBuild(cfg *config.Config, logger *logrus.Logger, args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	force := fs.Bool("force", false, "Rebuild even when the codebook matches the config")
	verbose := fs.Bool("v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    descloc build [options]

DESCRIPTION:
    Build the per-point descriptor codebook from the training split.
    This will:
      1. Load the sparse reconstruction and training observations
      2. Match each observation to a detected keypoint within the
         pixel radius
      3. Fuse local and global descriptors when configured
      4. Average the descriptors of every 3D point into the codebook

    The codebook is written as a single SQLite file. When that file
    already matches the current configuration the build is skipped.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    # Build with the configured dataset
    descloc build

    # Force a rebuild
    descloc build -force
`)
	}

	if err := fs.Parse(args); err != nil {
		logger.Fatalf("Failed to parse arguments: %v", err)
	}
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	codebookPath := cfg.CodebookPath()
	fingerprint := cfg.Fingerprint().String()

	if !*force {
		meta, err := codebook.ReadMeta(codebookPath)
		switch {
		case err == nil && meta.Fingerprint == fingerprint:
			fmt.Printf("✅ Codebook is up to date: %s\n", codebookPath)
			fmt.Printf("   %d points, built %s. Use -force to rebuild.\n",
				meta.Entries, meta.BuiltAt.Format("2006-01-02 15:04:05"))
			return
		case err == nil:
			logger.Info("Configuration changed since the last build, rebuilding")
		case !os.IsNotExist(errors.Cause(err)):
			logger.Warnf("Cannot read existing codebook, rebuilding: %v", err)
		}
	}

	fmt.Printf("🏗️  Building codebook for: %s\n\n", cfg.Dataset.ID)

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

	showProgress := cfg.Runtime.Progress && pipeline.DefaultProgressEnabled()
	startTime := time.Now()

	cb, stats, err := pipeline.BuildCodebook(context.Background(), src, feats, pipeline.BuildOptions{
		Dim:          cfg.Features.LocalDim,
		Fusion:       cfg.FusionOptions(),
		MaxPixelDist: cfg.Codebook.MaxPixelDist,
		Precision:    cfg.Precision(),
		Workers:      cfg.Runtime.Workers,
		Progress:     pipeline.NewBarProgress(showProgress, "Matching observations"),
		Log:          logger,
	})
	var warn *pipeline.BuildWarning
	if errors.As(err, &warn) {
		fmt.Printf("⚠️  Warning: %v\n", warn)
	} else if err != nil {
		logger.Fatalf("Build failed: %v", err)
	}

	stop := pipeline.StartSpinner(showProgress, "Saving codebook")
	saveErr := codebook.Save(codebookPath, cb, cfg.Fingerprint())
	stop()
	if saveErr != nil {
		logger.Fatalf("Failed to save codebook: %v", saveErr)
	}

	duration := time.Since(startTime)

	fmt.Println()
	fmt.Println("✅ Codebook build completed!")
	fmt.Printf("\n⏱️  Duration: %v\n", duration.Round(time.Millisecond))
	fmt.Println("\n📊 Statistics:")
	fmt.Printf("   Images:        %6d\n", stats.Images)
	if stats.Skipped > 0 {
		fmt.Printf("   Skipped:       %6d\n", stats.Skipped)
	}
	fmt.Printf("   Points:        %6d\n", stats.Points)
	fmt.Printf("   Observations:  %6d\n", stats.Observations)
	if stats.Points > 0 {
		fmt.Printf("   Obs per point: %6.1f\n", float64(stats.Observations)/float64(stats.Points))
	}
	fmt.Printf("\nCodebook written to %s\n", codebookPath)
}
