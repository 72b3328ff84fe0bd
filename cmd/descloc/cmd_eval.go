package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/descloc/descloc/internal/config"
	"github.com/descloc/descloc/internal/evaluate"
	"github.com/descloc/descloc/internal/geom"
)

// handleEval implements the eval subcommand
func handleEval(cfg *config.Config, logger *logrus.Logger, args []string) {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	out := fs.String("out", "", "Result file path (default: eval.output from the config, else results.txt)")
	errorsOut := fs.String("errors-out", "", "Per-image error file (default: eval.errors_output from the config)")
	resume := fs.Bool("resume", false, "Keep poses from an existing result file and retry the rest")
	verbose := fs.Bool("v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    descloc eval [options]

DESCRIPTION:
    Localize the query set and score it against the ground-truth query
    poses: median translation and rotation error over the localized
    images, and the fraction of them inside the success thresholds.
    Images without a pose estimate count separately and never dilute
    the medians.

    The pose lines are written to the result file exactly as with
    'descloc localize'.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    # Localize and report accuracy
    descloc eval

    # Also dump per-image errors for plotting
    descloc eval -errors-out errors.txt

    # Re-score after an interrupted run
    descloc eval -resume
`)
	}

	if err := fs.Parse(args); err != nil {
		logger.Fatalf("Failed to parse arguments: %v", err)
	}
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	outPath := resolveOutPath(*out, cfg)
	errPath := *errorsOut
	if errPath == "" {
		errPath = cfg.Eval.ErrorsOutput
	}

	queries, results := runLocalization(cfg, logger, outPath, *resume)

	truth := map[string]*geom.Pose{}
	for _, q := range queries {
		if q.Pose != nil {
			truth[q.Name] = q.Pose
		}
	}
	if len(truth) == 0 {
		logger.Fatalf("No ground-truth query poses. Set dataset.query_poses_file to evaluate.")
	}

	th := evaluate.Thresholds{
		MaxTranslation: cfg.Eval.MaxTranslationError,
		MaxRotationDeg: cfg.Eval.MaxRotationError,
	}
	summary, perImage := evaluate.EvaluateResults(results, truth, th)

	fmt.Println()
	fmt.Printf("📊 Evaluation (success under %.3f m / %.1f deg)\n\n", th.MaxTranslation, th.MaxRotationDeg)
	fmt.Print(summary.Format())
	fmt.Printf("\nResults written to %s\n", outPath)

	if errPath != "" {
		if err := writeErrorFile(errPath, perImage); err != nil {
			logger.Fatalf("Failed to write per-image errors: %v", err)
		}
		fmt.Printf("Per-image errors written to %s\n", errPath)
	}
}

func writeErrorFile(path string, rows []evaluate.ImageError) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create error directory")
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create error file")
	}
	if err := evaluate.WriteErrors(f, rows); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "close error file %s", path)
}
