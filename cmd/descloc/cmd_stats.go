package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/descloc/descloc/internal/codebook"
	"github.com/descloc/descloc/internal/config"
	"github.com/descloc/descloc/internal/feature"
)

// handleStats implements the stats subcommand
func handleStats(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	var jsonOutput bool
	fs.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    descloc stats [options]

DESCRIPTION:
    Show statistics for the built codebook and the feature store.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    # Human-readable statistics
    descloc stats

    # JSON output for scripting
    descloc stats -json
`)
	}

	if err := fs.Parse(args); err != nil {
		logrus.Fatalf("Failed to parse arguments: %v", err)
	}

	path := cfg.CodebookPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logrus.Fatalf("No codebook found at %s. Run 'descloc build' first.", path)
	}
	meta, err := codebook.ReadMeta(path)
	if err != nil {
		logrus.Fatalf("Failed to read codebook: %v", err)
	}
	counts, err := codebook.ObservationCounts(path)
	if err != nil {
		logrus.Fatalf("Failed to read observation counts: %v", err)
	}
	hist := bucketObservations(counts)

	// The feature store section is best effort; stats still work when
	// the store has moved.
	imageCount := -1
	var storeMeta map[string]string
	if feats, err := feature.Open(cfg.Features.Path); err == nil {
		if names, err := feats.Images(); err == nil {
			imageCount = len(names)
		}
		storeMeta, _ = feats.Meta()
		feats.Close()
	}

	meanObs := 0.0
	if meta.Entries > 0 {
		meanObs = float64(meta.Observations) / float64(meta.Entries)
	}

	if jsonOutput {
		histJSON := map[string]int{}
		for i, b := range observationBuckets {
			histJSON[b.label] = hist[i]
		}
		stats := map[string]interface{}{
			"path":                  path,
			"points":                meta.Entries,
			"dim":                   meta.Dim,
			"precision":             string(meta.Precision),
			"observations":          meta.Observations,
			"observation_histogram": histJSON,
			"built_at":              meta.BuiltAt.Format(time.RFC3339),
			"fingerprint":           meta.Fingerprint,
		}
		if imageCount >= 0 {
			stats["feature_images"] = imageCount
		}
		jsonData, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	fmt.Println("📊 Codebook Statistics")
	fmt.Println()
	fmt.Printf("Points:        %6d\n", meta.Entries)
	fmt.Printf("Dim:           %6d\n", meta.Dim)
	fmt.Printf("Precision:     %6s\n", meta.Precision)
	fmt.Printf("Observations:  %6d\n", meta.Observations)
	fmt.Printf("Obs per point: %6.1f\n", meanObs)
	fmt.Printf("Built:         %s\n", meta.BuiltAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("File:          %s\n", path)
	fmt.Printf("Fingerprint:   %s\n", meta.Fingerprint)

	fmt.Println()
	fmt.Println("Observations per point")
	for i, b := range observationBuckets {
		fmt.Printf("  %-5s %6d\n", b.label, hist[i])
	}

	if imageCount >= 0 {
		fmt.Println()
		fmt.Println("🖼  Feature Store")
		fmt.Println()
		fmt.Printf("Images:        %6d\n", imageCount)
		if m := storeMeta[feature.MetaLocalModel]; m != "" {
			fmt.Printf("Local model:   %s:%s\n", m, storeMeta[feature.MetaLocalDim])
		}
		if m := storeMeta[feature.MetaGlobalModel]; m != "" {
			fmt.Printf("Global model:  %s:%s\n", m, storeMeta[feature.MetaGlobalDim])
		}
	}
}

// observationBuckets are the fixed histogram edges for the per-point
// observation counts. Fixed edges keep reports comparable across scenes.
var observationBuckets = []struct {
	label string
	max   int64
}{
	{"1", 1},
	{"2-4", 4},
	{"5-9", 9},
	{"10-24", 24},
	{"25+", 1<<63 - 1},
}

func bucketObservations(counts []int64) []int {
	hist := make([]int, len(observationBuckets))
	for _, n := range counts {
		for i, b := range observationBuckets {
			if n <= b.max {
				hist[i]++
				break
			}
		}
	}
	return hist
}
