package internal

import (
	"fmt"
	"os"
)

const Version = "0.4.1"

// PrintUsage writes the top-level help text to stderr.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `descloc - Visual localization from per-point descriptor codebooks

Version: %s

USAGE:
    descloc [global options] <command> [command options]

GLOBAL OPTIONS:
    -config <path>
        Path to config file (default: ~/.descloc/config/descloc.yaml)

    -v, -version
        Show version information

    -h, -help
        Show this help message

COMMANDS:
    init
        Write a commented config template

    build
        Build the descriptor codebook from the training reconstruction

    localize
        Estimate camera poses for the query images

    eval
        Localize the query set and score it against ground truth

    stats
        Show codebook and feature store statistics

EXAMPLES:
    # Create a config template, then edit the dataset paths
    descloc init

    # Build the codebook
    descloc build

    # Rebuild even when the configuration is unchanged
    descloc build -force

    # Localize queries, writing one pose line per image
    descloc localize -out results.txt

    # Continue an interrupted run
    descloc localize -out results.txt -resume

    # Report median errors and the success rate
    descloc eval

    # Inspect a built codebook
    descloc stats

For detailed help on each command, use:
    descloc <command> -help
`, Version)
}
