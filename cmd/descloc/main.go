package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/descloc/descloc/cmd/descloc/internal"
	"github.com/descloc/descloc/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		internal.PrintUsage()
		os.Exit(1)
	}

	args := os.Args[1:]

	validSubcommands := map[string]bool{
		"init":     true,
		"build":    true,
		"localize": true,
		"eval":     true,
		"stats":    true,
	}

	// Find the subcommand; everything before it is a global flag,
	// everything after belongs to the subcommand.
	subcommandIndex := -1
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") && validSubcommands[arg] {
			subcommandIndex = i
			break
		}
	}

	globalFlags := args
	if subcommandIndex >= 0 {
		globalFlags = args[:subcommandIndex]
	}

	configPath := ""
	for i := 0; i < len(globalFlags); i++ {
		arg := globalFlags[i]
		switch {
		case arg == "-config" || arg == "--config":
			if i+1 < len(globalFlags) {
				configPath = globalFlags[i+1]
				i++
			}
		case arg == "-h" || arg == "-help" || arg == "--help":
			internal.PrintUsage()
			os.Exit(0)
		case arg == "-v" || arg == "-version" || arg == "--version":
			fmt.Printf("descloc version %s\n", internal.Version)
			os.Exit(0)
		case strings.HasPrefix(arg, "-"):
			fmt.Fprintf(os.Stderr, "Error: Unknown global flag: %s\n\n", arg)
			internal.PrintUsage()
			os.Exit(1)
		}
	}

	if subcommandIndex == -1 {
		fmt.Fprintf(os.Stderr, "Error: No subcommand specified\n\n")
		internal.PrintUsage()
		os.Exit(1)
	}

	subcommand := args[subcommandIndex]
	subcommandArgs := args[subcommandIndex+1:]

	// init creates the config, so it runs before loading one.
	if subcommand == "init" {
		handleInit(configPath, subcommandArgs)
		return
	}

	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		if config.IsConfigNotFound(err) {
			// A first build gets a template written for it, the way
			// init would.
			var notFoundErr *config.ConfigNotFoundError
			if subcommand == "build" && errors.As(err, &notFoundErr) {
				created, createErr := config.WriteDefaultTemplate(notFoundErr.RequestedPath)
				if createErr != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
					fmt.Fprintf(os.Stderr, "Also failed to create a config template at %s: %v\n\n", notFoundErr.RequestedPath, createErr)
					internal.PrintConfigExample()
					os.Exit(1)
				}
				if created {
					fmt.Fprintf(os.Stderr, "Created config template at %s\n", notFoundErr.RequestedPath)
				}
				fmt.Fprintln(os.Stderr, "Edit the dataset and feature paths, then rerun 'descloc build'.")
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			internal.PrintConfigExample()
			os.Exit(1)
		}
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// stats only inspects files, so it skips the log file setup.
	if subcommand == "stats" {
		handleStats(cfg, subcommandArgs)
		return
	}

	logger, err := internal.SetupLogging(subcommand, cfg.Dataset.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize log file: %v\n", err)
	}

	switch subcommand {
	case "build":
		handleBuild(cfg, logger, subcommandArgs)
	case "localize":
		handleLocalize(cfg, logger, subcommandArgs)
	case "eval":
		handleEval(cfg, logger, subcommandArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", subcommand)
		internal.PrintUsage()
		os.Exit(1)
	}
}
