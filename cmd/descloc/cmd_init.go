package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/descloc/descloc/internal/config"
)

// handleInit implements the init subcommand
func handleInit(configPath string, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    descloc init

DESCRIPTION:
    Write a commented config template to the config path. An existing
    file is left unchanged.

EXAMPLES:
    # Template at the default location (~/.descloc/config/descloc.yaml)
    descloc init

    # Template at a custom location
    descloc -config ./descloc.yaml init
`)
	}

	if err := fs.Parse(args); err != nil {
		logrus.Fatalf("Failed to parse arguments: %v", err)
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	created, err := config.WriteDefaultTemplate(path)
	if err != nil {
		logrus.Fatalf("Failed to write config template: %v", err)
	}
	if !created {
		fmt.Printf("Config already exists at %s, leaving it unchanged.\n", path)
		return
	}
	fmt.Printf("✅ Created config template at %s\n", path)
	fmt.Println("   Edit the dataset and feature paths, then run 'descloc build'.")
}
