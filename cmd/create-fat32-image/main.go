/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/mmorawiec/create-fat32-image/internal/builder"
	"github.com/mmorawiec/create-fat32-image/internal/preflight"
)

// Version information - set via ldflags at build time
// Example: go build -ldflags "-X main.version=1.0.0 -X main.gitCommit=$(git rev-parse HEAD)"
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	// Run preflight checks early to fail fast
	if err := preflight.Check(); err != nil {
		fmt.Fprintf(os.Stderr, "preflight check failed: %v\n", err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:    "create-fat32-image",
		Usage:   "Build a partitioned FAT32 disk image from an archive or directory",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "archive",
				Aliases: []string{"a"},
				Usage:   "Path to a source archive (tar, optionally compressed, or zip)",
				EnvVars: []string{"FAT32_IMAGE_ARCHIVE"},
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Path to a source directory",
				EnvVars: []string{"FAT32_IMAGE_DIR"},
			},
			&cli.StringFlag{
				Name:    "output-dir",
				Aliases: []string{"o"},
				Usage:   "Directory to write the image into",
				Value:   ".",
				EnvVars: []string{"FAT32_IMAGE_OUTPUT_DIR"},
			},
			&cli.StringFlag{
				Name:    "label",
				Usage:   "Volume label for the FAT32 filesystem (max 11 characters, derived from the source name when empty)",
				EnvVars: []string{"FAT32_IMAGE_LABEL"},
			},
			&cli.BoolFlag{
				Name:    "overwrite",
				Usage:   "Replace the output image if it already exists",
				EnvVars: []string{"FAT32_IMAGE_OVERWRITE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	// Builds are not interruptible midway: a partially torn down loop
	// device or mount is worse than a slow exit, so no signal handling.
	ctx := context.Background()

	if err := log.SetLevel(cliCtx.String("log-level")); err != nil {
		return err
	}

	req, err := builder.NewRequest(
		cliCtx.String("archive"),
		cliCtx.String("dir"),
		cliCtx.String("output-dir"),
	)
	if err != nil {
		return err
	}
	req.VolumeLabel = cliCtx.String("label")
	req.Overwrite = cliCtx.Bool("overwrite")

	res, err := builder.New().Build(ctx, req)
	if err != nil {
		return err
	}

	log.G(ctx).WithFields(log.Fields{
		"size":     res.SizeBytes,
		"content":  res.ContentBytes,
		"duration": res.Duration.String(),
	}).Info("image build complete")
	fmt.Println(res.ImagePath)
	return nil
}
