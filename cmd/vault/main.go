// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command vault is the command line front-end of the encrypted container. It
// is a thin wrapper over the container API; every subcommand opens the vault,
// performs one operation and exits.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	securevault "github.com/DataDog/go-secure-vault"
	"github.com/DataDog/go-secure-vault/log"
)

func main() {
	log.SetFactory(log.NewSlogFactory(os.Stderr))

	cmd := &cli.Command{
		Name:  "vault",
		Usage: "Single-file encrypted container",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				securevault.SetDevMode()
				log.SetThreshold(log.DebugLevel)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmdInit(),
			cmdLs(),
			cmdMkdir(),
			cmdImport(),
			cmdExport(),
			cmdRename(),
			cmdRemove(),
			cmdCat(),
			cmdBrowse(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "vault:", err)
		os.Exit(1)
	}
}
