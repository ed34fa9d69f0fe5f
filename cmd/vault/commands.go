// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/DataDog/go-secure-vault/container"
)

const (
	// Default Argon2id costs for new containers: 128 MiB, 3 iterations.
	defaultMemoryCostKiB = 131072
	defaultTimeCost      = 3
)

// commonFlags are shared by every subcommand touching a container.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "path",
			Usage:    "Path to the container file",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Container password (prompted when absent)",
			Sources: cli.EnvVars("VAULT_PASSWORD"),
		},
	}
}

// password returns the container password from the flag, the environment or
// an interactive prompt.
func password(cmd *cli.Command) (string, error) {
	if pw := cmd.String("password"); pw != "" {
		return pw, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no password provided and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("unable to read password: %w", err)
	}

	return string(raw), nil
}

// unlock opens the container designated by the common flags.
func unlock(cmd *cli.Command) (*container.Session, string, error) {
	pw, err := password(cmd)
	if err != nil {
		return nil, "", err
	}

	sess, err := container.Open(cmd.String("path"), pw)
	if err != nil {
		return nil, "", err
	}

	return sess, pw, nil
}

func cmdInit() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create a new container file",
		Flags: append(commonFlags(),
			&cli.UintFlag{
				Name:  "m-cost-kib",
				Usage: "Argon2id memory cost in KiB",
				Value: defaultMemoryCostKiB,
			},
			&cli.UintFlag{
				Name:  "t-cost",
				Usage: "Argon2id time cost (iterations)",
				Value: defaultTimeCost,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pw, err := password(cmd)
			if err != nil {
				return err
			}

			path := cmd.String("path")
			if err := container.Create(path, pw, uint32(cmd.Uint("m-cost-kib")), uint32(cmd.Uint("t-cost"))); err != nil {
				return err
			}

			fmt.Printf("Created vault: %s\n", path)
			return nil
		},
	}
}

func cmdLs() *cli.Command {
	return &cli.Command{
		Name:  "ls",
		Usage: "List children of a directory id (default: root)",
		Flags: append(commonFlags(),
			&cli.UintFlag{
				Name:  "dir-id",
				Usage: "Directory id to list",
				Value: 1,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, _, err := unlock(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			rows := lo.Map(sess.ChildrenOf(uint64(cmd.Uint("dir-id"))), func(n container.Node, _ int) string {
				kind := "FILE"
				if n.Type == container.NodeTypeDir {
					kind = "DIR "
				}
				return fmt.Sprintf("%s  id=%d  parent=%d  size=%d  name=%s", kind, n.ID, n.ParentID, n.Size, n.Name)
			})
			for _, row := range rows {
				fmt.Println(row)
			}
			return nil
		},
	}
}

func cmdMkdir() *cli.Command {
	return &cli.Command{
		Name:  "mkdir",
		Usage: "Create a directory",
		Flags: append(commonFlags(),
			&cli.UintFlag{
				Name:  "parent-id",
				Usage: "Parent directory id",
				Value: 1,
			},
			&cli.StringFlag{
				Name:     "name",
				Usage:    "Directory name",
				Required: true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, pw, err := unlock(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			id, err := sess.Mkdir(uint64(cmd.Uint("parent-id")), cmd.String("name"))
			if err != nil {
				return err
			}
			if err := sess.SaveMetadata(pw); err != nil {
				return err
			}

			fmt.Printf("mkdir id=%d\n", id)
			return nil
		},
	}
}

func cmdImport() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import a host file into the container",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:     "os-path",
				Usage:    "Host file to import",
				Required: true,
			},
			&cli.UintFlag{
				Name:  "parent-id",
				Usage: "Parent directory id",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Name inside the container (default: host file name)",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, pw, err := unlock(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			id, err := sess.ImportFile(pw, cmd.String("os-path"), uint64(cmd.Uint("parent-id")), cmd.String("name"))
			if err != nil {
				return err
			}

			fmt.Printf("imported file id=%d\n", id)
			return nil
		},
	}
}

func cmdExport() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a file from the container to the host",
		Flags: append(commonFlags(),
			&cli.UintFlag{
				Name:     "file-id",
				Usage:    "File id to export",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "out-path",
				Usage:    "Host destination path",
				Required: true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, _, err := unlock(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.ExportFile(uint64(cmd.Uint("file-id")), cmd.String("out-path")); err != nil {
				return err
			}

			fmt.Println("exported")
			return nil
		},
	}
}

func cmdRename() *cli.Command {
	return &cli.Command{
		Name:  "rename",
		Usage: "Rename a node by id",
		Flags: append(commonFlags(),
			&cli.UintFlag{
				Name:     "id",
				Usage:    "Node id to rename",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "new-name",
				Usage:    "New node name",
				Required: true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, pw, err := unlock(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.Rename(uint64(cmd.Uint("id")), cmd.String("new-name")); err != nil {
				return err
			}
			if err := sess.SaveMetadata(pw); err != nil {
				return err
			}

			fmt.Println("renamed")
			return nil
		},
	}
}

func cmdRemove() *cli.Command {
	return &cli.Command{
		Name:  "rm",
		Usage: "Remove a node and all its descendants",
		Flags: append(commonFlags(),
			&cli.UintFlag{
				Name:     "id",
				Usage:    "Node id to remove",
				Required: true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, pw, err := unlock(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.RemoveSubtree(uint64(cmd.Uint("id"))); err != nil {
				return err
			}
			if err := sess.SaveMetadata(pw); err != nil {
				return err
			}

			fmt.Println("removed")
			return nil
		},
	}
}

func cmdCat() *cli.Command {
	return &cli.Command{
		Name:  "cat",
		Usage: "Print file content to stdout",
		Flags: append(commonFlags(),
			&cli.UintFlag{
				Name:     "file-id",
				Usage:    "File id to print",
				Required: true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, _, err := unlock(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			raw, err := sess.ReadFileBytes(uint64(cmd.Uint("file-id")))
			if err != nil {
				return err
			}

			_, err = os.Stdout.Write(raw)
			return err
		},
	}
}

// isMostlyText reports whether the given bytes are printable enough to be
// rendered as text in previews.
func isMostlyText(raw []byte) bool {
	if !utf8.Valid(raw) {
		return false
	}
	return !strings.ContainsRune(string(raw), 0)
}
