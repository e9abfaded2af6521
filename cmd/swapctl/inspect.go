// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/hashicorp/go-multierror"
	flag "github.com/spf13/pflag"

	"github.com/siderolabs/go-swap/header"
)

func inspectCommand(env *environment) *Command {
	var pageSize int

	flags := flag.NewFlagSet("inspect", flag.ContinueOnError)
	flags.IntVarP(&pageSize, "page-size", "p", 0, "page size, detected from the signature when zero")

	return &Command{
		Flags: flags,
		Usage: "inspect [flags] <path>...",
		Short: "Print the swap headers of files or block devices",
		Exec: func(_ context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w: expected at least one path", errUsage)
			}

			return inspect(env.out, args, pageSize)
		},
	}
}

func inspect(out io.Writer, paths []string, pageSize int) error {
	var result *multierror.Error

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "PATH\tPAGESIZE\tPAGES\tBADPAGES\tLABEL\tUUID\tENDIAN")

	for _, path := range paths {
		h, err := readHeader(path, pageSize)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", path, err))

			continue
		}

		label := "-"
		if h.Label != nil {
			label = *h.Label
		}

		endian := "native"
		if h.ByteSwapped {
			endian = "swapped"
		}

		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n", path, h.PageSize, h.Pages(), len(h.BadPages), label, h.UUID, endian)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	return result.ErrorOrNil()
}

func readHeader(path string, pageSize int) (*header.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close() //nolint:errcheck

	return header.Read(f, pageSize)
}
