// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// errUsage is returned by commands called with wrong arguments.
var errUsage = errors.New("invalid usage")

// Command is a swapctl subcommand.
type Command struct {
	// Flags of the command.
	Flags *flag.FlagSet

	// Usage shown after "swapctl", the first word is the command name.
	Usage string

	// Short is a one-line description.
	Short string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, args []string) error
}

// Name returns the command name.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the line shown in the command listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-36s %s", c.Usage, c.Short)
}

func (c *Command) printHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: swapctl", c.Usage)
	fmt.Fprintln(w)
	fmt.Fprintln(w, c.Short)

	if c.Flags.HasFlags() {
		var buf strings.Builder

		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()

		fmt.Fprintln(w)
		fmt.Fprintln(w, "Flags:")
		fmt.Fprint(w, buf.String())
	}
}

// Run parses flags and executes the command, returning the exit code.
func (c *Command) Run(ctx context.Context, env *environment, args []string) int {
	c.Flags.SetOutput(io.Discard)

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.printHelp(env.out)

			return 0
		}

		fmt.Fprintln(env.errOut, "error:", err)
		c.printHelp(env.errOut)

		return 2
	}

	if err := c.Exec(ctx, c.Flags.Args()); err != nil {
		fmt.Fprintln(env.errOut, "error:", err)

		if errors.Is(err, errUsage) {
			c.printHelp(env.errOut)

			return 2
		}

		return 1
	}

	return 0
}
