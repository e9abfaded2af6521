// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

// Package main implements swapctl, a tool to create, inspect and activate swap areas.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type globalFlags struct {
	debug      bool
	configPath string
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	var global globalFlags

	flags := flag.NewFlagSet("swapctl", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.SetOutput(io.Discard)
	flags.BoolVar(&global.debug, "debug", false, "enable debug logging")
	flags.StringVarP(&global.configPath, "config", "c", "", "path to the configuration file (HuJSON)")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, flags)

			return 0
		}

		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, flags)

		return 2
	}

	if flags.NArg() == 0 {
		printUsage(errOut, flags)

		return 2
	}

	logger, err := newLogger(global.debug)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	defer logger.Sync() //nolint:errcheck

	env := &environment{
		out:    out,
		errOut: errOut,
		logger: logger,
		global: global,
	}

	name := flags.Arg(0)
	cmds := commands(env)

	idx := slices.IndexFunc(cmds, func(c *Command) bool { return c.Name() == name })
	if idx < 0 {
		fmt.Fprintf(errOut, "error: unknown command %q\n", name)
		printUsage(errOut, flags)

		return 2
	}

	return cmds[idx].Run(ctx, env, flags.Args()[1:])
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

// environment is shared by all commands.
type environment struct {
	out    io.Writer
	errOut io.Writer
	logger *zap.Logger
	global globalFlags
}

func commands(env *environment) []*Command {
	return []*Command{
		mkswapCommand(env),
		inspectCommand(env),
		runCommand(env),
	}
}

func printUsage(w io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: swapctl [global flags] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")

	for _, c := range commands(&environment{}) {
		fmt.Fprintln(w, c.HelpLine())
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global flags:")

	var buf strings.Builder

	flags.SetOutput(&buf)
	flags.PrintDefaults()
	flags.SetOutput(io.Discard)

	fmt.Fprint(w, buf.String())
}
