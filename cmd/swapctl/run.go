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
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/siderolabs/go-swap/swap"
)

type runOptions struct {
	priority    int
	discard     bool
	metricsAddr string
	shutdown    time.Duration
}

func runCommand(env *environment) *Command {
	var opts runOptions

	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.IntVar(&opts.priority, "priority", -1, "priority of the areas given as arguments, negative for automatic")
	flags.BoolVar(&opts.discard, "discard", false, "discard the areas given as arguments")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.DurationVar(&opts.shutdown, "shutdown-timeout", time.Minute, "time allowed to drain the areas on exit")

	return &Command{
		Flags: flags,
		Usage: "run [flags] [path]...",
		Short: "Activate swap areas and keep them active until interrupted",
		Exec: func(ctx context.Context, args []string) error {
			cfg := Config{}

			if env.global.configPath != "" {
				var err error

				if cfg, err = loadConfig(env.global.configPath); err != nil {
					return err
				}
			}

			for _, path := range args {
				area := AreaConfig{Path: path, Discard: opts.discard}

				if opts.priority >= 0 {
					area.Priority = &opts.priority
				}

				cfg.Areas = append(cfg.Areas, area)
			}

			if opts.metricsAddr != "" {
				cfg.MetricsAddr = opts.metricsAddr
			}

			if len(cfg.Areas) == 0 {
				return fmt.Errorf("%w: no swap areas configured", errUsage)
			}

			return serve(ctx, env, cfg, opts.shutdown)
		},
	}
}

func serve(ctx context.Context, env *environment, cfg Config, shutdownTimeout time.Duration) (err error) {
	r := swap.NewRegistry(append(cfg.registryOptions(), swap.WithLogger(env.logger))...)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err = multierror.Append(err, r.Shutdown(shutdownCtx)).ErrorOrNil()
	}()

	for _, area := range cfg.Areas {
		if _, err = r.Swapon(ctx, area.Path, area.options()...); err != nil {
			return fmt.Errorf("failed to activate %s: %w", area.Path, err)
		}
	}

	if err = printStatus(env.out, r.Status()); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(r)

		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				env.logger.Error("metrics server failed", zap.Error(serveErr))
			}
		}()

		defer srv.Close() //nolint:errcheck
	}

	<-ctx.Done()

	env.logger.Info("deactivating swap areas")

	return nil
}

func printStatus(out io.Writer, status []swap.AreaStatus) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "NAME\tTYPE\tSIZE\tUSED\tPRIO\tFLAGS")

	for _, st := range status {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", st.Path, st.Kind, st.Size*st.PageSize, st.Used*st.PageSize, st.Priority, st.Flags)
	}

	return w.Flush()
}
