// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package main

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/siderolabs/gen/xslices"
	"github.com/siderolabs/go-pointer"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-swap/block"
	"github.com/siderolabs/go-swap/header"
)

type mkswapOptions struct {
	label    string
	uuid     string
	size     uint64
	pageSize int
	badPages []uint
}

func mkswapCommand(env *environment) *Command {
	var opts mkswapOptions

	flags := flag.NewFlagSet("mkswap", flag.ContinueOnError)
	flags.StringVarP(&opts.label, "label", "L", "", "volume label")
	flags.StringVarP(&opts.uuid, "uuid", "U", "", "UUID of the area, random by default")
	flags.Uint64VarP(&opts.size, "size", "s", 0, "size of the swap file in bytes, defaults to the current size")
	flags.IntVarP(&opts.pageSize, "page-size", "p", os.Getpagesize(), "page size")
	flags.UintSliceVar(&opts.badPages, "bad-pages", nil, "pages which must not be used")

	return &Command{
		Flags: flags,
		Usage: "mkswap [flags] <path>",
		Short: "Write a swap header to a file or a block device",
		Exec: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: expected exactly one path", errUsage)
			}

			return mkswap(env, args[0], opts)
		},
	}
}

func (opts mkswapOptions) header(size uint64) (*header.Header, error) {
	if opts.pageSize <= 0 {
		return nil, fmt.Errorf("invalid page size %d", opts.pageSize)
	}

	pages := size / uint64(opts.pageSize)
	if pages < 2 {
		return nil, fmt.Errorf("swap area too small: %d bytes", size)
	}

	for _, page := range opts.badPages {
		if page > math.MaxUint32 {
			return nil, fmt.Errorf("bad page %d out of range", page)
		}
	}

	h := &header.Header{
		PageSize: opts.pageSize,
		Version:  header.Version,
		LastPage: uint32(min(pages-1, math.MaxUint32)),
		BadPages: xslices.Map(opts.badPages, func(v uint) uint32 { return uint32(v) }),
	}

	if opts.label != "" {
		h.Label = pointer.To(opts.label)
	}

	if opts.uuid == "" {
		h.UUID = uuid.New()
	} else {
		id, err := uuid.Parse(opts.uuid)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", opts.uuid, err)
		}

		h.UUID = id
	}

	return h, nil
}

func mkswap(env *environment, path string, opts mkswapOptions) error {
	var st unix.Stat_t

	err := unix.Stat(path, &st)

	switch {
	case err == nil && st.Mode&unix.S_IFMT == unix.S_IFBLK:
		return mkswapDevice(env, path, opts)
	case err == nil && st.Mode&unix.S_IFMT != unix.S_IFREG:
		return fmt.Errorf("%s is neither a regular file nor a block device", path)
	case err == nil && opts.size == 0:
		opts.size = uint64(st.Size)
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	h, err := opts.header(opts.size)
	if err != nil {
		return err
	}

	r, err := header.Format(h)
	if err != nil {
		return err
	}

	if err = atomic.WriteFile(path, r); err != nil {
		return fmt.Errorf("failed to write swap file: %w", err)
	}

	// swap files must not be readable by others
	if err = os.Chmod(path, 0o600); err != nil {
		return err
	}

	env.logger.Info("swap file created",
		zap.String("path", path),
		zap.Uint32("last_page", h.LastPage),
		zap.Stringer("uuid", h.UUID),
	)

	return nil
}

func mkswapDevice(env *environment, path string, opts mkswapOptions) error {
	dev, err := block.NewFromPath(path, block.OpenForWrite(), block.OpenExclusive())
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	defer dev.Close() //nolint:errcheck

	size, err := dev.GetSize()
	if err != nil {
		return fmt.Errorf("failed to get size of %s: %w", path, err)
	}

	if opts.size != 0 {
		size = min(size, opts.size)
	}

	h, err := opts.header(size)
	if err != nil {
		return err
	}

	if err = header.Write(dev, h); err != nil {
		return err
	}

	if err = dev.File().Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}

	env.logger.Info("swap partition formatted",
		zap.String("path", path),
		zap.Uint32("last_page", h.LastPage),
		zap.Stringer("uuid", h.UUID),
	)

	return nil
}
