// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/go-swap/header"
	"github.com/siderolabs/go-swap/swap"
)

const testPageSize = 4096

func mkswapFile(t *testing.T, args ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "swapfile")

	var out, errOut bytes.Buffer

	args = append([]string{"mkswap", "--page-size", strconv.Itoa(testPageSize)}, append(args, path)...)

	require.Equal(t, 0, run(context.Background(), args, &out, &errOut), errOut.String())

	return path
}

func TestMkswapInspect(t *testing.T) {
	path := mkswapFile(t,
		"--size", strconv.Itoa(64*testPageSize),
		"-L", "scratch",
		"-U", "c0a8b3f2-49f5-4b38-9a1f-7a2d2c4f5e61",
		"--bad-pages", "3,7",
	)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 64*testPageSize, st.Size())
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	f, err := os.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { f.Close() }) //nolint:errcheck

	h, err := header.Read(f, testPageSize)
	require.NoError(t, err)

	require.NotNil(t, h.Label)
	assert.Equal(t, "scratch", *h.Label)
	assert.EqualValues(t, 63, h.LastPage)
	assert.Equal(t, []uint32{3, 7}, h.BadPages)
	assert.Equal(t, "c0a8b3f2-49f5-4b38-9a1f-7a2d2c4f5e61", h.UUID.String())

	var out, errOut bytes.Buffer

	require.Equal(t, 0, run(context.Background(), []string{"inspect", path}, &out, &errOut), errOut.String())

	assert.Contains(t, out.String(), path)
	assert.Contains(t, out.String(), "scratch")
	assert.Contains(t, out.String(), "c0a8b3f2-49f5-4b38-9a1f-7a2d2c4f5e61")
}

func TestMkswapExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapfile")
	require.NoError(t, os.WriteFile(path, make([]byte, 16*testPageSize), 0o644))

	var out, errOut bytes.Buffer

	require.Equal(t, 0, run(context.Background(),
		[]string{"mkswap", "--page-size", strconv.Itoa(testPageSize), path}, &out, &errOut), errOut.String())

	f, err := os.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { f.Close() }) //nolint:errcheck

	h, err := header.Read(f, 0)
	require.NoError(t, err)

	assert.EqualValues(t, 15, h.LastPage)
	assert.Nil(t, h.Label)
}

func TestMkswapBadPageRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapfile")

	var out, errOut bytes.Buffer

	// 1<<32 + 3 would wrap to page 3, 32-bit platforms already reject it while parsing flags
	assert.NotZero(t, run(context.Background(), []string{
		"mkswap", "--page-size", strconv.Itoa(testPageSize), "--size", strconv.Itoa(64 * testPageSize),
		"--bad-pages", "4294967299", path,
	}, &out, &errOut))

	assert.Contains(t, errOut.String(), "4294967299")

	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	h, err := mkswapOptions{pageSize: testPageSize, badPages: []uint{3}}.header(64 * testPageSize)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3}, h.BadPages)
}

func TestInspectErrors(t *testing.T) {
	good := mkswapFile(t, "--size", strconv.Itoa(16*testPageSize))

	bad := filepath.Join(t.TempDir(), "bad")
	require.NoError(t, os.WriteFile(bad, make([]byte, 2*testPageSize), 0o600))

	var out, errOut bytes.Buffer

	assert.Equal(t, 1, run(context.Background(), []string{"inspect", good, bad}, &out, &errOut))

	assert.Contains(t, out.String(), good)
	assert.Contains(t, errOut.String(), bad)
}

func TestUsage(t *testing.T) {
	for _, test := range []struct {
		name string
		args []string
		code int
	}{
		{name: "no command", args: nil, code: 2},
		{name: "unknown command", args: []string{"frobnicate"}, code: 2},
		{name: "global help", args: []string{"--help"}, code: 0},
		{name: "command help", args: []string{"mkswap", "--help"}, code: 0},
		{name: "unknown flag", args: []string{"inspect", "--frobnicate"}, code: 2},
		{name: "mkswap without path", args: []string{"mkswap"}, code: 2},
		{name: "inspect without path", args: []string{"inspect"}, code: 2},
		{name: "run without areas", args: []string{"run"}, code: 2},
		{name: "mkswap too small", args: []string{"mkswap", "--size", "4096", filepath.Join(t.TempDir(), "small")}, code: 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			var out, errOut bytes.Buffer

			assert.Equal(t, test.code, run(context.Background(), test.args, &out, &errOut))
		})
	}
}

// cancelWriter cancels the serve context once the status table is printed.
type cancelWriter struct {
	bytes.Buffer

	cancel context.CancelFunc
}

func (w *cancelWriter) Write(p []byte) (int, error) {
	defer w.cancel()

	return w.Buffer.Write(p)
}

func TestServe(t *testing.T) {
	path := mkswapFile(t, "--size", strconv.Itoa(128*testPageSize))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	out := &cancelWriter{cancel: cancel}

	env := &environment{
		out:    out,
		errOut: &bytes.Buffer{},
		logger: zaptest.NewLogger(t),
	}

	prio := 3

	cfg := Config{
		Areas:    []AreaConfig{{Path: path, Priority: &prio}},
		PageSize: testPageSize,
	}

	require.NoError(t, serve(ctx, env, cfg, time.Minute))

	assert.Contains(t, out.String(), path)
	assert.Contains(t, out.String(), "file")
}

func TestServeActivationFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")

	env := &environment{
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
		logger: zaptest.NewLogger(t),
	}

	err := serve(context.Background(), env, Config{Areas: []AreaConfig{{Path: missing}}, PageSize: testPageSize}, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), missing)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]byte(`{
		// primary swap
		"areas": [
			{"path": "/var/swap", "priority": 10, "discard": true,},
			{"path": "/dev/zram0",},
		],
		"metrics_addr": ":9100",
		"drain_pass_limit": 4,
	}`))
	require.NoError(t, err)

	require.Len(t, cfg.Areas, 2)
	assert.Equal(t, "/var/swap", cfg.Areas[0].Path)
	require.NotNil(t, cfg.Areas[0].Priority)
	assert.Equal(t, 10, *cfg.Areas[0].Priority)
	assert.True(t, cfg.Areas[0].Discard)
	assert.Len(t, cfg.Areas[0].options(), 2)

	assert.Nil(t, cfg.Areas[1].Priority)
	assert.Empty(t, cfg.Areas[1].options())

	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, 4, cfg.DrainPassLimit)
	assert.Len(t, cfg.registryOptions(), 2)
}

func TestParseConfigErrors(t *testing.T) {
	for _, test := range []struct {
		name   string
		config string
		target error
	}{
		{name: "syntax", config: `{"areas": [`},
		{name: "missing path", config: `{"areas": [{"priority": 1}]}`},
		{name: "negative priority", config: `{"areas": [{"path": "/swap", "priority": -2}]}`, target: swap.ErrInvalidPriority},
		{name: "priority too large", config: `{"areas": [{"path": "/swap", "priority": 40000}]}`, target: swap.ErrInvalidPriority},
		{name: "negative pass limit", config: `{"drain_pass_limit": -1}`},
		{name: "wrong type", config: `{"areas": {"path": "/swap"}}`},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := parseConfig([]byte(test.config))
			require.Error(t, err)

			if test.target != nil {
				assert.ErrorIs(t, err, test.target)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.hujson"))
	assert.ErrorIs(t, err, errConfigRead)

	path := filepath.Join(t.TempDir(), "swapctl.hujson")
	require.NoError(t, os.WriteFile(path, []byte(`{"areas": [{"path": ""}]}`), 0o600))

	_, err = loadConfig(path)
	assert.ErrorIs(t, err, errConfigInvalid)
}
