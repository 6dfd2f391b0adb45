package aapt2

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Link finds `aapt2` on the PATH and runs Link against it.
// See Command.Link.
func Link(ctx context.Context, opts *LinkOpts) error {
	return Command("aapt2").Link(ctx, opts)
}

// Command represents the path to an `aapt2` executable.
type Command string

func (c Command) String() string {
	return string(c)
}

// LinkOpts represent flags that can be passed to `aapt2 link`.
type LinkOpts struct {
	Manifest         string
	Include          []string
	Output           string
	MinSDKVersion    int
	TargetSDKVersion int
	VersionCode      int
	VersionName      string
	Debuggable       bool
}

// Link executes a command against `aapt2` found at Command.
// It runs `aapt2 link` with flags derived from the given LinkOpts,
// producing a package at opts.Output that holds the compiled manifest
// and resource table.
func (c Command) Link(ctx context.Context, opts *LinkOpts) error {
	if opts == nil || opts.Manifest == "" || opts.Output == "" {
		return fmt.Errorf("aapt2 link requires a manifest and an output")
	}

	args := []string{"link", "--manifest", opts.Manifest, "-o", opts.Output}

	for _, include := range opts.Include {
		args = append(args, "-I", include)
	}

	if opts.MinSDKVersion > 0 {
		args = append(args, "--min-sdk-version", strconv.Itoa(opts.MinSDKVersion))
	}

	if opts.TargetSDKVersion > 0 {
		args = append(args, "--target-sdk-version", strconv.Itoa(opts.TargetSDKVersion))
	}

	if opts.VersionCode > 0 {
		args = append(args, "--version-code", strconv.Itoa(opts.VersionCode))
	}

	if opts.VersionName != "" {
		args = append(args, "--version-name", opts.VersionName)
	}

	if opts.Debuggable {
		args = append(args, "--debug-mode")
	}

	var (
		stderr = new(bytes.Buffer)
		//nolint:gosec
		cmd = exec.CommandContext(ctx, c.String(), args...)
	)

	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s link: %w: %s", c, err, msg)
		}

		return fmt.Errorf("%s link: %w", c, err)
	}

	return nil
}
