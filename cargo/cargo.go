package cargo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Build finds `cargo` on the PATH and runs Build against it.
// See Command.Build.
func Build(ctx context.Context, opts *BuildOpts) ([]Message, error) {
	return Command("cargo").Build(ctx, opts)
}

// Command represents the path to a `cargo` executable.
type Command string

func (c Command) String() string {
	return string(c)
}

// BuildOpts represent flags that can be passed to `cargo build`.
type BuildOpts struct {
	ManifestPath string
	Package      string
	Target       string
	TargetDir    string
	Release      bool
	Lib          bool
	// Features are joined into a single --features flag.
	Features          []string
	AllFeatures       bool
	NoDefaultFeatures bool
	Frozen            bool
	Locked            bool
	// Env is appended to the current process's environment.
	Env []string
	// Stderr receives cargo's rendered diagnostics.
	Stderr io.Writer
}

// Message is a single JSON message emitted by `cargo build --message-format json`.
type Message struct {
	Reason    string         `json:"reason"`
	PackageID string         `json:"package_id,omitempty"`
	Target    *MessageTarget `json:"target,omitempty"`
	Filenames []string       `json:"filenames,omitempty"`
	Success   *bool          `json:"success,omitempty"`
}

type MessageTarget struct {
	Name      string   `json:"name"`
	Kind      []string `json:"kind"`
	CrateType []string `json:"crate_types"`
}

const (
	ReasonCompilerArtifact = "compiler-artifact"
	ReasonBuildFinished    = "build-finished"
)

// Build executes a command against `cargo` found at Command.
// It runs `cargo build` with flags derived from the given BuildOpts
// and returns every compiler-artifact message cargo emitted.
func (c Command) Build(ctx context.Context, opts *BuildOpts) ([]Message, error) {
	args := []string{"build", "--message-format", "json-render-diagnostics"}

	if opts == nil {
		opts = &BuildOpts{}
	}

	if opts.ManifestPath != "" {
		args = append(args, "--manifest-path", opts.ManifestPath)
	}

	if opts.Package != "" {
		args = append(args, "--package", opts.Package)
	}

	if opts.Target != "" {
		args = append(args, "--target", opts.Target)
	}

	if opts.TargetDir != "" {
		args = append(args, "--target-dir", opts.TargetDir)
	}

	if opts.Release {
		args = append(args, "--release")
	}

	if opts.Lib {
		args = append(args, "--lib")
	}

	if len(opts.Features) > 0 {
		args = append(args, "--features", strings.Join(opts.Features, ","))
	}

	if opts.AllFeatures {
		args = append(args, "--all-features")
	}

	if opts.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}

	if opts.Frozen {
		args = append(args, "--frozen")
	}

	if opts.Locked {
		args = append(args, "--locked")
	}

	var (
		stdout = new(bytes.Buffer)
		stderr = new(bytes.Buffer)
		//nolint:gosec
		cmd = exec.CommandContext(ctx, c.String(), args...)
	)

	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(stderr, opts.Stderr)
	}

	runErr := cmd.Run()

	messages, err := parseMessages(stdout)
	if err != nil {
		return nil, err
	}

	if runErr != nil {
		if msg := lastLine(stderr.String()); msg != "" {
			return messages, fmt.Errorf("%s build: %w: %s", c, runErr, msg)
		}

		return messages, fmt.Errorf("%s build: %w", c, runErr)
	}

	return messages, nil
}

func parseMessages(r io.Reader) ([]Message, error) {
	var (
		messages []Message
		scanner  = bufio.NewScanner(r)
	)

	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		msg := Message{}
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("parse cargo message: %w", err)
		}

		if msg.Reason == ReasonCompilerArtifact {
			messages = append(messages, msg)
		}
	}

	return messages, scanner.Err()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}

	return ""
}

// CDylib returns the first shared library among the artifacts of the target named name.
func CDylib(messages []Message, name string) (string, bool) {
	for _, msg := range messages {
		if msg.Target == nil || msg.Target.Name != name {
			continue
		}

		for _, filename := range msg.Filenames {
			if strings.HasSuffix(filename, ".so") {
				return filename, true
			}
		}
	}

	return "", false
}
