package keytool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ImportKeystore finds `keytool` on the PATH and runs ImportKeystore against it.
// See Command.ImportKeystore.
func ImportKeystore(ctx context.Context, opts *ImportKeystoreOpts) error {
	return Command("keytool").ImportKeystore(ctx, opts)
}

// Command represents the path to an `keytool` executable.
type Command string

func (c Command) String() string {
	return string(c)
}

// ImportKeystoreOpts represent flags that can be passed to `keytool -importkeystore`.
type ImportKeystoreOpts struct {
	SrcKeystore   string
	SrcStoreType  string
	SrcStorePass  string
	SrcAlias      string
	SrcKeyPass    string
	DestKeystore  string
	DestStorePass string
}

// ImportKeystore executes a command against `keytool` found at Command.
// It copies the entry SrcAlias out of SrcKeystore into a new PKCS#12
// keystore at DestKeystore.
func (c Command) ImportKeystore(ctx context.Context, opts *ImportKeystoreOpts) error {
	if opts == nil || opts.SrcKeystore == "" || opts.DestKeystore == "" {
		return fmt.Errorf("keytool -importkeystore requires a source and destination keystore")
	}

	args := []string{
		"-importkeystore", "-noprompt",
		"-srckeystore", opts.SrcKeystore,
		"-destkeystore", opts.DestKeystore,
		"-deststoretype", "PKCS12",
	}

	if opts.SrcStoreType != "" {
		args = append(args, "-srcstoretype", opts.SrcStoreType)
	}

	if opts.SrcStorePass != "" {
		args = append(args, "-srcstorepass", opts.SrcStorePass)
	}

	if opts.SrcAlias != "" {
		args = append(args, "-srcalias", opts.SrcAlias)
	}

	if opts.SrcKeyPass != "" {
		args = append(args, "-srckeypass", opts.SrcKeyPass)
	}

	if opts.DestStorePass != "" {
		args = append(args, "-deststorepass", opts.DestStorePass)
	}

	var (
		out = new(bytes.Buffer)
		//nolint:gosec
		cmd = exec.CommandContext(ctx, c.String(), args...)
	)

	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%s -importkeystore: %w: %s", c, err, msg)
		}

		return fmt.Errorf("%s -importkeystore: %w", c, err)
	}

	return nil
}
