package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/frantjc/cargo-apk/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFlagsCargoFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Cargo.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[package]
name = "app"
version = "0.1.0"
`), 0o644))

	var (
		f   = &buildFlags{}
		cmd = &cobra.Command{Use: "build"}
	)

	f.addFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{
		"-p", "app",
		"--features", "vulkan audio",
		"--features", "gl",
		"--no-default-features",
		"--locked",
	}))

	cfg, err := config.Load(path, f.loadOpts()...)
	require.NoError(t, err)
	assert.Equal(t, config.CargoFlags{
		Features:          []string{"vulkan", "audio", "gl"},
		NoDefaultFeatures: true,
		Locked:            true,
	}, cfg.Cargo)
}
