package builder

import (
	"context"
	"fmt"
	"io"

	"github.com/frantjc/cargo-apk/android"
	"github.com/frantjc/cargo-apk/cargo"
	"github.com/frantjc/cargo-apk/internal/config"
	"github.com/frantjc/cargo-apk/internal/ndk"
	"github.com/go-logr/logr"
)

// Request describes the library to build for a single ABI.
type Request struct {
	ABI           android.ABI
	ManifestPath  string
	Crate         string
	Target        string
	TargetDir     string
	Release       bool
	MinSDKVersion int
	Cargo         config.CargoFlags
}

// Builder produces the shared library for a single ABI and returns its path.
type Builder interface {
	Build(ctx context.Context, req *Request) (string, error)
}

// Artifact is a shared library a Builder produced.
type Artifact struct {
	ABI  android.ABI
	Name string
	Path string
}

// Library returns where a lays inside a package.
func (a Artifact) Library() android.NativeLibrary {
	return android.NativeLibrary{ABI: a.ABI, Name: a.Name}
}

// CargoBuilder is a Builder that cross-compiles with cargo and the NDK's clang.
type CargoBuilder struct {
	Command cargo.Command
	// NDK is the root of the Android NDK.
	NDK string
	// Stderr receives cargo's diagnostics.
	Stderr io.Writer
}

func (b *CargoBuilder) Build(ctx context.Context, req *Request) (string, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("abi", req.ABI.Name)

	tc, err := ndk.NewToolchain(b.NDK, req.ABI, req.MinSDKVersion)
	if err != nil {
		return "", err
	}

	log.V(2).Info("building", "triple", req.ABI.Triple, "linker", tc.Linker)

	command := b.Command
	if command == "" {
		command = "cargo"
	}

	messages, err := command.Build(ctx, &cargo.BuildOpts{
		ManifestPath:      req.ManifestPath,
		Package:           req.Crate,
		Target:            req.ABI.Triple,
		TargetDir:         req.TargetDir,
		Release:           req.Release,
		Lib:               true,
		Features:          req.Cargo.Features,
		AllFeatures:       req.Cargo.AllFeatures,
		NoDefaultFeatures: req.Cargo.NoDefaultFeatures,
		Frozen:            req.Cargo.Frozen,
		Locked:            req.Cargo.Locked,
		Env:               tc.Env(),
		Stderr:            b.Stderr,
	})
	if err != nil {
		return "", err
	}

	lib, ok := cargo.CDylib(messages, req.Target)
	if !ok {
		return "", fmt.Errorf("cargo produced no cdylib for %s, is crate-type = [\"cdylib\"] set", req.Target)
	}

	log.V(2).Info("built", "path", lib)

	return lib, nil
}
