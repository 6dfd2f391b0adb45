package assemble

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/frantjc/cargo-apk/aapt2"
	"github.com/frantjc/cargo-apk/android"
)

// AAPT2Linker is a ResourceLinker backed by `aapt2 link`.
type AAPT2Linker struct {
	Command aapt2.Command
	// AndroidJar is the platform android.jar of the compile SDK.
	AndroidJar       string
	MinSDKVersion    int
	TargetSDKVersion int
	VersionCode      int
	VersionName      string
	Debuggable       bool
}

func (l *AAPT2Linker) Link(ctx context.Context, manifest []byte) (*LinkedResources, error) {
	dir, err := os.MkdirTemp("", "cargo-apk-aapt2-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	var (
		manifestPath = filepath.Join(dir, android.AndroidManifestName)
		output       = filepath.Join(dir, "linked.apk")
	)

	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		return nil, err
	}

	command := l.Command
	if command == "" {
		command = "aapt2"
	}

	if err := command.Link(ctx, &aapt2.LinkOpts{
		Manifest:         manifestPath,
		Include:          []string{l.AndroidJar},
		Output:           output,
		MinSDKVersion:    l.MinSDKVersion,
		TargetSDKVersion: l.TargetSDKVersion,
		VersionCode:      l.VersionCode,
		VersionName:      l.VersionName,
		Debuggable:       l.Debuggable,
	}); err != nil {
		return nil, err
	}

	zr, err := zip.OpenReader(output)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	linked := &LinkedResources{}
	for _, f := range zr.File {
		var dst *[]byte
		switch f.Name {
		case android.AndroidManifestName:
			dst = &linked.Manifest
		case ResourcesName:
			dst = &linked.Resources
		default:
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, err
		}

		*dst, err = io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, err
		}
	}

	if linked.Manifest == nil {
		return nil, fmt.Errorf("%s produced no %s", command, android.AndroidManifestName)
	}

	return linked, nil
}
