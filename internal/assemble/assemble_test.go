package assemble_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/frantjc/cargo-apk/android"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/assemble"
	"github.com/frantjc/cargo-apk/internal/builder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))

	return name
}

func testArtifacts(t *testing.T, tags ...string) []builder.Artifact {
	t.Helper()

	var (
		dir       = t.TempDir()
		artifacts []builder.Artifact
	)

	for _, tag := range tags {
		abi, err := android.LookupABI(tag)
		require.NoError(t, err)

		artifacts = append(artifacts, builder.Artifact{
			ABI:  abi,
			Name: "app",
			Path: writeFile(t, filepath.Join(dir, tag, "libapp.so"), "\x7fELF "+tag),
		})
	}

	return artifacts
}

func testManifest(t *testing.T, artifacts []builder.Artifact) *android.Manifest {
	t.Helper()

	var libs []android.NativeLibrary
	for _, a := range artifacts {
		libs = append(libs, a.Library())
	}

	m, err := android.Synthesize(&android.Application{
		PackageName:      "rust.app",
		Label:            "app",
		LibName:          "app",
		VersionCode:      1,
		VersionName:      "0.1.0",
		MinSDKVersion:    21,
		TargetSDKVersion: 29,
		Permissions:      []string{"android.permission.INTERNET"},
	}, libs)
	require.NoError(t, err)

	return m
}

type fakeLinker struct{}

func (fakeLinker) Link(_ context.Context, manifest []byte) (*assemble.LinkedResources, error) {
	return &assemble.LinkedResources{
		Manifest:  append([]byte("binary:"), manifest[:8]...),
		Resources: []byte("resource table"),
	}, nil
}

func TestAssemble(t *testing.T) {
	var (
		artifacts = testArtifacts(t, "x86_64", "arm64")
		assets    = t.TempDir()
	)

	writeFile(t, filepath.Join(assets, "z.txt"), "z")
	writeFile(t, filepath.Join(assets, "fonts", "a.ttf"), "font")

	layout, err := assemble.Assemble(context.Background(), testManifest(t, artifacts), artifacts, []string{assets})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"AndroidManifest.xml",
		"lib/arm64/libapp.so",
		"lib/x86_64/libapp.so",
		"assets/fonts/a.ttf",
		"assets/z.txt",
	}, layout.Names())

	lib, ok := layout.Entry("lib/arm64/libapp.so")
	require.True(t, ok)
	assert.Equal(t, uint16(zip.Store), lib.Method)
	assert.Equal(t, []byte("\x7fELF arm64"), lib.Data)

	asset, ok := layout.Entry("assets/z.txt")
	require.True(t, ok)
	assert.Equal(t, uint16(zip.Deflate), asset.Method)

	manifest, ok := layout.Entry("AndroidManifest.xml")
	require.True(t, ok)
	assert.Contains(t, string(manifest.Data), `android:name="android.permission.INTERNET"`)
}

func TestAssembleWithLinker(t *testing.T) {
	artifacts := testArtifacts(t, "x86")

	layout, err := assemble.Assemble(context.Background(), testManifest(t, artifacts), artifacts, nil, assemble.WithResourceLinker(fakeLinker{}))
	require.NoError(t, err)

	assert.Equal(t, []string{"AndroidManifest.xml", "resources.arsc", "lib/x86/libapp.so"}, layout.Names())

	manifest, _ := layout.Entry("AndroidManifest.xml")
	assert.True(t, bytes.HasPrefix(manifest.Data, []byte("binary:")))

	resources, _ := layout.Entry("resources.arsc")
	assert.Equal(t, uint16(zip.Store), resources.Method)
}

func TestAssembleDuplicateAsset(t *testing.T) {
	var (
		artifacts = testArtifacts(t, "x86")
		a         = t.TempDir()
		b         = t.TempDir()
	)

	writeFile(t, filepath.Join(a, "same.txt"), "a")
	writeFile(t, filepath.Join(b, "same.txt"), "b")

	_, err := assemble.Assemble(context.Background(), testManifest(t, artifacts), artifacts, []string{a, b})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apkerr.Assembly))
	assert.Contains(t, err.Error(), "assets/same.txt")
}

func TestAssembleUnreadableAsset(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}

	var (
		artifacts = testArtifacts(t, "x86")
		assets    = t.TempDir()
		dangling  = filepath.Join(assets, "gone.txt")
	)

	require.NoError(t, os.Symlink(filepath.Join(assets, "does-not-exist"), dangling))

	_, err := assemble.Assemble(context.Background(), testManifest(t, artifacts), artifacts, []string{assets})
	require.Error(t, err)
	assert.Equal(t, apkerr.Assembly, apkerr.KindOf(err))
	assert.Contains(t, err.Error(), dangling)
}

func TestAssembleBadAlignment(t *testing.T) {
	artifacts := testArtifacts(t, "x86")

	_, err := assemble.Assemble(context.Background(), testManifest(t, artifacts), artifacts, nil, assemble.WithAlignment(3))
	assert.Equal(t, apkerr.Assembly, apkerr.KindOf(err))
}

func TestAssemblePageAlignment(t *testing.T) {
	artifacts := testArtifacts(t, "x86")

	layout, err := assemble.Assemble(context.Background(), testManifest(t, artifacts), artifacts, nil)
	require.NoError(t, err)
	assert.Equal(t, assemble.DefaultPageAlignment, layout.PageAlignment)

	_, err = assemble.Assemble(context.Background(), testManifest(t, artifacts), artifacts, nil, assemble.WithPageAlignment(1<<16))
	assert.Equal(t, apkerr.Assembly, apkerr.KindOf(err))
}

func TestLayoutAdd(t *testing.T) {
	layout := assemble.NewLayout(4)

	require.NoError(t, layout.Add(assemble.Entry{Name: "a", Method: 99}))
	entry, ok := layout.Entry("a")
	require.True(t, ok)
	assert.Equal(t, uint16(zip.Deflate), entry.Method)

	assert.Equal(t, apkerr.Assembly, apkerr.KindOf(layout.Add(assemble.Entry{Name: "a"})))
	assert.Equal(t, apkerr.Assembly, apkerr.KindOf(layout.Add(assemble.Entry{})))

	clone := layout.Clone()
	require.NoError(t, clone.Add(assemble.Entry{Name: "b"}))
	assert.Len(t, layout.Entries, 1)
}
