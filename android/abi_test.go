package android_test

import (
	"bytes"
	"testing"

	"github.com/frantjc/cargo-apk/android"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupABI(t *testing.T) {
	abi, err := android.LookupABI("arm64-v8a")
	require.NoError(t, err)
	assert.Equal(t, "aarch64-linux-android", abi.Triple)

	abi, err = android.LookupABI("armv7-linux-androideabi")
	require.NoError(t, err)
	assert.Equal(t, "armeabi-v7a", abi.Name)
	assert.Equal(t, "armv7a-linux-androideabi", abi.ClangTriple)

	abi, err = android.LookupABI("arm64")
	require.NoError(t, err)
	assert.Equal(t, "lib/arm64/libapp.so", android.NativeLibrary{ABI: abi, Name: "app"}.ArchivePath())

	_, err = android.LookupABI("mips")
	assert.Error(t, err)
}

func TestABINames(t *testing.T) {
	assert.IsIncreasing(t, android.ABINames())
	assert.Contains(t, android.ABINames(), "x86_64")
}

func TestCanonicalPermission(t *testing.T) {
	for _, token := range []string{"INTERNET", "android.permission.INTERNET", " INTERNET "} {
		name, err := android.CanonicalPermission(token)
		require.NoError(t, err, token)
		assert.Equal(t, "android.permission.INTERNET", name)
	}

	_, err := android.CanonicalPermission("TELEPORT")
	assert.Error(t, err)
}

func TestAssetLinks(t *testing.T) {
	var (
		link = android.NewAssetLink("rust.example_game", "AB:CD")
		buf  = new(bytes.Buffer)
	)

	require.NoError(t, android.WriteAssetLinks(buf, link))
	assert.JSONEq(t, `[{
		"relation": ["delegate_permission/common.handle_all_urls"],
		"target": {
			"namespace": "android_app",
			"package_name": "rust.example_game",
			"sha256_cert_fingerprints": ["AB:CD"]
		}
	}]`, buf.String())
}
