package sign_test

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/frantjc/cargo-apk/android"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/assemble"
	"github.com/frantjc/cargo-apk/internal/config"
	"github.com/frantjc/cargo-apk/internal/sign"
	"github.com/frantjc/cargo-apk/keytool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
)

func testLayout(t *testing.T) *assemble.Layout {
	t.Helper()

	layout := assemble.NewLayout(4)
	for _, entry := range []assemble.Entry{
		{Name: android.AndroidManifestName, Data: []byte("<manifest/>"), Method: zip.Deflate},
		{Name: "lib/arm64/libapp.so", Data: []byte("\x7fELF arm64"), Method: zip.Store},
		{Name: "lib/x86_64/libapp.so", Data: []byte("\x7fELF x86_64 with a few more bytes"), Method: zip.Store},
		{Name: "assets/" + string(bytes.Repeat([]byte("long-directory-name/"), 5)) + "data.bin", Data: []byte("data"), Method: zip.Deflate},
	} {
		require.NoError(t, layout.Add(entry))
	}

	return layout
}

func openDebug(t *testing.T) sign.KeySigner {
	t.Helper()

	signer, err := sign.Open(context.Background(), config.SigningIdentity{Keystore: config.DebugKeystore})
	require.NoError(t, err)

	return signer
}

func openRelease(t *testing.T) sign.KeySigner {
	t.Helper()

	signer, err := sign.Open(context.Background(), config.SigningIdentity{
		Keystore:         filepath.Join("testdata", "release.p12"),
		KeystorePassword: "password",
	})
	require.NoError(t, err)

	return signer
}

func TestOpenDebug(t *testing.T) {
	signer := openDebug(t)
	assert.Equal(t, "RSA", signer.Algorithm())
	assert.Equal(t, "Android Debug", signer.Certificate().Subject.CommonName)
	assert.Equal(t, "META-INF/CERT.RSA", sign.SignatureBlockName(signer))
}

func TestOpenPKCS12(t *testing.T) {
	signer := openRelease(t)
	assert.Equal(t, "Release Test", signer.Certificate().Subject.CommonName)

	_, err := sign.Open(context.Background(), config.SigningIdentity{
		Keystore:         filepath.Join("testdata", "release.p12"),
		KeystorePassword: "wrong",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apkerr.Signing))
}

func TestOpenPEM(t *testing.T) {
	signer, err := sign.Open(context.Background(), config.SigningIdentity{
		Keystore:    filepath.Join("testdata", "release.key.pem"),
		Certificate: filepath.Join("testdata", "release.crt.pem"),
	})
	require.NoError(t, err)
	assert.Equal(t, openRelease(t).Certificate().Raw, signer.Certificate().Raw)
}

func TestOpenJKS(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}

	p12, err := filepath.Abs(filepath.Join("testdata", "release.p12"))
	require.NoError(t, err)

	script := filepath.Join(t.TempDir(), "keytool")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncp "+p12+" \"$6\"\n"), 0o755))

	signer, err := sign.Open(context.Background(), config.SigningIdentity{
		Keystore:         "release.jks",
		Alias:            "release",
		KeystorePassword: "password",
		KeyPassword:      "password",
	}, sign.WithKeytool(keytool.Command(script)))
	require.NoError(t, err)
	assert.Equal(t, "Release Test", signer.Certificate().Subject.CommonName)
}

func TestOpenErrors(t *testing.T) {
	for _, id := range []config.SigningIdentity{
		{Keystore: "missing.p12"},
		{Keystore: "keystore.unknown"},
		{Keystore: filepath.Join("testdata", "release.key.pem"), Certificate: "missing.pem"},
	} {
		_, err := sign.Open(context.Background(), id)
		assert.Equal(t, apkerr.Signing, apkerr.KindOf(err), id.Keystore)
	}
}

func TestSign(t *testing.T) {
	var (
		layout = testLayout(t)
		signer = openDebug(t)
	)

	pkg, err := sign.Sign(context.Background(), layout, signer)
	require.NoError(t, err)
	assert.Equal(t, pkg.Digest.Algorithm().FromBytes(pkg.Bytes), pkg.Digest)

	decoder := android.NewAPKDecoderFromBytes("app.apk", pkg.Bytes)
	defer decoder.Close()

	entries, err := decoder.Entries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, append(layout.Names(), sign.ManifestName, sign.SignatureFileName, "META-INF/CERT.RSA"), entries)

	for _, entry := range layout.Entries {
		b, err := decoder.ReadEntry(context.Background(), entry.Name)
		require.NoError(t, err)
		assert.Equal(t, entry.Data, b)
	}

	mf, err := decoder.ReadEntry(context.Background(), sign.ManifestName)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(mf, []byte("Manifest-Version: 1.0\r\n")))
	assert.Contains(t, string(mf), "Name: lib/arm64/libapp.so\r\nSHA-256-Digest: ")

	for _, line := range bytes.Split(mf, []byte("\r\n")) {
		assert.LessOrEqual(t, len(line), 72)
	}

	sf, err := decoder.ReadEntry(context.Background(), sign.SignatureFileName)
	require.NoError(t, err)
	assert.Contains(t, string(sf), "SHA-256-Digest-Manifest: ")

	name, block, err := decoder.SignatureBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "META-INF/CERT.RSA", name)

	p7, err := pkcs7.Parse(block)
	require.NoError(t, err)
	p7.Content = sf
	require.NoError(t, p7.Verify())

	fingerprint, err := decoder.SHA256CertFingerprints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, android.SHA256Fingerprint(signer.Certificate().Raw), fingerprint)

	require.NoError(t, assemble.VerifyAlignment(bytes.NewReader(pkg.Bytes), int64(len(pkg.Bytes)), 4, 0))
}

func TestSignKeepsPageAlignment(t *testing.T) {
	layout := testLayout(t)
	layout.PageAlignment = 4096

	pkg, err := sign.Sign(context.Background(), layout, openDebug(t))
	require.NoError(t, err)
	require.NoError(t, assemble.VerifyAlignment(bytes.NewReader(pkg.Bytes), int64(len(pkg.Bytes)), 4, 4096))
}

func TestSignDeterministic(t *testing.T) {
	a, err := sign.Sign(context.Background(), testLayout(t), openDebug(t))
	require.NoError(t, err)

	b, err := sign.Sign(context.Background(), testLayout(t), openDebug(t))
	require.NoError(t, err)

	assert.Equal(t, a.Bytes, b.Bytes)
	assert.Equal(t, a.Digest, b.Digest)

	// Signing an already signed layout replaces its signature.
	layout := testLayout(t)
	require.NoError(t, layout.Add(assemble.Entry{Name: sign.ManifestName, Data: []byte("stale")}))

	c, err := sign.Sign(context.Background(), layout, openDebug(t))
	require.NoError(t, err)
	assert.Equal(t, a.Bytes, c.Bytes)
}

func TestSignDifferentKeys(t *testing.T) {
	debug, err := sign.Sign(context.Background(), testLayout(t), openDebug(t))
	require.NoError(t, err)

	release, err := sign.Sign(context.Background(), testLayout(t), openRelease(t))
	require.NoError(t, err)

	assert.NotEqual(t, debug.Digest, release.Digest)

	var (
		debugDecoder   = android.NewAPKDecoderFromBytes("debug.apk", debug.Bytes)
		releaseDecoder = android.NewAPKDecoderFromBytes("release.apk", release.Bytes)
	)

	_, debugBlock, err := debugDecoder.SignatureBlock(context.Background())
	require.NoError(t, err)

	_, releaseBlock, err := releaseDecoder.SignatureBlock(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, debugBlock, releaseBlock)

	for _, name := range append(testLayout(t).Names(), sign.ManifestName) {
		a, err := debugDecoder.ReadEntry(context.Background(), name)
		require.NoError(t, err)

		b, err := releaseDecoder.ReadEntry(context.Background(), name)
		require.NoError(t, err)

		assert.Equal(t, a, b, name)
	}
}

type failingSigner struct {
	sign.KeySigner
}

func (failingSigner) Sign([]byte) ([]byte, error) {
	return nil, errors.New("hardware token unplugged")
}

func (failingSigner) Certificate() *x509.Certificate {
	return &x509.Certificate{}
}

func TestSignFailure(t *testing.T) {
	_, err := sign.Sign(context.Background(), testLayout(t), failingSigner{openDebug(t)})
	require.Error(t, err)
	assert.Equal(t, apkerr.Signing, apkerr.KindOf(err))
}
