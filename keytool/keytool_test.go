package keytool_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/frantjc/cargo-apk/keytool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeKeytool(t *testing.T, body string) (keytool.Command, string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}

	var (
		dir    = t.TempDir()
		record = filepath.Join(dir, "args")
		script = filepath.Join(dir, "keytool")
	)

	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$@\" > "+record+"\n"+body), 0o755))

	return keytool.Command(script), record
}

func TestImportKeystore(t *testing.T) {
	cmd, record := fakeKeytool(t, "exit 0\n")

	require.NoError(t, cmd.ImportKeystore(context.Background(), &keytool.ImportKeystoreOpts{
		SrcKeystore:   "release.jks",
		SrcStoreType:  "JKS",
		SrcStorePass:  "secret",
		SrcAlias:      "release",
		DestKeystore:  "release.p12",
		DestStorePass: "secret",
	}))

	args, err := os.ReadFile(record)
	require.NoError(t, err)
	assert.Equal(t, "-importkeystore -noprompt -srckeystore release.jks -destkeystore release.p12 -deststoretype PKCS12 -srcstoretype JKS -srcstorepass secret -srcalias release -deststorepass secret\n", string(args))
}

func TestImportKeystoreFailure(t *testing.T) {
	cmd, _ := fakeKeytool(t, "echo 'keytool error: java.io.IOException: keystore password was incorrect'\nexit 1\n")

	err := cmd.ImportKeystore(context.Background(), &keytool.ImportKeystoreOpts{SrcKeystore: "a.jks", DestKeystore: "b.p12"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password was incorrect")
}
