package sign

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/config"
	"github.com/frantjc/cargo-apk/keytool"
	"github.com/go-logr/logr"
	"software.sslmate.com/src/go-pkcs12"
)

var (
	//go:embed debug.pem
	debugPEM []byte
)

type OpenOpts struct {
	Keytool keytool.Command
}

type OpenOpt func(*OpenOpts)

func WithKeytool(command keytool.Command) OpenOpt {
	return func(o *OpenOpts) {
		o.Keytool = command
	}
}

// Open loads the key and certificate that id refers to. Every failure is a SigningError.
func Open(ctx context.Context, id config.SigningIdentity, opts ...OpenOpt) (KeySigner, error) {
	o := &OpenOpts{Keytool: "keytool"}
	for _, opt := range opts {
		opt(o)
	}

	signer, err := open(ctx, id, o)
	if err != nil {
		return nil, apkerr.New(apkerr.Signing, err)
	}

	logr.FromContextOrDiscard(ctx).V(2).Info("opened signing identity", "keystore", id.Keystore, "subject", signer.Certificate().Subject.String())

	return signer, nil
}

func open(ctx context.Context, id config.SigningIdentity, o *OpenOpts) (KeySigner, error) {
	if id.IsDebug() {
		return parsePEM(debugPEM)
	}

	switch ext := strings.ToLower(filepath.Ext(id.Keystore)); ext {
	case ".p12", ".pfx":
		pfx, err := os.ReadFile(id.Keystore)
		if err != nil {
			return nil, err
		}

		return decodePKCS12(pfx, id.KeystorePassword)
	case ".jks", ".keystore":
		dir, err := os.MkdirTemp("", "cargo-apk-keystore-*")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)

		p12 := filepath.Join(dir, "keystore.p12")
		if err := o.Keytool.ImportKeystore(ctx, &keytool.ImportKeystoreOpts{
			SrcKeystore:   id.Keystore,
			SrcStoreType:  "JKS",
			SrcStorePass:  id.KeystorePassword,
			SrcAlias:      id.Alias,
			SrcKeyPass:    id.KeyPassword,
			DestKeystore:  p12,
			DestStorePass: id.KeystorePassword,
		}); err != nil {
			return nil, err
		}

		pfx, err := os.ReadFile(p12)
		if err != nil {
			return nil, err
		}

		return decodePKCS12(pfx, id.KeystorePassword)
	case ".pem", ".key":
		key, err := os.ReadFile(id.Keystore)
		if err != nil {
			return nil, err
		}

		cert, err := os.ReadFile(id.Certificate)
		if err != nil {
			return nil, err
		}

		return parsePEM(append(append(key, '\n'), cert...))
	default:
		return nil, fmt.Errorf("unsupported keystore %s", id.Keystore)
	}
}

func decodePKCS12(pfx []byte, password string) (KeySigner, error) {
	key, cert, _, err := pkcs12.DecodeChain(pfx, password)
	if err != nil {
		return nil, fmt.Errorf("decode keystore: %w", err)
	}

	return NewKeySigner(key, cert)
}

// parsePEM finds a private key and a certificate among the blocks in b.
func parsePEM(b []byte) (KeySigner, error) {
	var (
		key  crypto.PrivateKey
		cert *x509.Certificate
	)

	for block, rest := pem.Decode(b); block != nil; block, rest = pem.Decode(rest) {
		var err error
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		case "EC PRIVATE KEY":
			key, err = x509.ParseECPrivateKey(block.Bytes)
		case "PRIVATE KEY":
			key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		case "CERTIFICATE":
			if cert == nil {
				cert, err = x509.ParseCertificate(block.Bytes)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", strings.ToLower(block.Type), err)
		}
	}

	if key == nil {
		return nil, fmt.Errorf("no private key found")
	} else if cert == nil {
		return nil, fmt.Errorf("no certificate found")
	}

	return NewKeySigner(key, cert)
}

func keyAlgorithm(key crypto.PrivateKey) (string, error) {
	switch key.(type) {
	case *rsa.PrivateKey:
		return "RSA", nil
	case *ecdsa.PrivateKey:
		return "EC", nil
	}

	return "", fmt.Errorf("unsupported private key type %T", key)
}
