package android

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	xslice "github.com/frantjc/x/slice"
	"go.mozilla.org/pkcs7"
)

// MetaInf is the directory that holds a package's JAR signature files.
const MetaInf = "META-INF/"

// APKDecoder reads back a package produced by this module.
type APKDecoder struct {
	Name string

	readerAt io.ReaderAt
	size     int64
	zr       *zip.Reader
	closer   io.Closer
	manifest *Manifest
}

type APKDecoderOpt func(*APKDecoder)

// WithReaderAt makes the APKDecoder read the package from r instead of
// opening the file at Name.
func WithReaderAt(r io.ReaderAt, size int64) APKDecoderOpt {
	return func(a *APKDecoder) {
		a.readerAt = r
		a.size = size
	}
}

func NewAPKDecoder(name string, opts ...APKDecoderOpt) *APKDecoder {
	ad := &APKDecoder{Name: name}

	for _, opt := range opts {
		opt(ad)
	}

	return ad
}

// NewAPKDecoderFromBytes is a convenience for decoding a package held in memory.
func NewAPKDecoderFromBytes(name string, b []byte) *APKDecoder {
	return NewAPKDecoder(name, WithReaderAt(bytes.NewReader(b), int64(len(b))))
}

func (a *APKDecoder) decode(_ context.Context) error {
	if a.zr != nil {
		return nil
	}

	if a.readerAt != nil {
		zr, err := zip.NewReader(a.readerAt, a.size)
		if err != nil {
			return fmt.Errorf("read %s: %w", a.Name, err)
		}

		a.zr = zr
		return nil
	}

	rc, err := zip.OpenReader(a.Name)
	if err != nil {
		return err
	}

	a.zr = &rc.Reader
	a.closer = rc

	return nil
}

// Entries returns the archive paths in the package in archive order.
func (a *APKDecoder) Entries(ctx context.Context) ([]string, error) {
	if err := a.decode(ctx); err != nil {
		return nil, err
	}

	return xslice.Map(a.zr.File, func(f *zip.File, _ int) string {
		return f.Name
	}), nil
}

// ReadEntry returns the uncompressed content of the entry at name.
func (a *APKDecoder) ReadEntry(ctx context.Context, name string) ([]byte, error) {
	if err := a.decode(ctx); err != nil {
		return nil, err
	}

	f, err := a.zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// Manifest decodes the package's AndroidManifest.xml. It only understands
// the textual form; a manifest that was compiled to binary XML is an error.
func (a *APKDecoder) Manifest(ctx context.Context) (*Manifest, error) {
	if a.manifest != nil {
		return a.manifest, nil
	}

	b, err := a.ReadEntry(ctx, AndroidManifestName)
	if err != nil {
		return nil, err
	}

	if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("<")) {
		return nil, fmt.Errorf("%s is not textual XML", AndroidManifestName)
	}

	manifest := &Manifest{}
	if err := xml.NewDecoder(bytes.NewReader(b)).Decode(manifest); err != nil {
		return nil, err
	}

	a.manifest = manifest

	return a.manifest, nil
}

// SignatureBlock returns the name and content of the package's v1 signature block.
func (a *APKDecoder) SignatureBlock(ctx context.Context) (string, []byte, error) {
	entries, err := a.Entries(ctx)
	if err != nil {
		return "", nil, err
	}

	name := xslice.Find(entries, func(entry string, _ int) bool {
		return path.Dir(entry)+"/" == MetaInf && xslice.Includes([]string{".RSA", ".EC", ".DSA"}, path.Ext(entry))
	})
	if name == "" {
		return "", nil, fmt.Errorf("no signature block in %s", a.Name)
	}

	b, err := a.ReadEntry(ctx, name)
	if err != nil {
		return "", nil, err
	}

	return name, b, nil
}

// SHA256CertFingerprints returns the SHA-256 fingerprint of the signing certificate
// formatted the way keytool prints it, e.g. "AB:CD:...".
func (a *APKDecoder) SHA256CertFingerprints(ctx context.Context) (string, error) {
	_, block, err := a.SignatureBlock(ctx)
	if err != nil {
		return "", err
	}

	p7, err := pkcs7.Parse(block)
	if err != nil {
		return "", err
	}

	if len(p7.Certificates) == 0 {
		return "", fmt.Errorf("sha256 cert fingerprints not found")
	}

	return SHA256Fingerprint(p7.Certificates[0].Raw), nil
}

// SHA256Fingerprint formats the SHA-256 digest of der as colon-separated uppercase hex.
func SHA256Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}

	return strings.Join(parts, ":")
}

func (a *APKDecoder) Close() error {
	a.zr = nil
	a.manifest = nil

	if a.closer != nil {
		err := a.closer.Close()
		a.closer = nil
		return err
	}

	return nil
}
