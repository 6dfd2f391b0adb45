package sign

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/assemble"
	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
)

const (
	MetaInf      = "META-INF/"
	ManifestName = MetaInf + "MANIFEST.MF"
	// SignatureFileName is the name the signature file is written under.
	// The signature block shares its base name.
	SignatureFileName = MetaInf + "CERT.SF"

	createdBy = "cargo-apk"
	// maxLineLen is the longest a manifest line may be, excluding its line break.
	maxLineLen = 72
)

// SignedPackage is a signed package ready to be installed.
type SignedPackage struct {
	Name        string
	Bytes       []byte
	Digest      digest.Digest
	Certificate *x509.Certificate
}

// SignatureBlockName returns the archive path of the signature block for signer.
func SignatureBlockName(signer KeySigner) string {
	return MetaInf + "CERT." + signer.Algorithm()
}

// Sign signs layout with the JAR signature scheme: every entry's SHA-256 digest
// goes into META-INF/MANIFEST.MF, the digest of each manifest section goes into
// META-INF/CERT.SF, and a detached signature over that goes into the signature
// block. The entries of layout are written unchanged. Failures are SigningErrors,
// except that a signed archive with a misaligned entry is an AssemblyError.
func Sign(ctx context.Context, layout *assemble.Layout, signer KeySigner) (*SignedPackage, error) {
	log := logr.FromContextOrDiscard(ctx)

	signed := &assemble.Layout{Alignment: layout.Alignment, PageAlignment: layout.PageAlignment}
	for _, entry := range layout.Entries {
		if isSignatureFile(entry.Name) {
			continue
		}

		signed.Entries = append(signed.Entries, entry)
	}

	manifest, sections := jarManifest(signed.Entries)

	sf := signatureFile(manifest, sections)

	block, err := signer.Sign(sf)
	if err != nil {
		return nil, apkerr.New(apkerr.Signing, fmt.Errorf("sign %s: %w", SignatureFileName, err))
	}

	for _, entry := range []assemble.Entry{
		{Name: ManifestName, Data: manifest, Method: zip.Deflate},
		{Name: SignatureFileName, Data: sf, Method: zip.Deflate},
		{Name: SignatureBlockName(signer), Data: block, Method: zip.Deflate},
	} {
		if err := signed.Add(entry); err != nil {
			return nil, apkerr.New(apkerr.Signing, err)
		}
	}

	b, err := signed.Bytes()
	if err != nil {
		return nil, err
	}

	if err := assemble.VerifyAlignment(bytes.NewReader(b), int64(len(b)), max(signed.Alignment, 1), signed.PageAlignment); err != nil {
		return nil, err
	}

	pkg := &SignedPackage{
		Bytes:       b,
		Digest:      digest.FromBytes(b),
		Certificate: signer.Certificate(),
	}

	log.V(2).Info("signed package", "entries", len(signed.Entries), "digest", pkg.Digest.String())

	return pkg, nil
}

func isSignatureFile(name string) bool {
	if !strings.HasPrefix(name, MetaInf) || strings.Contains(strings.TrimPrefix(name, MetaInf), "/") {
		return false
	}

	upper := strings.ToUpper(name)
	for _, suffix := range []string{".MF", ".SF", ".RSA", ".DSA", ".EC"} {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}

	return false
}

func base64SHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// jarManifest returns MANIFEST.MF and the bytes of each of its per-entry
// sections, in entry order.
func jarManifest(entries []assemble.Entry) ([]byte, [][]byte) {
	var (
		buf      = new(bytes.Buffer)
		sections = make([][]byte, 0, len(entries))
	)

	writeAttribute(buf, "Manifest-Version", "1.0")
	writeAttribute(buf, "Created-By", createdBy)
	buf.WriteString("\r\n")

	for _, entry := range entries {
		section := new(bytes.Buffer)
		writeAttribute(section, "Name", entry.Name)
		writeAttribute(section, "SHA-256-Digest", base64SHA256(entry.Data))
		section.WriteString("\r\n")

		sections = append(sections, section.Bytes())
		buf.Write(section.Bytes())
	}

	return buf.Bytes(), sections
}

// signatureFile returns CERT.SF for manifest and its sections.
func signatureFile(manifest []byte, sections [][]byte) []byte {
	buf := new(bytes.Buffer)

	writeAttribute(buf, "Signature-Version", "1.0")
	writeAttribute(buf, "Created-By", createdBy)
	writeAttribute(buf, "SHA-256-Digest-Manifest", base64SHA256(manifest))
	buf.WriteString("\r\n")

	for _, section := range sections {
		name := sectionName(section)
		writeAttribute(buf, "Name", name)
		writeAttribute(buf, "SHA-256-Digest", base64SHA256(section))
		buf.WriteString("\r\n")
	}

	return buf.Bytes()
}

// sectionName recovers the Name attribute of a section written by jarManifest,
// undoing line continuation.
func sectionName(section []byte) string {
	var (
		lines = strings.Split(string(section), "\r\n")
		name  = strings.TrimPrefix(lines[0], "Name: ")
	)

	for _, line := range lines[1:] {
		if !strings.HasPrefix(line, " ") {
			break
		}

		name += line[1:]
	}

	return name
}

// writeAttribute writes "key: value" followed by CRLF, continuing lines longer
// than maxLineLen bytes on following lines that begin with a single space.
func writeAttribute(buf *bytes.Buffer, key, value string) {
	line := key + ": " + value

	for first := true; ; first = false {
		limit := maxLineLen
		if !first {
			buf.WriteByte(' ')
			limit--
		}

		if len(line) <= limit {
			buf.WriteString(line)
			buf.WriteString("\r\n")
			return
		}

		buf.WriteString(line[:limit])
		buf.WriteString("\r\n")
		line = line[limit:]
	}
}
