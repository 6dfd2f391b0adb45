package sign

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"go.mozilla.org/pkcs7"
)

// KeySigner produces detached signature blocks over arbitrary bytes.
type KeySigner interface {
	// Sign returns a detached PKCS#7 signature block over data.
	Sign(data []byte) ([]byte, error)
	// Algorithm is the key algorithm, RSA or EC. It names the signature block file.
	Algorithm() string
	Certificate() *x509.Certificate
}

type keySigner struct {
	key       crypto.PrivateKey
	cert      *x509.Certificate
	algorithm string
}

// NewKeySigner returns a KeySigner for key and its certificate.
func NewKeySigner(key crypto.PrivateKey, cert *x509.Certificate) (KeySigner, error) {
	algorithm, err := keyAlgorithm(key)
	if err != nil {
		return nil, err
	}

	if cert == nil {
		return nil, fmt.Errorf("no certificate for %s key", algorithm)
	}

	return &keySigner{key: key, cert: cert, algorithm: algorithm}, nil
}

// Sign carries no signed attributes, so with an RSA key the same data
// always yields the same block.
func (s *keySigner) Sign(data []byte) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(data)
	if err != nil {
		return nil, err
	}

	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if _, ok := s.key.(*rsa.PrivateKey); ok {
		sd.SetEncryptionAlgorithm(pkcs7.OIDEncryptionAlgorithmRSA)
	}

	if err := sd.SignWithoutAttr(s.cert, s.key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, err
	}

	sd.Detach()

	return sd.Finish()
}

func (s *keySigner) Algorithm() string {
	return s.algorithm
}

func (s *keySigner) Certificate() *x509.Certificate {
	return s.cert
}
