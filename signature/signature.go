// Package signature verifies image data against the cryptographic
// signature an image carries in its properties.
package signature

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"hash"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	// Register the hash implementations the hash methods name.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Image property names describing a signature.
const (
	PropSignature       = "img_signature"
	PropHashMethod      = "img_signature_hash_method"
	PropCertificateUUID = "img_signature_certificate_uuid"
	PropKeyType         = "img_signature_key_type"
)

const (
	keyTypeRSAPSS    = "RSA-PSS"
	keyTypeDSA       = "DSA"
	eccKeyTypePrefix = "ECC_"
)

// ErrMismatch means the image data does not match its signature.
var ErrMismatch = errors.New("image data does not match its signature")

// InvalidSignatureError is returned for a signature description that
// cannot be verified as it stands, as opposed to data failing the check.
type InvalidSignatureError struct {
	msg string
}

func (err InvalidSignatureError) Error() string {
	return err.msg
}

func newInvalidSignatureError(format string, args ...interface{}) InvalidSignatureError {
	return InvalidSignatureError{msg: fmt.Sprintf(format, args...)}
}

var hashMethods = map[string]crypto.Hash{
	"SHA-224": crypto.SHA224,
	"SHA-256": crypto.SHA256,
	"SHA-384": crypto.SHA384,
	"SHA-512": crypto.SHA512,
}

// Properties is the signature description an image carries in its
// free-form properties.
type Properties struct {
	Signature       string
	HashMethod      string
	CertificateUUID string
	KeyType         string
}

// PropertiesFrom reads the signature description out of an image's
// properties. All four properties must be present.
func PropertiesFrom(props map[string]interface{}) (Properties, error) {
	p := Properties{
		Signature:       stringProp(props, PropSignature),
		HashMethod:      stringProp(props, PropHashMethod),
		CertificateUUID: stringProp(props, PropCertificateUUID),
		KeyType:         stringProp(props, PropKeyType),
	}
	return p, p.validate()
}

func stringProp(props map[string]interface{}, name string) string {
	s, _ := props[name].(string)
	return s
}

func (p Properties) validate() error {
	var missing []string
	if p.Signature == "" {
		missing = append(missing, PropSignature)
	}
	if p.HashMethod == "" {
		missing = append(missing, PropHashMethod)
	}
	if p.CertificateUUID == "" {
		missing = append(missing, PropCertificateUUID)
	}
	if p.KeyType == "" {
		missing = append(missing, PropKeyType)
	}
	if len(missing) > 0 {
		return newInvalidSignatureError("cannot verify image signature, missing properties: %s", strings.Join(missing, ", "))
	}
	return nil
}

// CertificateSource resolves the certificate references images carry in
// their signature properties.
type CertificateSource interface {
	Certificate(ref string) (*x509.Certificate, error)
}

// DirectorySource is a CertificateSource reading PEM certificates from a
// directory, one "<reference>.pem" file per certificate.
type DirectorySource struct {
	dir string
}

// NewDirectorySource returns a DirectorySource rooted at dir.
func NewDirectorySource(dir string) *DirectorySource {
	return &DirectorySource{dir: dir}
}

// Certificate loads and parses the certificate stored for ref.
func (s *DirectorySource) Certificate(ref string) (*x509.Certificate, error) {
	// ref comes from image properties; keep it from escaping the directory
	if ref == "" || ref != filepath.Base(ref) {
		return nil, newInvalidSignatureError("invalid signature certificate reference %q", ref)
	}
	path := filepath.Join(s.dir, ref+".pem")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading signature certificate %s", ref)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, newInvalidSignatureError("no PEM data in signature certificate file %s", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing signature certificate %s", ref)
	}
	return cert, nil
}

// Verifier accumulates image data and checks it against the image's
// signature. It is an io.Writer; feed it the exact bytes being stored.
type Verifier struct {
	digest hash.Hash
	check  func(digest []byte) error
}

// NewVerifier builds a Verifier from an image's signature description,
// resolving the signing certificate through certs.
func NewVerifier(props Properties, certs CertificateSource) (*Verifier, error) {
	if err := props.validate(); err != nil {
		return nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(props.Signature)
	if err != nil {
		return nil, newInvalidSignatureError("decoding image signature: %v", err)
	}
	hashAlg, ok := hashMethods[props.HashMethod]
	if !ok {
		return nil, newInvalidSignatureError("invalid signature hash method: %s", props.HashMethod)
	}
	cert, err := certs.Certificate(props.CertificateUUID)
	if err != nil {
		return nil, err
	}
	check, err := checkerFor(props.KeyType, cert.PublicKey, hashAlg, sig)
	if err != nil {
		return nil, err
	}
	return &Verifier{digest: hashAlg.New(), check: check}, nil
}

func (v *Verifier) Write(p []byte) (int, error) {
	return v.digest.Write(p)
}

// Verify checks everything written so far against the signature. A
// mismatch is reported as ErrMismatch.
func (v *Verifier) Verify() error {
	return v.check(v.digest.Sum(nil))
}

type dsaSignature struct {
	R, S *big.Int
}

func checkerFor(keyType string, publicKey interface{}, hashAlg crypto.Hash, sig []byte) (func(digest []byte) error, error) {
	switch {
	case keyType == keyTypeRSAPSS:
		pub, ok := publicKey.(*rsa.PublicKey)
		if !ok {
			return nil, newInvalidSignatureError("signature key type is %s but the certificate does not carry an RSA public key", keyType)
		}
		return func(digest []byte) error {
			opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: hashAlg}
			if rsa.VerifyPSS(pub, hashAlg, digest, sig, opts) != nil {
				return ErrMismatch
			}
			return nil
		}, nil
	case keyType == keyTypeDSA:
		pub, ok := publicKey.(*dsa.PublicKey)
		if !ok {
			return nil, newInvalidSignatureError("signature key type is %s but the certificate does not carry a DSA public key", keyType)
		}
		var params dsaSignature
		if _, err := asn1.Unmarshal(sig, &params); err != nil {
			return nil, newInvalidSignatureError("decoding DSA signature: %v", err)
		}
		return func(digest []byte) error {
			if !dsa.Verify(pub, digest, params.R, params.S) {
				return ErrMismatch
			}
			return nil
		}, nil
	case strings.HasPrefix(keyType, eccKeyTypePrefix):
		pub, ok := publicKey.(*ecdsa.PublicKey)
		if !ok {
			return nil, newInvalidSignatureError("signature key type is %s but the certificate does not carry an EC public key", keyType)
		}
		return func(digest []byte) error {
			if !ecdsa.VerifyASN1(pub, digest, sig) {
				return ErrMismatch
			}
			return nil
		}, nil
	}
	return nil, newInvalidSignatureError("invalid signature key type: %s", keyType)
}
