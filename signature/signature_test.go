package signature

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource map[string]*x509.Certificate

func (s staticSource) Certificate(ref string) (*x509.Certificate, error) {
	cert, ok := s[ref]
	if !ok {
		return nil, errors.Errorf("unknown certificate %q", ref)
	}
	return cert, nil
}

func selfSignedCert(t *testing.T, pub, priv interface{}) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "image-signing"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestPropertiesFrom(t *testing.T) {
	props, err := PropertiesFrom(map[string]interface{}{
		PropSignature:       "c2ln",
		PropHashMethod:      "SHA-256",
		PropCertificateUUID: "cert-1",
		PropKeyType:         "RSA-PSS",
	})
	require.NoError(t, err)
	assert.Equal(t, "c2ln", props.Signature)
	assert.Equal(t, "SHA-256", props.HashMethod)
	assert.Equal(t, "cert-1", props.CertificateUUID)
	assert.Equal(t, "RSA-PSS", props.KeyType)

	_, err = PropertiesFrom(map[string]interface{}{
		PropSignature: "c2ln",
		PropKeyType:   "RSA-PSS",
	})
	require.Error(t, err)
	var invalid InvalidSignatureError
	assert.ErrorAs(t, err, &invalid)
	assert.ErrorContains(t, err, PropHashMethod)
	assert.ErrorContains(t, err, PropCertificateUUID)
}

func TestVerifierRSAPSS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := selfSignedCert(t, &key.PublicKey, key)
	certs := staticSource{"cert-1": cert}
	data := []byte("image data payload")

	for _, c := range []struct {
		method string
		hash   crypto.Hash
	}{
		{"SHA-224", crypto.SHA224},
		{"SHA-256", crypto.SHA256},
		{"SHA-384", crypto.SHA384},
		{"SHA-512", crypto.SHA512},
	} {
		h := c.hash.New()
		h.Write(data)
		sig, err := rsa.SignPSS(rand.Reader, key, c.hash, h.Sum(nil),
			&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: c.hash})
		require.NoError(t, err, "%s", c.method)

		props := Properties{
			Signature:       base64.StdEncoding.EncodeToString(sig),
			HashMethod:      c.method,
			CertificateUUID: "cert-1",
			KeyType:         "RSA-PSS",
		}
		verifier, err := NewVerifier(props, certs)
		require.NoError(t, err, "%s", c.method)
		_, err = verifier.Write(data[:5])
		require.NoError(t, err)
		_, err = verifier.Write(data[5:])
		require.NoError(t, err)
		assert.NoError(t, verifier.Verify(), "%s", c.method)

		// tampered data fails the check
		verifier, err = NewVerifier(props, certs)
		require.NoError(t, err, "%s", c.method)
		_, err = verifier.Write([]byte("tampered payload"))
		require.NoError(t, err)
		assert.ErrorIs(t, verifier.Verify(), ErrMismatch, "%s", c.method)
	}
}

func TestVerifierECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert := selfSignedCert(t, &key.PublicKey, key)
	data := []byte("image data payload")

	h := crypto.SHA256.New()
	h.Write(data)
	sig, err := ecdsa.SignASN1(rand.Reader, key, h.Sum(nil))
	require.NoError(t, err)

	props := Properties{
		Signature:       base64.StdEncoding.EncodeToString(sig),
		HashMethod:      "SHA-256",
		CertificateUUID: "cert-1",
		KeyType:         "ECC_SECP256R1",
	}
	verifier, err := NewVerifier(props, staticSource{"cert-1": cert})
	require.NoError(t, err)
	_, err = verifier.Write(data)
	require.NoError(t, err)
	assert.NoError(t, verifier.Verify())

	verifier, err = NewVerifier(props, staticSource{"cert-1": cert})
	require.NoError(t, err)
	_, err = verifier.Write([]byte("tampered payload"))
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.Verify(), ErrMismatch)
}

func TestVerifierDSA(t *testing.T) {
	var params dsa.Parameters
	require.NoError(t, dsa.GenerateParameters(&params, rand.Reader, dsa.L1024N160))
	key := &dsa.PrivateKey{PublicKey: dsa.PublicKey{Parameters: params}}
	require.NoError(t, dsa.GenerateKey(key, rand.Reader))

	data := []byte("image data payload")
	h := crypto.SHA256.New()
	h.Write(data)
	digest := h.Sum(nil)
	r, s, err := dsa.Sign(rand.Reader, key, digest)
	require.NoError(t, err)
	sig, err := asn1.Marshal(dsaSignature{R: r, S: s})
	require.NoError(t, err)

	// stdlib cannot issue DSA certificates, so exercise the checker directly
	check, err := checkerFor(keyTypeDSA, &key.PublicKey, crypto.SHA256, sig)
	require.NoError(t, err)
	assert.NoError(t, check(digest))

	tampered := crypto.SHA256.New()
	tampered.Write([]byte("tampered payload"))
	assert.ErrorIs(t, check(tampered.Sum(nil)), ErrMismatch)
}

func TestNewVerifierRejectsBadDescriptions(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := selfSignedCert(t, &key.PublicKey, key)
	certs := staticSource{"cert-1": cert}

	base := Properties{
		Signature:       base64.StdEncoding.EncodeToString([]byte("sig")),
		HashMethod:      "SHA-256",
		CertificateUUID: "cert-1",
		KeyType:         "RSA-PSS",
	}

	for _, c := range []struct {
		name   string
		mutate func(p *Properties)
	}{
		{"bad base64", func(p *Properties) { p.Signature = "%%%" }},
		{"bad hash method", func(p *Properties) { p.HashMethod = "MD5" }},
		{"bad key type", func(p *Properties) { p.KeyType = "ROT13" }},
		{"missing signature", func(p *Properties) { p.Signature = "" }},
		{"key type does not match certificate", func(p *Properties) { p.KeyType = "ECC_SECP256R1" }},
	} {
		props := base
		c.mutate(&props)
		_, err := NewVerifier(props, certs)
		require.Error(t, err, "%s", c.name)
		var invalid InvalidSignatureError
		assert.ErrorAs(t, err, &invalid, "%s", c.name)
	}

	// unresolvable certificates are reported as-is
	_, err = NewVerifier(base, staticSource{})
	assert.ErrorContains(t, err, "unknown certificate")
}

func TestDirectorySource(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := selfSignedCert(t, &key.PublicKey, key)

	dir := t.TempDir()
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cert-1.pem"), pemBytes, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.pem"), []byte("not a certificate"), 0o600))

	source := NewDirectorySource(dir)

	loaded, err := source.Certificate("cert-1")
	require.NoError(t, err)
	assert.Equal(t, cert.Raw, loaded.Raw)

	_, err = source.Certificate("absent")
	assert.ErrorContains(t, err, "reading signature certificate")

	_, err = source.Certificate("junk")
	assert.ErrorContains(t, err, "no PEM data")

	for _, ref := range []string{"", "../cert-1", "sub/cert-1"} {
		_, err = source.Certificate(ref)
		require.Error(t, err, "%q", ref)
		var invalid InvalidSignatureError
		assert.ErrorAs(t, err, &invalid, "%q", ref)
	}
}
