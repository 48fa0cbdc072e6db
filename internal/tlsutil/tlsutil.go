// Package tlsutil supplies the TLS material claspd's listeners need: either
// a self-signed certificate generated at startup (the teacher's
// server/tls.go behavior, convenient for local development and the
// zero-config default) or a certificate loaded from the `cert`/`key` paths
// named in SPEC_FULL.md §6's config surface.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// Material bundles what both of claspd's TLS-terminating listeners need:
// the websocket transport's echo server takes *tls.Config, the WebTransport
// listener takes a concrete tls.Certificate.
type Material struct {
	Config      *tls.Config
	Cert        tls.Certificate
	Fingerprint string // SHA-256 of the leaf certificate's DER, hex-encoded
}

// GenerateSelfSigned creates a self-signed certificate valid for validity,
// with hostname (or "localhost" if empty) as the common name and DNS SAN.
func GenerateSelfSigned(validity time.Duration, hostname string) (Material, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Material{}, fmt.Errorf("tlsutil: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Material{}, fmt.Errorf("tlsutil: generate serial: %w", err)
	}

	cn := "claspd"
	if hostname != "" {
		cn = hostname
	}

	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return Material{}, fmt.Errorf("tlsutil: create certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return Material{}, fmt.Errorf("tlsutil: parse certificate: %w", err)
	}

	fp := sha256.Sum256(certDER)

	cert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}

	return Material{
		Config:      &tls.Config{Certificates: []tls.Certificate{cert}},
		Cert:        cert,
		Fingerprint: hex.EncodeToString(fp[:]),
	}, nil
}

// LoadOrGenerate loads a certificate/key pair from disk when both paths are
// non-empty, otherwise falls back to a freshly generated self-signed one.
func LoadOrGenerate(certPath, keyPath string, validity time.Duration, hostname string) (Material, error) {
	if certPath == "" || keyPath == "" {
		return GenerateSelfSigned(validity, hostname)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return Material{}, fmt.Errorf("tlsutil: load %s/%s: %w", certPath, keyPath, err)
	}

	fingerprint := ""
	if len(cert.Certificate) > 0 {
		fp := sha256.Sum256(cert.Certificate[0])
		fingerprint = hex.EncodeToString(fp[:])
	}

	return Material{
		Config:      &tls.Config{Certificates: []tls.Certificate{cert}},
		Cert:        cert,
		Fingerprint: fingerprint,
	}, nil
}
