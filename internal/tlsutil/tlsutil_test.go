package tlsutil

import (
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerateSelfSignedReturnsValidCert(t *testing.T) {
	validity := 2 * time.Hour
	mat, err := GenerateSelfSigned(validity, "example.test")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if mat.Fingerprint == "" {
		t.Fatal("expected non-empty fingerprint")
	}
	if len(mat.Fingerprint) != 64 { // SHA-256 hex = 32 bytes = 64 chars
		t.Errorf("fingerprint length: got %d, want 64", len(mat.Fingerprint))
	}
	if len(mat.Config.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(mat.Config.Certificates))
	}

	leaf := mat.Cert.Leaf
	if leaf == nil {
		t.Fatal("expected parsed leaf certificate")
	}
	if leaf.Subject.CommonName != "example.test" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "example.test")
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		t.Errorf("cert not valid at current time: NotBefore=%v NotAfter=%v", leaf.NotBefore, leaf.NotAfter)
	}
}

func TestGenerateSelfSignedUniqueCerts(t *testing.T) {
	mat1, err := GenerateSelfSigned(time.Hour, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	mat2, err := GenerateSelfSigned(time.Hour, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if mat1.Fingerprint == mat2.Fingerprint {
		t.Error("two calls should produce different certificates")
	}
}

func TestGenerateSelfSignedDefaultsHostname(t *testing.T) {
	mat, err := GenerateSelfSigned(time.Hour, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	leaf := mat.Cert.Leaf

	if leaf.Issuer.CommonName != leaf.Subject.CommonName {
		t.Errorf("expected self-signed cert: issuer=%q subject=%q", leaf.Issuer.CommonName, leaf.Subject.CommonName)
	}
	if leaf.Subject.CommonName != "claspd" {
		t.Errorf("expected default CN claspd, got %q", leaf.Subject.CommonName)
	}

	found := false
	for _, name := range leaf.DNSNames {
		if name == "localhost" {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected localhost in DNS names, got %v", leaf.DNSNames)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	if _, err := leaf.Verify(x509.VerifyOptions{DNSName: "localhost", Roots: pool}); err != nil {
		t.Errorf("self-verification failed: %v", err)
	}
}

func TestLoadOrGenerateFallsBackWithoutPaths(t *testing.T) {
	mat, err := LoadOrGenerate("", "", time.Hour, "")
	if err != nil {
		t.Fatalf("load or generate: %v", err)
	}
	if mat.Fingerprint == "" {
		t.Fatal("expected generated cert to have a fingerprint")
	}
}
