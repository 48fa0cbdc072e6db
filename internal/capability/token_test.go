package capability

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func mintRoot(t *testing.T, priv ed25519.PrivateKey, pub ed25519.PublicKey, scopes []ScopeGrant) *CapabilityToken {
	t.Helper()
	tok := &CapabilityToken{
		Version:      1,
		IssuerPubkey: pub,
		Scopes:       scopes,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		Nonce:        []byte("n1"),
	}
	if err := tok.Sign(priv); err != nil {
		t.Fatalf("sign root: %v", err)
	}
	return tok
}

func delegate(t *testing.T, parent *CapabilityToken, parentPriv ed25519.PrivateKey, childPub ed25519.PublicKey, childPriv ed25519.PrivateKey, childScopes []ScopeGrant) *CapabilityToken {
	t.Helper()
	link := ProofLink{Issuer: parent.IssuerPubkey, Scopes: parent.Scopes}
	if err := link.Sign(parentPriv); err != nil {
		t.Fatalf("sign proof link: %v", err)
	}
	child := &CapabilityToken{
		Version:      1,
		IssuerPubkey: childPub,
		Scopes:       childScopes,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		Nonce:        []byte("n2"),
		Proofs:       append(append([]ProofLink{}, parent.Proofs...), link),
	}
	if err := child.Sign(childPriv); err != nil {
		t.Fatalf("sign child: %v", err)
	}
	return child
}

func TestCapabilityTokenWireRoundTrip(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	tok := mintRoot(t, priv, pub, []ScopeGrant{"read:/lights/**"})
	wire, err := tok.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(wire) < len(WirePrefix) || wire[:len(WirePrefix)] != WirePrefix {
		t.Fatalf("expected cap_ prefix, got %q", wire[:8])
	}
	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ExpiresAt != tok.ExpiresAt || len(decoded.Scopes) != len(tok.Scopes) {
		t.Fatalf("round-trip mismatch: %+v", decoded)
	}
}

func TestVerifyChainAcceptsRootAnchor(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	tok := mintRoot(t, priv, pub, []ScopeGrant{"write:/lights/**"})
	anchors := NewTrustAnchors(pub)
	if err := VerifyChain(tok, anchors, 0, time.Now()); err != nil {
		t.Fatalf("expected root token to verify: %v", err)
	}
}

func TestVerifyChainRejectsUntrustedRoot(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	other, _, _ := ed25519.GenerateKey(nil)
	tok := mintRoot(t, priv, pub, []ScopeGrant{"write:/lights/**"})
	anchors := NewTrustAnchors(other)
	if err := VerifyChain(tok, anchors, 0, time.Now()); err == nil {
		t.Fatal("expected rejection for untrusted issuer")
	}
}

func TestVerifyChainRejectsExpired(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	tok := &CapabilityToken{
		Version:      1,
		IssuerPubkey: pub,
		Scopes:       []ScopeGrant{"read:/a"},
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	}
	_ = tok.Sign(priv)
	anchors := NewTrustAnchors(pub)
	if err := VerifyChain(tok, anchors, 0, time.Now()); err == nil {
		t.Fatal("expected rejection for expired token")
	}
}

func TestVerifyChainDelegationAttenuation(t *testing.T) {
	// spec §8 end-to-end scenario 4.
	rootPub, rootPriv, _ := ed25519.GenerateKey(nil)
	root := mintRoot(t, rootPriv, rootPub, []ScopeGrant{"write:/lights/**"})
	anchors := NewTrustAnchors(rootPub)

	childPub, childPriv, _ := ed25519.GenerateKey(nil)

	widened := delegate(t, root, rootPriv, childPub, childPriv, []ScopeGrant{"write:/audio/**"})
	if err := VerifyChain(widened, anchors, 0, time.Now()); err == nil {
		t.Fatal("expected AttenuationViolation for disjoint delegated namespace")
	}

	narrowed := delegate(t, root, rootPriv, childPub, childPriv, []ScopeGrant{"read:/lights/room1"})
	if err := VerifyChain(narrowed, anchors, 0, time.Now()); err != nil {
		t.Fatalf("expected narrowed delegation to verify: %v", err)
	}
}

func TestVerifyChainRejectsDepthExceeded(t *testing.T) {
	rootPub, rootPriv, _ := ed25519.GenerateKey(nil)
	root := mintRoot(t, rootPriv, rootPub, []ScopeGrant{"admin:/**"})
	anchors := NewTrustAnchors(rootPub)

	current := root
	currentPriv := rootPriv
	for i := 0; i < 6; i++ {
		pub, priv, _ := ed25519.GenerateKey(nil)
		current = delegate(t, current, currentPriv, pub, priv, []ScopeGrant{"admin:/**"})
		currentPriv = priv
	}
	if err := VerifyChain(current, anchors, DefaultMaxChainDepth, time.Now()); err == nil {
		t.Fatal("expected rejection once chain depth exceeds the default max")
	}
}

func TestVerifyChainRejectsTamperedSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	tok := mintRoot(t, priv, pub, []ScopeGrant{"read:/a"})
	tok.Scopes = []ScopeGrant{"admin:/**"} // tamper after signing
	anchors := NewTrustAnchors(pub)
	if err := VerifyChain(tok, anchors, 0, time.Now()); err == nil {
		t.Fatal("expected rejection for tampered token")
	}
}
