// Package capability implements CLASP delegatable capability tokens: the
// wire form (cap_<base64url(msgpack(CapabilityToken))>), delegation chain
// verification with scope attenuation, and the pattern_is_subset coverage
// check shared with federation (spec §4.5, §4.9).
package capability

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rustyguts/clasp/internal/address"
	"github.com/rustyguts/clasp/internal/security"
)

const WirePrefix = "cap_"

// HasPrefix reports whether wire looks like a capability token, as opposed
// to a CPSK token or some other validator's wire form.
func HasPrefix(wire string) bool {
	return len(wire) > len(WirePrefix) && wire[:len(WirePrefix)] == WirePrefix
}

// DefaultMaxChainDepth matches spec §4.5 step 3's default.
const DefaultMaxChainDepth = 5

// ScopeGrant is one wire-encoded scope entry, stored as its raw
// "<action>:<pattern>" string so msgpack round-trips it verbatim.
type ScopeGrant string

// ProofLink is one signed step of a delegation chain: the parent that
// authorized this link's issuer to mint tokens with (at most) Scopes.
type ProofLink struct {
	Issuer    []byte // ed25519 public key of the issuer of this link
	Scopes    []ScopeGrant
	Signature []byte // signature over the link's canonical bytes, by Issuer
}

// CapabilityToken is the delegation unit of spec §3.
type CapabilityToken struct {
	Version       uint8
	IssuerPubkey  []byte
	AudiencePubkey []byte // optional, nil if absent
	Scopes        []ScopeGrant
	ExpiresAt     int64 // unix seconds
	Nonce         []byte
	Proofs        []ProofLink // ordered oldest (root) to newest (this token's direct parent)
	Signature     []byte      // signature over the token's canonical bytes, by IssuerPubkey
}

// canonicalBytes returns the bytes a signature is computed over: every field
// except Signature itself, msgpack-encoded deterministically.
func (t *CapabilityToken) canonicalBytes() ([]byte, error) {
	cp := *t
	cp.Signature = nil
	return msgpack.Marshal(&cp)
}

func (l *ProofLink) canonicalBytes() ([]byte, error) {
	cp := *l
	cp.Signature = nil
	return msgpack.Marshal(&cp)
}

// Sign computes and sets t.Signature using priv, which must correspond to
// t.IssuerPubkey.
func (t *CapabilityToken) Sign(priv ed25519.PrivateKey) error {
	b, err := t.canonicalBytes()
	if err != nil {
		return err
	}
	t.Signature = ed25519.Sign(priv, b)
	return nil
}

func (l *ProofLink) Sign(priv ed25519.PrivateKey) error {
	b, err := l.canonicalBytes()
	if err != nil {
		return err
	}
	l.Signature = ed25519.Sign(priv, b)
	return nil
}

// Encode packs the token into its wire form: cap_<base64url(msgpack(token))>.
func (t *CapabilityToken) Encode() (string, error) {
	b, err := msgpack.Marshal(t)
	if err != nil {
		return "", err
	}
	return WirePrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Decode parses the wire form back into a CapabilityToken.
func Decode(wire string) (*CapabilityToken, error) {
	if len(wire) <= len(WirePrefix) || wire[:len(WirePrefix)] != WirePrefix {
		return nil, errors.New("not a capability token (missing cap_ prefix)")
	}
	raw, err := base64.RawURLEncoding.DecodeString(wire[len(WirePrefix):])
	if err != nil {
		return nil, fmt.Errorf("capability token base64: %w", err)
	}
	var t CapabilityToken
	if err := msgpack.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("capability token msgpack: %w", err)
	}
	return &t, nil
}

// ParsedScopes compiles the token's scope strings, skipping (not erroring
// on) anything malformed found on an otherwise-verified token — malformed
// scopes simply grant nothing.
func ParsedScopes(grants []ScopeGrant) security.ScopeSet {
	raw := make([]string, len(grants))
	for i, g := range grants {
		raw[i] = string(g)
	}
	set, err := security.ParseScopeSet(raw)
	if err != nil {
		return nil
	}
	return set
}

// patternIsSubset reports whether every scope in child is covered by some
// scope in parent, per spec §4.9 — action dominance plus pattern coverage.
func patternIsSubset(child, parent []ScopeGrant) bool {
	childSet := ParsedScopes(child)
	parentSet := ParsedScopes(parent)
	for _, c := range childSet {
		covered := false
		for _, p := range parentSet {
			if p.Action.Dominates(c.Action) && address.CoveredBy(c.Pattern, p.Pattern) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}
