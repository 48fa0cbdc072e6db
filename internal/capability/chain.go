package capability

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"
)

// ErrAttenuationViolation is returned when a delegation link widens scope
// beyond its parent.
var ErrAttenuationViolation = errors.New("attenuation violation")

// TrustAnchors is the set of root issuer public keys a verifier accepts,
// keyed by the raw ed25519 public key bytes as a string.
type TrustAnchors map[string]struct{}

func NewTrustAnchors(pubkeys ...ed25519.PublicKey) TrustAnchors {
	out := make(TrustAnchors, len(pubkeys))
	for _, k := range pubkeys {
		out[string(k)] = struct{}{}
	}
	return out
}

// VerifyChain implements spec §4.5's capability token verification steps
// 2-7 (step 1, decoding from wire form, is the caller's Decode call).
func VerifyChain(t *CapabilityToken, anchors TrustAnchors, maxDepth int, now time.Time) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxChainDepth
	}

	// step 2: expiry
	if t.ExpiresAt < now.Unix() {
		return fmt.Errorf("%w: token expired at %d", errExpired, t.ExpiresAt)
	}

	// step 3: chain depth
	if len(t.Proofs) > maxDepth {
		return fmt.Errorf("chain depth %d exceeds max %d", len(t.Proofs), maxDepth)
	}

	// step 4: the token's own signature against its issuer pubkey
	sig := t.Signature
	canon, err := t.canonicalBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(t.IssuerPubkey), canon, sig) {
		return errors.New("token signature invalid")
	}

	if len(t.Proofs) == 0 {
		// A root token (no delegation): its own issuer must be a trust anchor.
		if _, ok := anchors[string(t.IssuerPubkey)]; !ok {
			return errors.New("issuer is not a trusted anchor")
		}
		return nil
	}

	// step 5/6: walk proofs oldest -> newest, verifying each link's
	// signature and scope attenuation against the next link (or the token
	// itself, for the newest link).
	root := t.Proofs[0]
	if _, ok := anchors[string(root.Issuer)]; !ok {
		return errors.New("root issuer is not a trusted anchor")
	}

	childScopesOf := func(i int) []ScopeGrant {
		if i+1 < len(t.Proofs) {
			return t.Proofs[i+1].Scopes
		}
		return t.Scopes
	}

	for i, link := range t.Proofs {
		if !ed25519.Verify(ed25519.PublicKey(link.Issuer), mustCanon(&link), link.Signature) {
			return fmt.Errorf("proof link %d: signature invalid", i)
		}
		if !patternIsSubset(childScopesOf(i), link.Scopes) {
			return fmt.Errorf("proof link %d: %w", i, ErrAttenuationViolation)
		}
	}
	// step 7: the final step (the token's own scopes against the newest
	// proof link) is covered by the loop's i == len(Proofs)-1 case above.
	return nil
}

func mustCanon(l *ProofLink) []byte {
	b, _ := l.canonicalBytes()
	return b
}

var errExpired = errors.New("expired")

// IsExpired is a convenience check against a specific instant without doing
// full chain verification.
func (t *CapabilityToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt < now.Unix()
}
