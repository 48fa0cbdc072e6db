package registry

import (
	"crypto/ed25519"

	"github.com/rustyguts/clasp/internal/capability"
	"github.com/rustyguts/clasp/internal/security"
)

// LoadCpskValidator builds a security.CpskValidator from every active
// entity carrying a CPSK token, so the router's validator chain reflects
// whatever is currently registered without the caller hand-rolling the
// lookup table.
func LoadCpskValidator(store EntityStore) (*security.CpskValidator, error) {
	v := security.NewCpskValidator()
	entities, err := store.List(0, 0)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		if !e.IsActive() {
			continue
		}
		token, ok := e.CpskToken()
		if !ok {
			continue
		}
		scopes, err := security.ParseScopeSet(e.Scopes)
		if err != nil {
			return nil, err
		}
		v.Register(token, security.TokenInfo{Subject: e.ID, Scopes: scopes})
	}
	return v, nil
}

// LoadTrustAnchors builds a capability.TrustAnchors set from every active
// entity whose public key is registered as a chain root, i.e. every entity
// of type router (federation peers) or device (end-user capability
// issuers).
func LoadTrustAnchors(store EntityStore) (capability.TrustAnchors, error) {
	entities, err := store.List(0, 0)
	if err != nil {
		return nil, err
	}
	keys := make([]ed25519.PublicKey, 0, len(entities))
	for _, e := range entities {
		if !e.IsActive() || len(e.PublicKey) != ed25519.PublicKeySize {
			continue
		}
		keys = append(keys, ed25519.PublicKey(e.PublicKey))
	}
	return capability.NewTrustAnchors(keys...), nil
}

// LoadPeerNamespaces returns the declared namespaces for the router entity
// with the given id, used to populate router.Config.FederationPermitNamespaces
// or an outbound federation.Config.PermitNamespaces from persisted state.
func LoadPeerNamespaces(store EntityStore, routerID string) ([]string, error) {
	e, ok, err := store.Get(routerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return e.Namespaces, nil
}
