package e2e

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// envelope is the wire JSON form of an E2E-encrypted payload (spec §4.6):
// {"_e2e":1,"v":1,"ct":"<base64>","iv":"<base64>"}
type envelope struct {
	E2E int    `json:"_e2e"`
	V   int    `json:"v"`
	CT  string `json:"ct"`
	IV  string `json:"iv"`
}

const envelopeVersion = 1

// Encrypt wraps plaintext in an E2E envelope using the session's current
// group key.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	key := s.groupKey
	s.mu.Unlock()
	if key == nil {
		return nil, ErrNoGroupKey
	}
	ct, iv, err := aesGCMSeal(key, plaintext)
	if err != nil {
		return nil, err
	}
	env := envelope{
		E2E: 1,
		V:   envelopeVersion,
		CT:  base64.StdEncoding.EncodeToString(ct),
		IV:  base64.StdEncoding.EncodeToString(iv),
	}
	return json.Marshal(env)
}

// Decrypt unwraps an E2E envelope produced by Encrypt, using the session's
// current group key.
func (s *Session) Decrypt(data []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeBadTag, err)
	}
	if env.E2E != 1 {
		return nil, ErrEnvelopeBadTag
	}
	s.mu.Lock()
	key := s.groupKey
	s.mu.Unlock()
	if key == nil {
		return nil, ErrNoGroupKey
	}
	ct, err := base64.StdEncoding.DecodeString(env.CT)
	if err != nil {
		return nil, fmt.Errorf("envelope ct: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("envelope iv: %w", err)
	}
	plain, err := aesGCMOpen(key, ct, iv)
	if err != nil {
		return nil, ErrEnvelopeBadMAC
	}
	return plain, nil
}

// IsEnvelope reports whether data looks like an E2E envelope, for callers
// that need to branch between encrypted and plaintext payloads.
func IsEnvelope(data []byte) bool {
	var probe struct {
		E2E int `json:"_e2e"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.E2E == 1
}

// SetGroupKey installs an externally-generated group key directly, e.g. for
// the session that originates a new group (spec §4.6 "Generate").
func (s *Session) SetGroupKey(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupKey = key
	return s.store.SaveGroupKey(s.identityID, s.basePath, key)
}

// HasGroupKey reports whether a group key has been established.
func (s *Session) HasGroupKey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupKey != nil
}
