// Package e2e implements the CLASP end-to-end group-key session: ECDH peer
// key exchange, TOFU verification, and AES-256-GCM envelope encryption
// (spec §4.6).
package e2e

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// KeyExchange is the message emitted when sharing the group key with a peer
// whose public key we have just cached (spec §4.6 step 3).
type KeyExchange struct {
	FromID          string
	EncryptedKey    []byte
	IV              []byte
	SenderPublicKey []byte // uncompressed P-256 point
}

// PeerAnnounce is the out-of-band "here is my public key" message.
type PeerAnnounce struct {
	PublicKey []byte
	Timestamp time.Time
}

// Store is the persistent collaborator backing group keys and TOFU records,
// scoped per (identity, base_path). A concrete implementation may be
// in-memory or SQLite-backed; the Session only depends on this interface.
type Store interface {
	LoadGroupKey(identityID, basePath string) ([]byte, bool)
	SaveGroupKey(identityID, basePath string, key []byte) error
	LoadTofu(basePath, peerID string) (*TofuRecord, bool)
	SaveTofu(basePath, peerID string, rec TofuRecord) error
}

// TofuRecord is spec §3's {fingerprint, first_seen} pair.
type TofuRecord struct {
	Fingerprint string
	FirstSeen   time.Time
}

var (
	ErrTofuViolation  = errors.New("tofu violation: peer key fingerprint changed")
	ErrNoGroupKey     = errors.New("no group key established")
	ErrEmptySenderID  = errors.New("key exchange sender id must not be empty")
	ErrEnvelopeBadMAC = errors.New("envelope decryption failed: bad MAC or wrong key")
	ErrEnvelopeBadTag = errors.New("envelope is not a recognized _e2e envelope")
)

// OnKeyChange is invoked when a peer's fingerprint changes from what TOFU
// recorded; returning true accepts the new key, false rejects it.
type OnKeyChange func(peerID, oldFingerprint, newFingerprint string) bool

// Session is keyed by (identityID, basePath) per spec §4.6.
type Session struct {
	identityID string
	basePath   string
	store      Store
	onChange   OnKeyChange

	mu        sync.Mutex
	groupKey  []byte // 32 bytes, AES-256-GCM key; nil until established
	ownPriv   *ecdh.PrivateKey
	peerKeys  map[string]*ecdh.PublicKey // cached peer public keys by peer id
}

func NewSession(identityID, basePath string, store Store, onChange OnKeyChange) *Session {
	s := &Session{
		identityID: identityID,
		basePath:   basePath,
		store:      store,
		onChange:   onChange,
		peerKeys:   make(map[string]*ecdh.PublicKey),
	}
	if key, ok := store.LoadGroupKey(identityID, basePath); ok {
		s.groupKey = key
	}
	return s
}

// ownKey generates the ephemeral P-256 ECDH key pair lazily, on first use.
func (s *Session) ownKey() (*ecdh.PrivateKey, error) {
	if s.ownPriv != nil {
		return s.ownPriv, nil
	}
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	s.ownPriv = priv
	return priv, nil
}

// Announce produces this session's public key for out-of-band publication.
func (s *Session) Announce() (*PeerAnnounce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	priv, err := s.ownKey()
	if err != nil {
		return nil, err
	}
	return &PeerAnnounce{PublicKey: priv.PublicKey().Bytes(), Timestamp: time.Now()}, nil
}

func fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return fmt.Sprintf("%x", sum)
}

// HandlePeerAnnounce implements spec §4.6's "Handle peer announce" steps.
func (s *Session) HandlePeerAnnounce(peerID string, ann *PeerAnnounce) (*KeyExchange, error) {
	if peerID == "" {
		return nil, ErrEmptySenderID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := fingerprint(ann.PublicKey)
	if err := s.verifyTofuLocked(peerID, fp); err != nil {
		return nil, err
	}

	peerPub, err := ecdh.P256().NewPublicKey(ann.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}
	s.peerKeys[peerID] = peerPub

	if s.groupKey == nil {
		return nil, nil // nothing to share yet
	}
	return s.encryptGroupKeyForLocked(peerID, peerPub)
}

// verifyTofuLocked implements the TOFU check; caller holds s.mu.
func (s *Session) verifyTofuLocked(peerID, fp string) error {
	rec, ok := s.store.LoadTofu(s.basePath, peerID)
	if !ok {
		return s.store.SaveTofu(s.basePath, peerID, TofuRecord{Fingerprint: fp, FirstSeen: time.Now()})
	}
	if rec.Fingerprint == fp {
		return nil
	}
	if s.onChange != nil && s.onChange(peerID, rec.Fingerprint, fp) {
		return s.store.SaveTofu(s.basePath, peerID, TofuRecord{Fingerprint: fp, FirstSeen: rec.FirstSeen})
	}
	return ErrTofuViolation
}

// encryptGroupKeyForLocked derives the ECDH shared secret with peerPub and
// encrypts the group key for transport; caller holds s.mu.
func (s *Session) encryptGroupKeyForLocked(peerID string, peerPub *ecdh.PublicKey) (*KeyExchange, error) {
	priv, err := s.ownKey()
	if err != nil {
		return nil, err
	}
	shared, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	aesKey, err := deriveAESKey(shared)
	if err != nil {
		return nil, err
	}
	ct, iv, err := aesGCMSeal(aesKey, s.groupKey)
	if err != nil {
		return nil, err
	}
	return &KeyExchange{
		FromID:          s.identityID,
		EncryptedKey:    ct,
		IV:              iv,
		SenderPublicKey: priv.PublicKey().Bytes(),
	}, nil
}

// HandleKeyExchange implements spec §4.6's "Handle key exchange" contract.
func (s *Session) HandleKeyExchange(peerID string, msg *KeyExchange) error {
	if msg.FromID == "" {
		return ErrEmptySenderID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := fingerprint(msg.SenderPublicKey)
	if err := s.verifyTofuLocked(peerID, fp); err != nil {
		return err
	}

	peerPub, err := ecdh.P256().NewPublicKey(msg.SenderPublicKey)
	if err != nil {
		return fmt.Errorf("invalid sender public key: %w", err)
	}
	s.peerKeys[peerID] = peerPub

	priv, err := s.ownKey()
	if err != nil {
		return err
	}
	shared, err := priv.ECDH(peerPub)
	if err != nil {
		return fmt.Errorf("ecdh: %w", err)
	}
	aesKey, err := deriveAESKey(shared)
	if err != nil {
		return err
	}
	plain, err := aesGCMOpen(aesKey, msg.EncryptedKey, msg.IV)
	if err != nil {
		return ErrEnvelopeBadMAC
	}
	s.groupKey = plain
	return s.store.SaveGroupKey(s.identityID, s.basePath, plain)
}

// Rotate generates a new group key, persists it, and returns a KeyExchange
// for every cached peer (spec §4.6 "Rotate").
func (s *Session) Rotate() (map[string]*KeyExchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newKey := make([]byte, 32)
	if _, err := rand.Read(newKey); err != nil {
		return nil, err
	}
	old := s.groupKey
	s.groupKey = newKey

	out := make(map[string]*KeyExchange, len(s.peerKeys))
	for peerID, pub := range s.peerKeys {
		kx, err := s.encryptGroupKeyForLocked(peerID, pub)
		if err != nil {
			return nil, err
		}
		out[peerID] = kx
	}
	if err := s.store.SaveGroupKey(s.identityID, s.basePath, newKey); err != nil {
		return nil, err
	}
	zero(old)
	return out, nil
}

// Destroy zeros all key material held in memory.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zero(s.groupKey)
	s.groupKey = nil
	s.ownPriv = nil
	s.peerKeys = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func deriveAESKey(shared []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, shared, nil, []byte("clasp-e2e-group-key"))
	key := make([]byte, 32)
	if _, err := h.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func aesGCMSeal(key, plaintext []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	ct := gcm.Seal(nil, iv, plaintext, nil)
	return ct, iv, nil
}

func aesGCMOpen(key, ciphertext, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, iv, ciphertext, nil)
}
