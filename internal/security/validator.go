package security

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrInvalidToken and ErrExpiredToken map directly onto the wire ERROR codes
// 300 and 302 (spec §4.4/§7).
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// TokenInfo is what a successful validation yields: the identity behind the
// token and the scopes it grants.
type TokenInfo struct {
	Subject string
	Scopes  ScopeSet
}

// TokenValidator resolves a wire-form token (as presented in HELLO) to the
// scopes it grants. Implementations are registered into a ValidatorChain at
// router construction (spec §9, "capability records with function
// contracts").
type TokenValidator interface {
	// Validate returns the resolved TokenInfo, or an error (ErrInvalidToken,
	// ErrExpiredToken, or a validator-specific error) if the token is not
	// one this validator recognizes or is malformed/expired.
	Validate(token string, now time.Time) (*TokenInfo, error)
	// Accepts reports whether this validator recognizes the token's wire
	// prefix, letting a ValidatorChain skip validators that cannot apply.
	Accepts(token string) bool
}

// CpskValidator validates "cpsk_<32-hex-chars>" tokens via a simple lookup
// table (spec §6). The lookup is intentionally injected rather than owned,
// since the registry collaborator (SQLite-backed or in-memory) persists it.
type CpskValidator struct {
	mu     sync.RWMutex
	lookup map[string]TokenInfo
}

func NewCpskValidator() *CpskValidator {
	return &CpskValidator{lookup: make(map[string]TokenInfo)}
}

const cpskPrefix = "cpsk_"

func (v *CpskValidator) Accepts(token string) bool {
	return strings.HasPrefix(token, cpskPrefix)
}

// Register associates a CPSK token with the scopes/subject it grants.
func (v *CpskValidator) Register(token string, info TokenInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lookup[token] = info
}

func (v *CpskValidator) Revoke(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.lookup, token)
}

func (v *CpskValidator) Validate(token string, _ time.Time) (*TokenInfo, error) {
	if !v.Accepts(token) {
		return nil, ErrInvalidToken
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	info, ok := v.lookup[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	cp := info
	return &cp, nil
}

// ValidatorChain tries each registered validator in order, returning the
// first successful validation. It is itself a TokenValidator so it can be
// nested or passed wherever a single validator is expected.
type ValidatorChain struct {
	validators []TokenValidator
}

func NewValidatorChain(validators ...TokenValidator) *ValidatorChain {
	return &ValidatorChain{validators: validators}
}

func (c *ValidatorChain) Add(v TokenValidator) {
	c.validators = append(c.validators, v)
}

func (c *ValidatorChain) Accepts(token string) bool {
	for _, v := range c.validators {
		if v.Accepts(token) {
			return true
		}
	}
	return false
}

func (c *ValidatorChain) Validate(token string, now time.Time) (*TokenInfo, error) {
	var lastErr error = ErrInvalidToken
	for _, v := range c.validators {
		if !v.Accepts(token) {
			continue
		}
		info, err := v.Validate(token, now)
		if err == nil {
			return info, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
