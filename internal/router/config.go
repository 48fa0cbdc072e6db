package router

import (
	"time"

	"github.com/rustyguts/clasp/internal/security"
	"github.com/rustyguts/clasp/internal/state"
)

// Config bundles every router-wide tunable named across spec §4.4 and the
// SUPPLEMENTED FEATURES section of SPEC_FULL.md.
type Config struct {
	Name     string
	Features []string

	MaxSessions               int
	SessionTimeout            time.Duration
	SecurityMode              security.Mode
	MaxSubscriptionsPerSession int

	GestureCoalescing        bool
	GestureCoalesceInterval  time.Duration

	MaxMessagesPerSecond int
	RateLimitingEnabled  bool

	ConcurrentBroadcastThreshold int
	MaxSnapshotChunk             int
	HandshakeTimeout             time.Duration
	MaxChainDepth                int

	// RouterID tags mutations this router forwards to federation peers and
	// is echoed back when declaring namespaces to an inbound peer session
	// (spec §4.8).
	RouterID                    string
	FederationOwnedNamespaces   []string
	FederationPermitNamespaces  []string // empty permits anything

	StateConfig state.Config
}

// DefaultConfig mirrors the teacher's `RouterConfig::default()` constants.
func DefaultConfig() Config {
	return Config{
		Name:                         "Clasp Router",
		Features:                     []string{"param", "event", "stream", "timeline", "gesture"},
		MaxSessions:                  100,
		SessionTimeout:               300 * time.Second,
		SecurityMode:                 security.ModeOpen,
		MaxSubscriptionsPerSession:   1000,
		GestureCoalescing:            true,
		GestureCoalesceInterval:      16 * time.Millisecond,
		MaxMessagesPerSecond:         1000,
		RateLimitingEnabled:          true,
		ConcurrentBroadcastThreshold: 10,
		MaxSnapshotChunk:             256,
		HandshakeTimeout:             10 * time.Second,
		MaxChainDepth:                5,
		StateConfig: state.Config{
			MaxEntries: 100_000,
			TTL:        time.Hour,
			Eviction:   state.EvictLRU,
		},
	}
}

// ConfigBuilder provides the teacher's fluent RouterConfigBuilder idiom.
type ConfigBuilder struct {
	cfg Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: DefaultConfig()}
}

func (b *ConfigBuilder) Name(name string) *ConfigBuilder {
	b.cfg.Name = name
	return b
}

func (b *ConfigBuilder) MaxSessions(max int) *ConfigBuilder {
	b.cfg.MaxSessions = max
	return b
}

func (b *ConfigBuilder) SessionTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.SessionTimeout = d
	return b
}

func (b *ConfigBuilder) SecurityMode(mode security.Mode) *ConfigBuilder {
	b.cfg.SecurityMode = mode
	return b
}

func (b *ConfigBuilder) GestureCoalescing(enabled bool) *ConfigBuilder {
	b.cfg.GestureCoalescing = enabled
	return b
}

func (b *ConfigBuilder) GestureCoalesceInterval(d time.Duration) *ConfigBuilder {
	b.cfg.GestureCoalesceInterval = d
	return b
}

func (b *ConfigBuilder) Build() Config {
	return b.cfg
}
