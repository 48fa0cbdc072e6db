// Command claspd is the CLASP router binary: it wires together the router
// core, the optional rules/federation/journal/registry collaborators, and
// the WebSocket/WebTransport/admin-HTTP listeners named in SPEC_FULL.md §6.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/rustyguts/clasp/internal/capability"
	claspconfig "github.com/rustyguts/clasp/internal/config"
	"github.com/rustyguts/clasp/internal/federation"
	"github.com/rustyguts/clasp/internal/httpapi"
	"github.com/rustyguts/clasp/internal/journal"
	"github.com/rustyguts/clasp/internal/registry"
	"github.com/rustyguts/clasp/internal/router"
	"github.com/rustyguts/clasp/internal/rules"
	"github.com/rustyguts/clasp/internal/security"
	"github.com/rustyguts/clasp/internal/tlsutil"
	"github.com/rustyguts/clasp/internal/transport"

	"github.com/labstack/echo/v4"
)

func main() {
	configPath := flag.String("config", "", "path to a claspd JSON config file (see internal/config)")
	wsPort := flag.Int("ws-port", 0, "WebSocket listen port (0: use config/default)")
	quicPort := flag.Int("quic-port", 0, "QUIC/WebTransport listen port (0: use config/default; disabled if both are 0)")
	healthPort := flag.Int("health-port", 0, "admin/observability HTTP listen port (0: use config/default)")
	certPath := flag.String("cert", "", "TLS certificate path (self-signed if omitted)")
	keyPath := flag.String("key", "", "TLS key path (self-signed if omitted)")
	maxSessions := flag.Int("max-sessions", 0, "maximum concurrent sessions (0: use config/default)")
	sessionTimeout := flag.Duration("session-timeout", 0, "idle session timeout (0: use config/default)")
	journalPath := flag.String("journal", "", "SQLite journal path (empty: in-memory journal)")
	registryPath := flag.String("registry", "", "SQLite entity registry path (empty: in-memory registry)")
	routerID := flag.String("router-id", "", "this router's federation identity")
	securityMode := flag.String("security-mode", "open", "open or strict")
	logJSON := flag.Bool("log-json", false, "emit JSON logs instead of text")
	drainTimeout := flag.Duration("drain-timeout", 0, "graceful shutdown drain timeout (0: use config/default)")
	flag.Parse()

	configureLogging(*logJSON)

	cfg, err := claspconfig.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	applyFlagOverrides(&cfg, *wsPort, *quicPort, *healthPort, *certPath, *keyPath, *maxSessions, *sessionTimeout, *journalPath, *registryPath, *drainTimeout)

	mode := security.ModeOpen
	if *securityMode == "strict" {
		mode = security.ModeStrict
	}

	rcfg := router.DefaultConfig()
	rcfg.MaxSessions = cfg.MaxSessions
	rcfg.SessionTimeout = time.Duration(cfg.SessionTimeout)
	rcfg.SecurityMode = mode
	rcfg.MaxChainDepth = cfg.MaxChainDepth
	rcfg.RouterID = *routerID
	rcfg.StateConfig.TTL = time.Duration(cfg.ParamTTL)

	rt := router.New(rcfg, slog.Default())

	regStore, err := openRegistry(cfg.RegistryPath)
	if err != nil {
		slog.Error("open registry", "err", err)
		os.Exit(1)
	}

	anchors, err := registry.LoadTrustAnchors(regStore)
	if err != nil {
		slog.Error("load trust anchors", "err", err)
		os.Exit(1)
	}
	for _, hexKey := range cfg.TrustAnchor {
		key, err := hex.DecodeString(hexKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			slog.Warn("skipping malformed trust_anchor entry", "value", hexKey)
			continue
		}
		for k := range capability.NewTrustAnchors(ed25519.PublicKey(key)) {
			anchors[k] = struct{}{}
		}
	}
	rt.SetTrustAnchors(anchors)

	validator, err := registry.LoadCpskValidator(regStore)
	if err != nil {
		slog.Error("load cpsk validator", "err", err)
		os.Exit(1)
	}
	rt.SetValidator(validator)

	engine := rules.NewEngine()
	rt.SetRulesEngine(rules.NewRouterAdapter(engine))

	fedManager := federation.NewManager()
	rt.SetFederationForwarder(fedManager)

	var jrn any
	if cfg.JournalPath != "" {
		sj, err := journal.Open(cfg.JournalPath)
		if err != nil {
			slog.Error("open journal", "err", err)
			os.Exit(1)
		}
		defer sj.Close()
		rt.SetJournal(sj)
		jrn = sj
	} else {
		mj := journal.NewMemoryJournal(journal.DefaultMemoryCapacity)
		rt.SetJournal(mj)
		jrn = mj
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("claspd: shutting down")
		cancel()
	}()

	rt.Start(ctx)
	defer rt.Stop()

	wsAddr := fmt.Sprintf(":%d", cfg.WSPort)
	mat, err := tlsutil.LoadOrGenerate(cfg.Cert, cfg.Key, 24*time.Hour, hostnameFromAddr(wsAddr))
	if err != nil {
		slog.Error("tls material", "err", err)
		os.Exit(1)
	}
	slog.Info("claspd: tls certificate fingerprint", "fingerprint", mat.Fingerprint)

	wsHandler := transport.NewWSHandler(rt, slog.Default())
	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.HidePort = true
	wsHandler.Register(wsEcho)
	wsEcho.TLSServer.Addr = wsAddr
	wsEcho.TLSServer.TLSConfig = mat.Config
	go func() {
		if err := wsEcho.StartServer(wsEcho.TLSServer); err != nil && err != http.ErrServerClosed {
			slog.Error("ws listener", "err", err)
		}
	}()
	slog.Info("claspd: websocket listening", "addr", wsAddr)

	var wtHandler *transport.WTHandler
	if cfg.QUICPort != 0 {
		quicAddr := fmt.Sprintf(":%d", cfg.QUICPort)
		wtHandler = transport.NewWTHandler(rt, quicAddr, mat.Cert, slog.Default())
		mux := http.NewServeMux()
		wtHandler.Register(mux)
		go func() {
			if err := wtHandler.ListenAndServe(); err != nil {
				slog.Error("webtransport listener", "err", err)
			}
		}()
		slog.Info("claspd: webtransport listening", "addr", quicAddr)
	}

	var admin *httpapi.Server
	if cfg.HealthPort != 0 {
		adminAddr := fmt.Sprintf(":%d", cfg.HealthPort)
		admin = httpapi.New(rt, regStore, jrn)
		go func() {
			if err := admin.Run(ctx, adminAddr); err != nil {
				slog.Error("admin http listener", "err", err)
			}
		}()
		slog.Info("claspd: admin http listening", "addr", adminAddr)
	}

	<-ctx.Done()

	drain := time.Duration(cfg.DrainTimeout)
	if drain <= 0 {
		drain = 10 * time.Second
	}
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drain)
	defer drainCancel()
	_ = wsEcho.Shutdown(drainCtx)
	if wtHandler != nil {
		_ = wtHandler.Close()
	}
	slog.Info("claspd: stopped")
}

func configureLogging(asJSON bool) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if asJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func hostnameFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return host
}

func openRegistry(path string) (registry.EntityStore, error) {
	if path == "" {
		return registry.NewMemoryStore(), nil
	}
	return registry.Open(path)
}

// applyFlagOverrides implements main.go's "flags win" precedence over the
// loaded config file, matching the teacher's own flag-then-file layering.
func applyFlagOverrides(cfg *claspconfig.Config, wsPort, quicPort, healthPort int, cert, key string, maxSessions int, sessionTimeout time.Duration, journalPath, registryPath string, drainTimeout time.Duration) {
	if wsPort != 0 {
		cfg.WSPort = wsPort
	}
	if quicPort != 0 {
		cfg.QUICPort = quicPort
	}
	if healthPort != 0 {
		cfg.HealthPort = healthPort
	}
	if maxSessions > 0 {
		cfg.MaxSessions = maxSessions
	}
	if sessionTimeout > 0 {
		cfg.SessionTimeout = claspconfig.Duration(sessionTimeout)
	}
	if cert != "" {
		cfg.Cert = cert
	}
	if key != "" {
		cfg.Key = key
	}
	if journalPath != "" {
		cfg.JournalPath = journalPath
	}
	if registryPath != "" {
		cfg.RegistryPath = registryPath
	}
	if drainTimeout > 0 {
		cfg.DrainTimeout = claspconfig.Duration(drainTimeout)
	}
}
