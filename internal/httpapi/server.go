// Package httpapi is the CLASP router's admin and observability HTTP
// surface (spec §6, health_port/metrics_port): health checks, aggregate
// metrics, and read-only introspection of live sessions and parameters.
// It never sits on the hot path of message dispatch — the wire protocol
// itself runs over internal/transport.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rustyguts/clasp/internal/journal"
	"github.com/rustyguts/clasp/internal/registry"
	"github.com/rustyguts/clasp/internal/router"
	"github.com/rustyguts/clasp/internal/wire"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the Echo application backing the admin surface.
type Server struct {
	echo      *echo.Echo
	router    *router.Router
	registry  registry.EntityStore
	journal   any // *journal.MemoryJournal, *journal.SQLiteJournal, or nil
	startedAt time.Time
}

// New constructs the admin app bound to rt. reg and jrn are both optional
// collaborators (pass nil for whichever isn't configured) that add the
// corresponding detail to /metrics and, for reg, are not otherwise exposed
// over HTTP since entity records may carry credentials.
func New(rt *router.Router, reg registry.EntityStore, jrn any) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{
		echo:      e,
		router:    rt,
		registry:  reg,
		journal:   jrn,
		startedAt: time.Now(),
	}
	s.registerRoutes()
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request via slog.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path

			// Skip noisy endpoints at debug level.
			if path == "/healthz" {
				slog.Debug("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				slog.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/metrics", s.handleMetrics)
	s.echo.GET("/v1/sessions", s.handleSessions)
	s.echo.GET("/v1/params", s.handleParams)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down admin http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("admin http server stopped")
		return nil
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Uptime:   humanize.RelTime(s.startedAt, time.Now(), "", ""),
		Sessions: s.router.SessionCount(),
	})
}

type metricsResponse struct {
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Sessions         int     `json:"sessions"`
	Subscriptions    int     `json:"subscriptions"`
	Params           int     `json:"params"`
	RegistryEntities *int    `json:"registry_entities,omitempty"`
	JournalEntries   *int    `json:"journal_entries,omitempty"`
	JournalLatestSeq *uint64 `json:"journal_latest_seq,omitempty"`
}

func (s *Server) handleMetrics(c echo.Context) error {
	resp := metricsResponse{
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Sessions:      s.router.SessionCount(),
		Subscriptions: s.router.SubscriptionCount(),
		Params:        s.router.ParamCount(),
	}

	if s.registry != nil {
		if n, err := s.registry.Count(); err != nil {
			slog.Warn("metrics: registry count failed", "err", err)
		} else {
			resp.RegistryEntities = &n
		}
	}

	if entries, latest, ok := journalStats(s.journal); ok {
		resp.JournalEntries = &entries
		resp.JournalLatestSeq = &latest
	}

	return c.JSON(http.StatusOK, resp)
}

// journalStats normalizes the two concrete journal implementations'
// slightly different (error-returning vs. not) accessor signatures for the
// metrics endpoint. ok is false when jrn is nil or an unrecognized type.
func journalStats(jrn any) (entries int, latestSeq uint64, ok bool) {
	switch j := jrn.(type) {
	case *journal.MemoryJournal:
		return j.Len(), j.LatestSeq(), true
	case *journal.SQLiteJournal:
		n, err := j.Len()
		if err != nil {
			slog.Warn("metrics: journal len failed", "err", err)
			return 0, 0, false
		}
		seq, err := j.LatestSeq()
		if err != nil {
			slog.Warn("metrics: journal latest_seq failed", "err", err)
			return 0, 0, false
		}
		return n, seq, true
	default:
		return 0, 0, false
	}
}

type sessionInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Features      []string `json:"features,omitempty"`
	Authenticated bool     `json:"authenticated"`
	Subject       string   `json:"subject,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	ConnectedFor  string   `json:"connected_for"`
}

type sessionsResponse struct {
	Count    int           `json:"count"`
	Sessions []sessionInfo `json:"sessions"`
}

func (s *Server) handleSessions(c echo.Context) error {
	sessions := s.router.Sessions()
	out := make([]sessionInfo, 0, len(sessions))
	now := time.Now()
	for _, sess := range sessions {
		scopes := make([]string, len(sess.Scopes))
		for i, sc := range sess.Scopes {
			scopes[i] = sc.String()
		}
		out = append(out, sessionInfo{
			ID:            sess.ID,
			Name:          sess.Name,
			Features:      sess.Features,
			Authenticated: sess.Authenticated,
			Subject:       sess.Subject,
			Scopes:        scopes,
			ConnectedFor:  humanize.RelTime(sess.CreatedAt, now, "", ""),
		})
	}
	return c.JSON(http.StatusOK, sessionsResponse{Count: len(out), Sessions: out})
}

type paramInfo struct {
	Address     string     `json:"address"`
	Value       wire.Value `json:"value"`
	Revision    uint64     `json:"revision"`
	Writer      string     `json:"writer"`
	TimestampUs int64      `json:"timestamp_us"`
	Strategy    string     `json:"strategy"`
	LockHolder  string     `json:"lock_holder,omitempty"`
	Origin      string     `json:"origin,omitempty"`
}

type paramsResponse struct {
	Count  int         `json:"count"`
	Params []paramInfo `json:"params"`
}

func (s *Server) handleParams(c echo.Context) error {
	snapshot := s.router.ParamSnapshot()
	out := make([]paramInfo, 0, len(snapshot))
	for addr, ps := range snapshot {
		val, _ := ps.Value.(wire.Value)
		out = append(out, paramInfo{
			Address:     addr,
			Value:       val,
			Revision:    ps.Revision,
			Writer:      ps.Writer,
			TimestampUs: ps.TimestampUs,
			Strategy:    ps.Strategy.String(),
			LockHolder:  ps.LockHolder,
			Origin:      ps.Origin,
		})
	}
	return c.JSON(http.StatusOK, paramsResponse{Count: len(out), Params: out})
}
