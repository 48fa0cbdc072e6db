package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rustyguts/clasp/internal/journal"
	"github.com/rustyguts/clasp/internal/registry"
	"github.com/rustyguts/clasp/internal/router"
	"github.com/rustyguts/clasp/internal/wire"
)

// fakeConn mirrors the router package's own test double: a Receiver and
// session.Sender backed by an in-memory channel.
type fakeConn struct {
	in chan []byte

	mu  sync.Mutex
	out [][]byte

	closed atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64)}
}

func (c *fakeConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) push(t *testing.T, m *wire.Message) {
	t.Helper()
	b, err := wire.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.in <- b
}

func newTestRouter(t *testing.T) *router.Router {
	t.Helper()
	cfg := router.DefaultConfig()
	cfg.MaxSessions = 10
	r := router.New(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)
	t.Cleanup(r.Stop)
	return r
}

func connectSession(t *testing.T, r *router.Router, name string) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	go r.HandleConnection(context.Background(), conn, conn, "test")
	conn.push(t, &wire.Message{Type: wire.TypeHello, Hello: &wire.Hello{Version: 1, Name: name}})

	deadline := time.After(time.Second)
	for {
		conn.mu.Lock()
		n := len(conn.out)
		conn.mu.Unlock()
		if n > 0 {
			return conn
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for WELCOME")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestHealthzReportsSessionCount(t *testing.T) {
	r := newTestRouter(t)
	connectSession(t, r, "alice")

	api := New(r, nil, nil)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.Sessions != 1 {
		t.Fatalf("unexpected health payload: %#v", health)
	}
}

func TestSessionsListsConnectedSessions(t *testing.T) {
	r := newTestRouter(t)
	connectSession(t, r, "bob")

	api := New(r, nil, nil)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions")
	if err != nil {
		t.Fatalf("GET /v1/sessions: %v", err)
	}
	defer resp.Body.Close()
	var body sessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Sessions[0].Name != "bob" {
		t.Fatalf("unexpected sessions payload: %#v", body)
	}
}

func TestParamsReflectsLiveStore(t *testing.T) {
	r := newTestRouter(t)
	conn := connectSession(t, r, "carol")
	conn.push(t, &wire.Message{Type: wire.TypeSet, Set: &wire.Set{Address: "/lights/kitchen", Value: wire.IntV(1)}})

	deadline := time.Now().Add(time.Second)
	for r.ParamCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	api := New(r, nil, nil)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/params")
	if err != nil {
		t.Fatalf("GET /v1/params: %v", err)
	}
	defer resp.Body.Close()
	var body paramsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Params[0].Address != "/lights/kitchen" {
		t.Fatalf("unexpected params payload: %#v", body)
	}
}

func TestMetricsIncludesRegistryAndJournalWhenConfigured(t *testing.T) {
	r := newTestRouter(t)

	reg := registry.NewMemoryStore()
	if err := reg.Create(&registry.Entity{
		ID: "dev1", Type: registry.EntityDevice, Name: "dev1",
		CreatedAt: time.Now(), Status: registry.StatusActive,
	}); err != nil {
		t.Fatalf("create entity: %v", err)
	}

	jrn := journal.NewMemoryJournal(journal.DefaultMemoryCapacity)
	if err := jrn.Append(router.JournalEntry{Seq: 0, Address: "/a", MsgType: wire.TypeSet}); err != nil {
		t.Fatalf("append: %v", err)
	}

	api := New(r, reg, jrn)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	var body metricsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RegistryEntities == nil || *body.RegistryEntities != 1 {
		t.Fatalf("expected registry_entities=1, got %#v", body.RegistryEntities)
	}
	if body.JournalEntries == nil || *body.JournalEntries != 1 {
		t.Fatalf("expected journal_entries=1, got %#v", body.JournalEntries)
	}
}

func TestMetricsOmitsOptionalFieldsWhenNotConfigured(t *testing.T) {
	r := newTestRouter(t)
	api := New(r, nil, nil)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"registry_entities", "journal_entries", "journal_latest_seq"} {
		if _, present := generic[field]; present {
			t.Fatalf("expected %q to be omitted, got %v", field, generic)
		}
	}
}
