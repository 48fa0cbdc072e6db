package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	failAll bool
}

func (f *fakeSender) Send(frame []byte) error {
	if f.failAll {
		return errors.New("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestTryDeliverAndPumpDeliversInOrder(t *testing.T) {
	fs := &fakeSender{}
	s := New("sess-1", "alice", nil, fs, Config{SendQueueSize: 4}, time.Now())
	go s.Pump()

	for i := 0; i < 3; i++ {
		if !s.TryDeliver([]byte{byte(i)}) {
			t.Fatalf("expected delivery %d to succeed", i)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fs.count() != 3 {
		t.Fatalf("expected 3 frames delivered, got %d", fs.count())
	}
	if !fs.closed {
		t.Fatal("expected underlying sender to be closed")
	}
}

func TestTryDeliverDropsOnFullQueue(t *testing.T) {
	fs := &fakeSender{}
	s := New("sess-1", "alice", nil, fs, Config{SendQueueSize: 1}, time.Now())
	// no Pump running: the queue fills after one send.
	if !s.TryDeliver([]byte("a")) {
		t.Fatal("expected first delivery to succeed")
	}
	if s.TryDeliver([]byte("b")) {
		t.Fatal("expected second delivery to be dropped")
	}
	if got := s.DropsInWindow(time.Now()); got != 1 {
		t.Fatalf("expected 1 drop recorded, got %d", got)
	}
}

func TestOverflowNoticeFiresOncePerInterval(t *testing.T) {
	fs := &fakeSender{}
	s := New("sess-1", "alice", nil, fs, Config{SendQueueSize: 1}, time.Now())
	s.TryDeliver([]byte("a")) // fills the queue

	for i := 0; i < dropThreshold+1; i++ {
		s.TryDeliver([]byte("overflow"))
	}
	now := time.Now()
	if !s.OverflowNoticeDue(now) {
		t.Fatal("expected overflow notice to be due after exceeding threshold")
	}
	if s.OverflowNoticeDue(now) {
		t.Fatal("expected overflow notice to be suppressed within the notice interval")
	}
}

func TestAllowMessageRateLimitsPerSession(t *testing.T) {
	fs := &fakeSender{}
	s := New("sess-1", "alice", nil, fs, Config{MaxMsgsPerSec: 2}, time.Now())
	allowed := 0
	for i := 0; i < 5; i++ {
		if s.AllowMessage() {
			allowed++
		}
	}
	if allowed >= 5 {
		t.Fatalf("expected rate limiting to reject some of 5 rapid messages, allowed=%d", allowed)
	}
}

func TestAllowMessageUnboundedWhenNoLimitConfigured(t *testing.T) {
	fs := &fakeSender{}
	s := New("sess-1", "alice", nil, fs, Config{}, time.Now())
	for i := 0; i < 100; i++ {
		if !s.AllowMessage() {
			t.Fatal("expected no rate limiting when MaxMsgsPerSec is zero")
		}
	}
}

func TestIdleSinceTracksTouch(t *testing.T) {
	fs := &fakeSender{}
	start := time.Now()
	s := New("sess-1", "alice", nil, fs, Config{}, start)
	later := start.Add(5 * time.Second)
	if d := s.IdleSince(later); d != 5*time.Second {
		t.Fatalf("expected 5s idle, got %v", d)
	}
	s.Touch(later)
	if d := s.IdleSince(later); d != 0 {
		t.Fatalf("expected 0 idle after touch, got %v", d)
	}
}

func TestRegistryRegisterAndSweepIdle(t *testing.T) {
	reg := NewRegistry()
	start := time.Now()

	active := New("active", "alice", nil, &fakeSender{}, Config{}, start)
	idle := New("idle", "bob", nil, &fakeSender{}, Config{}, start)
	reg.Register(active)
	reg.Register(idle)

	later := start.Add(time.Minute)
	active.Touch(later)

	stale := reg.SweepIdle(later, 30*time.Second)
	if len(stale) != 1 || stale[0].ID != "idle" {
		t.Fatalf("expected only idle session flagged stale, got %v", stale)
	}
}

func TestRegistryUnregisterRemovesSession(t *testing.T) {
	reg := NewRegistry()
	s := New("sess-1", "alice", nil, &fakeSender{}, Config{}, time.Now())
	reg.Register(s)
	if reg.Len() != 1 {
		t.Fatalf("expected 1 registered session, got %d", reg.Len())
	}
	reg.Unregister("sess-1")
	if _, ok := reg.Get("sess-1"); ok {
		t.Fatal("expected session to be gone after unregister")
	}
}

func TestCheckIntervalHasMinimumFloor(t *testing.T) {
	cfg := IdleTimeoutConfig{SessionTimeout: 20 * time.Second}
	if got := cfg.CheckInterval(); got != 10*time.Second {
		t.Fatalf("expected 10s floor, got %v", got)
	}
	cfg2 := IdleTimeoutConfig{SessionTimeout: 200 * time.Second}
	if got := cfg2.CheckInterval(); got != 50*time.Second {
		t.Fatalf("expected 50s, got %v", got)
	}
}
