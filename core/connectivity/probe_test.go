package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestIsOnlineCachesWithinTTL(t *testing.T) {
	srv, hits := newServer(t, http.StatusNotFound)
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	p := NewProbe(Options{CheckURL: srv.URL, TTL: 30 * time.Second, Now: clock.Now}, nil)
	ctx := context.Background()

	if !p.IsOnline(ctx) {
		t.Fatalf("404 must count as online")
	}
	clock.Advance(10 * time.Second)
	if !p.IsOnline(ctx) {
		t.Fatalf("expected cached online")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one request within ttl, got %d", hits.Load())
	}
	clock.Advance(25 * time.Second)
	p.IsOnline(ctx)
	if hits.Load() != 2 {
		t.Fatalf("expected refresh after ttl, got %d", hits.Load())
	}
}

func TestForceCheckAlwaysRequests(t *testing.T) {
	srv, hits := newServer(t, http.StatusOK)
	p := NewProbe(Options{CheckURL: srv.URL, TTL: time.Hour}, nil)
	ctx := context.Background()
	p.IsOnline(ctx)
	p.ForceCheck(ctx)
	p.ForceCheck(ctx)
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
	if p.Requests() != 3 {
		t.Fatalf("unexpected request counter %d", p.Requests())
	}
}

func TestServerErrorIsOffline(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadGateway)
	p := NewProbe(Options{CheckURL: srv.URL}, nil)
	if p.IsOnline(context.Background()) {
		t.Fatalf("5xx must count as offline")
	}
	if st := p.State(); st.Online || st.LastChecked.IsZero() {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestUnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	p := NewProbe(Options{CheckURL: url, Timeout: 500 * time.Millisecond}, nil)
	if p.IsOnline(context.Background()) {
		t.Fatalf("closed server must count as offline")
	}
}

func TestTimeoutIsOffline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	p := NewProbe(Options{CheckURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	if p.ForceCheck(context.Background()) {
		t.Fatalf("timed out check must count as offline")
	}
}

func TestCancelledCallerDoesNotPoisonCache(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK)
	p := NewProbe(Options{CheckURL: srv.URL, TTL: time.Minute}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.IsOnline(ctx)
	if !p.IsOnline(context.Background()) {
		t.Fatalf("cancelled caller must not cache offline, state=%+v", p.State())
	}
}

func TestForceCheckWithCancelledContextKeepsVerdict(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK)
	p := NewProbe(Options{CheckURL: srv.URL, TTL: time.Minute}, nil)
	if !p.ForceCheck(context.Background()) {
		t.Fatalf("expected online")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if p.ForceCheck(ctx) {
		t.Fatalf("cancelled check must report offline to its caller")
	}
	if st := p.State(); !st.Online {
		t.Fatalf("cancelled check must not overwrite the verdict, state=%+v", st)
	}
}

type recordingObserver struct {
	calls atomic.Int64
	last  atomic.Bool
}

func (o *recordingObserver) ObserveConnectivity(online bool, _ time.Duration) {
	o.calls.Add(1)
	o.last.Store(online)
}

func TestObserverNotified(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized)
	obs := &recordingObserver{}
	p := NewProbe(Options{CheckURL: srv.URL, Observer: obs}, nil)
	p.ForceCheck(context.Background())
	if obs.calls.Load() != 1 || !obs.last.Load() {
		t.Fatalf("observer not notified correctly")
	}
}
