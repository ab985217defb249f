// Package connectivity answers whether the remote identity service is
// reachable, caching the verdict for a configurable TTL.
package connectivity

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"roadworks-hub/config"
	"roadworks-hub/core/utils"
)

const (
	DefaultCheckURL = "https://identitytoolkit.googleapis.com"
	DefaultTTL      = 30 * time.Second
	DefaultTimeout  = 3 * time.Second
)

type State struct {
	LastChecked time.Time `json:"last_checked"`
	Online      bool      `json:"online"`
}

// Observer is notified after every completed check.
type Observer interface {
	ObserveConnectivity(online bool, took time.Duration)
}

type Options struct {
	CheckURL string
	TTL      time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Now      func() time.Time
	Observer Observer
}

type Probe struct {
	url      string
	ttl      time.Duration
	timeout  time.Duration
	client   *http.Client
	now      func() time.Time
	observer Observer
	logger   *utils.Logger

	group    singleflight.Group
	mu       sync.RWMutex
	state    State
	requests atomic.Int64
}

func NewProbe(opts Options, logger *utils.Logger) *Probe {
	if strings.TrimSpace(opts.CheckURL) == "" {
		opts.CheckURL = DefaultCheckURL
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Probe{
		url:      strings.TrimSpace(opts.CheckURL),
		ttl:      opts.TTL,
		timeout:  opts.Timeout,
		client:   client,
		now:      opts.Now,
		observer: opts.Observer,
		logger:   logger,
	}
}

func NewProbeFromConfig(cfg config.ConnectivityConfig, observer Observer, logger *utils.Logger) *Probe {
	return NewProbe(Options{
		CheckURL: cfg.CheckURL,
		TTL:      cfg.TTL,
		Timeout:  cfg.Timeout,
		Observer: observer,
	}, logger)
}

// IsOnline returns the cached verdict while it is younger than the TTL and
// refreshes it otherwise. Concurrent refreshes share one request.
func (p *Probe) IsOnline(ctx context.Context) bool {
	if p == nil {
		return false
	}
	if online, fresh := p.cached(); fresh {
		return online
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// The shared request outlives any single caller; a caller that gives up
	// sees offline without touching the cached verdict.
	shared := context.WithoutCancel(ctx)
	ch := p.group.DoChan("probe", func() (any, error) {
		if online, fresh := p.cached(); fresh {
			return online, nil
		}
		return p.check(shared), nil
	})
	select {
	case res := <-ch:
		online, _ := res.Val.(bool)
		return online
	case <-ctx.Done():
		return false
	}
}

// ForceCheck discards the cached verdict and always issues a new request.
func (p *Probe) ForceCheck(ctx context.Context) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	p.state.LastChecked = time.Time{}
	p.mu.Unlock()
	return p.check(ctx)
}

func (p *Probe) State() State {
	if p == nil {
		return State{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Requests is the number of reachability requests issued so far.
func (p *Probe) Requests() int64 {
	if p == nil {
		return 0
	}
	return p.requests.Load()
}

func (p *Probe) cached() (bool, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state.LastChecked.IsZero() {
		return false, false
	}
	return p.state.Online, p.now().Sub(p.state.LastChecked) < p.ttl
}

func (p *Probe) check(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	online := p.reachable(ctx)
	took := time.Since(started)
	if ctx.Err() != nil {
		p.logger.Debugf("connectivity: check abandoned: %v", ctx.Err())
		return false
	}

	p.mu.Lock()
	prev := p.state
	p.state = State{LastChecked: p.now(), Online: online}
	p.mu.Unlock()

	if prev.LastChecked.IsZero() || prev.Online != online {
		p.logger.Printf("connectivity: remote online=%t", online)
	}
	if p.observer != nil {
		p.observer.ObserveConnectivity(online, took)
	}
	return online
}

// reachable treats any 2xx-4xx response as online. Errors and 5xx are offline.
func (p *Probe) reachable(ctx context.Context) bool {
	p.requests.Add(1)
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Warnf("connectivity: bad check url %q: %v", p.url, err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debugf("connectivity: check failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}
