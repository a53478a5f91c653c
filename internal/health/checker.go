// Package health tracks the reachability of the services suivi depends on: the database, the
// Redis session store and the directory authority.
package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"

	DefaultInterval           = 30 * time.Second
	DefaultTimeout            = 2 * time.Second
	DefaultUnhealthyThreshold = 2
)

// Probe checks one dependency. A failing critical probe makes the whole service unavailable;
// other probes only degrade it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Pinger is implemented by the database store and the Redis client wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

func PingProbe(name string, critical bool, p Pinger) Probe {
	return Probe{Name: name, Critical: critical, Check: p.Ping}
}

// TCPProbe dials the host of rawURL, inferring the port from the scheme when it is missing.
func TCPProbe(name, rawURL string) Probe {
	return Probe{
		Name: name,
		Check: func(ctx context.Context) error {
			u, err := url.Parse(rawURL)
			if err != nil {
				return err
			}
			host, port := u.Hostname(), u.Port()
			if port == "" {
				port = "80"
				if u.Scheme == "https" {
					port = "443"
				}
			}
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
}

// Status is the last known state of one probe.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Critical  bool      `json:"critical"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type Report struct {
	Status string            `json:"status"`
	Checks map[string]Status `json:"checks"`
}

type probeState struct {
	status   Status
	failures int
}

// Checker periodically runs its probes. A probe turns unhealthy after the configured number of
// consecutive failures and healthy again after one success.
type Checker struct {
	interval  time.Duration
	timeout   time.Duration
	threshold int
	probes    []Probe
	mu        sync.RWMutex
	state     map[string]*probeState
	logger    *zap.Logger
	now       func() time.Time
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewChecker creates a checker. Zero values select the defaults.
func NewChecker(interval, timeout time.Duration, threshold int, logger *zap.Logger, probes ...Probe) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if threshold <= 0 {
		threshold = DefaultUnhealthyThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checker{
		interval:  interval,
		timeout:   timeout,
		threshold: threshold,
		probes:    probes,
		state:     make(map[string]*probeState, len(probes)),
		logger:    logger,
		now:       time.Now,
	}
	for _, p := range probes {
		c.state[p.Name] = &probeState{status: Status{Healthy: true, Critical: p.Critical}}
	}
	return c
}

// Start runs every probe once, then keeps checking in the background.
func (c *Checker) Start(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Info("Health checker already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.CheckNow(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.logger.Info("Health checker started", zap.Duration("interval", c.interval))
		for {
			select {
			case <-ticker.C:
				c.CheckNow(ctx)
			case <-ctx.Done():
				c.logger.Info("Health checker stopping")
				return
			}
		}
	}()
}

// Stop halts the background checks and waits for the loop to exit.
func (c *Checker) Stop() {
	if c.running.Load() {
		c.cancel()
		c.wg.Wait()
		c.running.Store(false)
	}
}

// CheckNow runs every probe concurrently and records the results.
func (c *Checker) CheckNow(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			c.record(p, p.Check(pctx))
		}(p)
	}
	wg.Wait()
}

func (c *Checker) record(p Probe, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state[p.Name]
	st.status.CheckedAt = c.now()
	if err == nil {
		st.failures = 0
		st.status.LastError = ""
		if !st.status.Healthy {
			c.logger.Info(fmt.Sprintf("Dependency %s marked as healthy", p.Name))
		}
		st.status.Healthy = true
		return
	}

	st.failures++
	st.status.LastError = err.Error()
	if st.failures >= c.threshold && st.status.Healthy {
		st.status.Healthy = false
		c.logger.Warn(fmt.Sprintf("Dependency %s marked as unhealthy", p.Name),
			zap.Bool("critical", p.Critical),
			zap.Int("failures", st.failures),
			zap.Error(err))
	}
}

// Report returns the current state of every probe.
func (c *Checker) Report() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := Report{Status: StatusOK, Checks: make(map[string]Status, len(c.state))}
	for name, st := range c.state {
		r.Checks[name] = st.status
		if st.status.Healthy {
			continue
		}
		if st.status.Critical {
			r.Status = StatusUnavailable
		} else if r.Status == StatusOK {
			r.Status = StatusDegraded
		}
	}
	return r
}
