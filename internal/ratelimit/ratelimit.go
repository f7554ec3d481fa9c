// Package ratelimit spaces out requests to the same domain.
//
// Each domain gets its own token bucket of size one, refilled once per
// delay, and each request waits out the rest of the delay since the previous
// one plus a random jitter. A per-domain mutex is held for the whole acquire so callers on the
// same domain line up behind each other, while different domains never
// contend beyond a short map lookup.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/vrsandeep/citefetch/internal/util"
)

type domainState struct {
	mu         sync.Mutex
	limiter    *rate.Limiter
	delay      time.Duration
	last       time.Time
	cumulative time.Duration
}

// Limiter paces requests per domain key.
type Limiter struct {
	defaultDelay time.Duration
	jitterMax    time.Duration
	log          *zap.Logger

	mu      sync.Mutex
	domains map[string]*domainState

	now    func() time.Time
	jitter func(limit time.Duration) time.Duration
}

// New returns a limiter that keeps at least defaultDelay between requests
// to one domain, plus uniform jitter in [0, jitterMax]. A zero
// defaultDelay disables limiting entirely.
func New(defaultDelay, jitterMax time.Duration, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	if jitterMax < 0 {
		jitterMax = 0
	}
	return &Limiter{
		defaultDelay: defaultDelay,
		jitterMax:    jitterMax,
		log:          log,
		domains:      make(map[string]*domainState),
		now:          time.Now,
		jitter:       uniformJitter,
	}
}

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Enabled reports whether the limiter does any pacing.
func (l *Limiter) Enabled() bool {
	return l != nil && l.defaultDelay > 0
}

func (l *Limiter) state(domain string) *domainState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{delay: l.defaultDelay}
		if l.defaultDelay > 0 {
			st.limiter = rate.NewLimiter(rate.Every(l.defaultDelay), 1)
		}
		l.domains[domain] = st
	}
	return st
}

// SetDomainDelay raises the spacing for domain to d, for example from a
// robots.txt crawl-delay. Values below the current spacing are ignored, as
// are all calls on a disabled limiter.
func (l *Limiter) SetDomainDelay(domain string, d time.Duration) {
	if !l.Enabled() {
		return
	}
	st := l.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()
	if d <= st.delay {
		return
	}
	st.delay = d
	st.limiter.SetLimit(rate.Every(d))
	l.log.Debug("Domain delay raised", zap.String("domain", domain), zap.Duration("delay", d))
}

// DomainDelay returns the spacing currently applied to domain.
func (l *Limiter) DomainDelay(domain string) time.Duration {
	if !l.Enabled() {
		return 0
	}
	st := l.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.delay
}

// Acquire blocks until a request to domain may be sent. It returns the
// context error if ctx ends while waiting.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	if !l.Enabled() {
		return nil
	}
	st := l.state(domain)

	st.mu.Lock()
	defer st.mu.Unlock()

	start := l.now()
	if err := st.limiter.Wait(ctx); err != nil {
		return err
	}
	// The bucket measures from its own reservation time, so the remaining
	// gap is taken against the last stamp. Jitter is added on top of it.
	var wait time.Duration
	if !st.last.IsZero() {
		wait = max(st.delay-l.now().Sub(st.last), 0)
	}
	wait += l.jitter(l.jitterMax)
	if wait > 0 {
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}

	st.last = l.now()
	waited := st.last.Sub(start)
	st.cumulative += waited
	if waited > 0 {
		l.log.Debug("Rate limited request",
			zap.String("domain", domain), zap.Duration("waited", waited))
	}
	return nil
}

// AddCumulativeDelay records extra time spent on domain outside Acquire,
// such as retry backoff sleeps.
func (l *Limiter) AddCumulativeDelay(domain string, d time.Duration) {
	if d <= 0 {
		return
	}
	st := l.state(domain)
	st.mu.Lock()
	st.cumulative += d
	st.mu.Unlock()
}

// CumulativeDelay returns the total wait time attributed to domain.
func (l *Limiter) CumulativeDelay(domain string) time.Duration {
	l.mu.Lock()
	st, ok := l.domains[domain]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cumulative
}

// TimeSinceLastRequest returns how long ago a request to domain was last
// let through. The bool is false when none has been.
func (l *Limiter) TimeSinceLastRequest(domain string) (time.Duration, bool) {
	l.mu.Lock()
	st, ok := l.domains[domain]
	l.mu.Unlock()
	if !ok {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.last.IsZero() {
		return 0, false
	}
	return l.now().Sub(st.last), true
}

// DomainKey maps a URL to the key requests are paced on: the registrable
// domain (eTLD+1), so that a.example.org and b.example.org share a slot.
// IP addresses and single-label hosts are used as-is.
func DomainKey(rawURL string) string {
	host, err := util.HostOf(rawURL)
	if err != nil || host == "" {
		return strings.ToLower(strings.TrimSpace(rawURL))
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	key, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return key
}
