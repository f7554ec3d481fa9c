package ratelimit

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scheduling slack between the stamp inside Acquire and the caller
// observing the return.
const slack = 2 * time.Millisecond

func TestAcquireSpacesSameDomain(t *testing.T) {
	const delay = 60 * time.Millisecond
	l := New(delay, 0, nil)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(ctx, "example.org"))
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, times, 4)
	slices.SortFunc(times, time.Time.Compare)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, delay-slack, "gap %d was %v", i, gap)
	}
	assert.GreaterOrEqual(t, l.CumulativeDelay("example.org"), 3*delay-4*slack)
}

func TestAcquireDomainsAreIndependent(t *testing.T) {
	const delay = 300 * time.Millisecond
	l := New(delay, 0, nil)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "a.org"))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "b.org"))
	require.NoError(t, l.Acquire(ctx, "c.org"))
	assert.Less(t, time.Since(start), delay/2)
}

func TestAcquireDisabled(t *testing.T) {
	l := New(0, time.Second, nil)
	assert.False(t, l.Enabled())

	start := time.Now()
	for range 5 {
		require.NoError(t, l.Acquire(context.Background(), "a.org"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	_, ok := l.TimeSinceLastRequest("a.org")
	assert.False(t, ok)
}

func TestAcquireHonoursContext(t *testing.T) {
	l := New(time.Hour, 0, nil)
	require.NoError(t, l.Acquire(context.Background(), "a.org"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Acquire(ctx, "a.org"))
}

func TestJitterIsAdded(t *testing.T) {
	l := New(10*time.Millisecond, 40*time.Millisecond, nil)
	l.jitter = func(limit time.Duration) time.Duration { return limit }

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), "a.org"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestJitterAddsToSpacing(t *testing.T) {
	const (
		delay  = 100 * time.Millisecond
		jitter = 60 * time.Millisecond
	)
	l := New(delay, jitter, nil)
	l.jitter = func(limit time.Duration) time.Duration { return limit }
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "a.org"))
	first := time.Now()
	require.NoError(t, l.Acquire(ctx, "a.org"))
	gap := time.Since(first)

	assert.GreaterOrEqual(t, gap, delay+jitter-slack)
}

func TestSetDomainDelay(t *testing.T) {
	const (
		base  = 20 * time.Millisecond
		crawl = 120 * time.Millisecond
	)
	l := New(base, 0, nil)
	ctx := context.Background()

	l.SetDomainDelay("a.org", crawl)
	l.SetDomainDelay("a.org", time.Millisecond)
	assert.Equal(t, crawl, l.DomainDelay("a.org"))
	assert.Equal(t, base, l.DomainDelay("b.org"))

	require.NoError(t, l.Acquire(ctx, "a.org"))
	first := time.Now()
	require.NoError(t, l.Acquire(ctx, "a.org"))
	assert.GreaterOrEqual(t, time.Since(first), crawl-slack)

	disabled := New(0, 0, nil)
	disabled.SetDomainDelay("a.org", time.Hour)
	assert.Zero(t, disabled.DomainDelay("a.org"))
	start := time.Now()
	require.NoError(t, disabled.Acquire(ctx, "a.org"))
	require.NoError(t, disabled.Acquire(ctx, "a.org"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestUniformJitterBounds(t *testing.T) {
	for range 1000 {
		j := uniformJitter(5 * time.Millisecond)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.LessOrEqual(t, j, 5*time.Millisecond)
	}
	assert.Zero(t, uniformJitter(0))
}

func TestCumulativeAndLastRequest(t *testing.T) {
	l := New(time.Millisecond, 0, nil)
	assert.Zero(t, l.CumulativeDelay("a.org"))

	l.AddCumulativeDelay("a.org", 2*time.Second)
	l.AddCumulativeDelay("a.org", -time.Second)
	assert.GreaterOrEqual(t, l.CumulativeDelay("a.org"), 2*time.Second)

	_, ok := l.TimeSinceLastRequest("a.org")
	assert.False(t, ok)
	require.NoError(t, l.Acquire(context.Background(), "a.org"))
	since, ok := l.TimeSinceLastRequest("a.org")
	assert.True(t, ok)
	assert.Less(t, since, time.Second)
}

func TestDomainKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://arxiv.org/abs/1706.03762", "arxiv.org"},
		{"https://export.arxiv.org/pdf/1706.03762", "arxiv.org"},
		{"https://www.bbc.co.uk/news", "bbc.co.uk"},
		{"http://127.0.0.1:8080/file.pdf", "127.0.0.1"},
		{"http://localhost:9000/x", "localhost"},
		{"http://[::1]:9000/x", "::1"},
		{"HTTPS://Example.COM/a", "example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DomainKey(tt.in), tt.in)
	}
}
