package downloader

import "sync"

// InterruptFlag is a cooperative stop signal shared by the workers of a
// run. Once set, no new jobs are claimed. The zero value is ready to use
// and a nil flag is never set.
type InterruptFlag struct {
	mu   sync.Mutex
	set  bool
	done chan struct{}
}

func NewInterruptFlag() *InterruptFlag {
	return &InterruptFlag{}
}

// Set raises the flag. Calling it more than once is harmless.
func (f *InterruptFlag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return
	}
	f.set = true
	if f.done == nil {
		f.done = make(chan struct{})
	}
	close(f.done)
}

func (f *InterruptFlag) IsSet() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Done is closed when the flag is set. It is nil for a nil flag, which
// blocks forever in a select.
func (f *InterruptFlag) Done() <-chan struct{} {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done == nil {
		f.done = make(chan struct{})
	}
	return f.done
}
