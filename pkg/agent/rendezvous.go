package agent

import (
	"sync"
	"sync/atomic"
)

// rendezvousSlot synchronizes a code object refresh request with its
// acknowledgement by the session goroutine. At most one request can be in
// flight; a second concurrent request is a caller bug and panics, as does an
// acknowledgement that arrives with no request armed.
type rendezvousSlot struct {
	armed atomic.Bool

	mu   sync.Mutex
	done chan struct{}
}

// arm claims the slot and returns the channel the session goroutine closes
// once the rendezvous breakpoint hit has been reported.
func (r *rendezvousSlot) arm() <-chan struct{} {
	if r.armed.Swap(true) {
		panic("code object refresh already in flight")
	}
	ch := make(chan struct{})
	r.mu.Lock()
	r.done = ch
	r.mu.Unlock()
	return ch
}

// disarm releases the slot for the next request. Called by the requester
// after the completion channel is closed.
func (r *rendezvousSlot) disarm() {
	r.mu.Lock()
	r.done = nil
	r.mu.Unlock()
	r.armed.Store(false)
}

// complete signals the requester. Called on the session goroutine when the
// 'b' command has been processed.
func (r *rendezvousSlot) complete() {
	if !r.armed.Load() {
		panic("breakpoint rendezvous acknowledged with no request in flight")
	}
	r.mu.Lock()
	ch := r.done
	r.done = nil
	r.mu.Unlock()
	if ch == nil {
		panic("breakpoint rendezvous completed twice")
	}
	close(ch)
}
