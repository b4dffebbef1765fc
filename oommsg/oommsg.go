// Package oommsg is a one-shot notification channel for frame-pool
// exhaustion: when the frame allocator cannot satisfy a request and
// eviction also fails to free one, the fault handler sends on OomCh before
// panicking, giving a test harness or a monitoring goroutine a chance to
// observe the condition.
package oommsg

/// OomCh is notified when the system runs out of memory.
var OomCh chan Oommsg_t = make(chan Oommsg_t)

/// Oommsg_t is sent on OomCh when memory is exhausted.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}
