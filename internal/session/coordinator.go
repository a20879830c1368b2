// Package session implements the per-session coordination record from
// spec §4.D: at most one in-flight upstream fetch and one pending debounce
// per session, serialized so two turns never race on the same session's
// state. Coordination is inherently process-local — a cancellation handle
// is a Go context.CancelFunc, which cannot be handed to another process —
// so unlike the dedup cache, this package has no Redis-backed variant.
package session

import (
	"context"
	"sync"
	"time"
)

// Outcome is the result of ArmPending.
type Outcome int

const (
	Settled Outcome = iota
	Superseded
)

// inFlight is the currently running upstream fetch for a session.
type inFlight struct {
	cancel   context.CancelFunc
	userText string
}

// pending is an armed debounce wait. It is identified by its own pointer;
// SupersedePending and ArmPending only ever act on the record's *current*
// pending pointer, which guards against a late-arriving handle from an
// older turn clobbering a newer one.
type pending struct {
	superseded chan struct{}
}

type record struct {
	mu       sync.Mutex
	inFlight *inFlight
	pending  *pending
}

func (r *record) idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight == nil && r.pending == nil
}

// Coordinator owns the process-wide map of session records. Sessions are
// created lazily and reaped by Sweep once both inFlight and pending are
// empty.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*record
}

func New() *Coordinator {
	return &Coordinator{sessions: make(map[string]*record)}
}

func (c *Coordinator) recordFor(sessionID string) *record {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.sessions[sessionID]
	if !ok {
		r = &record{}
		c.sessions[sessionID] = r
	}
	return r
}

// AbortInFlight cancels and clears the session's in-flight handle, if any.
// Cancellation causes the upstream fetch to fail with context.Canceled,
// which the turn pipeline treats as an expected outcome.
func (c *Coordinator) AbortInFlight(sessionID string) {
	r := c.recordFor(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight != nil {
		r.inFlight.cancel()
		r.inFlight = nil
	}
}

// SupersedePending cancels any armed debounce wait for the session.
func (c *Coordinator) SupersedePending(sessionID string) {
	r := c.recordFor(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		close(r.pending.superseded)
		r.pending = nil
	}
}

// ArmPending installs a fresh pending handle, sleeps for wait, and reports
// whether it survived undisturbed. A call to SupersedePending for this
// session resolves the wait early as Superseded; a later ArmPending that
// replaces the handle without one makes this wait report Superseded once
// its timer fires.
func (c *Coordinator) ArmPending(ctx context.Context, sessionID string, wait time.Duration) Outcome {
	r := c.recordFor(sessionID)

	p := &pending{superseded: make(chan struct{})}
	r.mu.Lock()
	r.pending = p
	r.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-p.superseded:
		return Superseded
	case <-timer.C:
	case <-ctx.Done():
		// Treat a cancelled context the same as surviving the debounce; the
		// caller is responsible for checking ctx itself afterward.
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != p {
		// Already superseded and replaced between the timer firing and the
		// lock being acquired.
		return Superseded
	}
	r.pending = nil
	return Settled
}

// SetInFlight registers cancel as the session's current in-flight handle.
// It returns a clear function that releases the handle only if it still
// points at this exact handle — the pointer-identity guard from §4.F step
// 13/14 that stops a late cleanup from a superseded turn from evicting a
// newer turn's handle.
func (c *Coordinator) SetInFlight(sessionID string, cancel context.CancelFunc, userText string) (clear func()) {
	r := c.recordFor(sessionID)
	h := &inFlight{cancel: cancel, userText: userText}

	r.mu.Lock()
	r.inFlight = h
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.inFlight == h {
			r.inFlight = nil
		}
	}
}

// Sweep removes session records that are fully idle, bounding the map's
// growth across the lifetime of the process.
func (c *Coordinator) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, r := range c.sessions {
		if r.idle() {
			delete(c.sessions, id)
			removed++
		}
	}
	return removed
}
