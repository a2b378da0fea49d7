// Package bundler builds OSC bundles with nested, time-shifted scopes.
//
// A Bundler accumulates messages and nested Bundlers under a scheduling
// base that is either an absolute Timetag or an offset relative to
// whatever base it is itself nested under. Wait pushes the current
// scope forward in time without changing the caller's reference to the
// Bundler, mirroring the add/wait/build pattern used by the scheduling
// layer this package's owner is modeled on: call Wait between groups of
// Add calls to lay out a single OSC bundle across several points in
// time, then Build once to flatten it into wire-ready nested bundles.
//
// Because Go has no safe equivalent of a thread-local "currently open
// bundler", the capture-scope primitive is built on top of
// context.Context rather than a goroutine-local stack: Enter returns a
// context carrying the Bundler as the active scope (readable anywhere
// downstream with Current) plus a Scope handle; deferring Scope.Exit
// closes the scope and, if the Bundler was built with
// WithSendOnExit(true), flattens and sends it. WithCapture/Current
// remain available directly for callers that only need the read side.
package bundler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oschost/sc3osc/osc"
	"github.com/oschost/sc3osc/oscerr"
)

// Sender is anything a Bundler can hand its built packet to. A
// *transport.Transport satisfies this.
type Sender interface {
	Send(pkt osc.Packet) error
}

// Bundler accumulates OSC messages and nested bundlers under a single
// scheduling base.
type Bundler struct {
	mu sync.Mutex

	hasAbsolute bool
	absolute    osc.Timetag
	offset      time.Duration

	elements []interface{} // *osc.Message or *Bundler

	target *Bundler // scope Add/Wait currently operate on

	receiver   Sender
	sendOnExit bool
	built      bool
}

// Option configures a Bundler at construction time.
type Option func(*Bundler)

// WithTimetag schedules the bundler at an absolute time, overriding any
// offset it would otherwise inherit from an enclosing bundler.
func WithTimetag(t osc.Timetag) Option {
	return func(b *Bundler) {
		b.hasAbsolute = true
		b.absolute = t
	}
}

// WithLatency schedules the bundler d after whatever base it is nested
// under (or after now, for a top-level bundler).
func WithLatency(d time.Duration) Option {
	return func(b *Bundler) {
		b.hasAbsolute = false
		b.offset = d
	}
}

// WithReceiver sets the Sender that Send will deliver the built packet
// to.
func WithReceiver(s Sender) Option {
	return func(b *Bundler) { b.receiver = s }
}

// WithSendOnExit marks the bundler to be sent automatically when
// Scope.Exit closes the capture scope opened by Enter, rather than
// requiring an explicit Send call.
func WithSendOnExit(v bool) Option {
	return func(b *Bundler) { b.sendOnExit = v }
}

// New creates a Bundler. With no options its timetag is the wall-clock
// time at which Build flattens it.
func New(opts ...Option) *Bundler {
	b := &Bundler{}
	b.target = b
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends messages and/or nested bundlers to whatever scope is
// currently active (the bundler itself, or the most recent Wait scope).
func (b *Bundler) Add(elements ...interface{}) error {
	b.mu.Lock()
	sent := b.built
	b.mu.Unlock()
	if sent {
		return oscerr.ErrFinalized
	}

	t := b.currentTarget()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.built {
		return oscerr.ErrFinalized
	}

	for _, e := range elements {
		switch e.(type) {
		case *osc.Message, *Bundler:
			t.elements = append(t.elements, e)
		default:
			return fmt.Errorf("bundler: unsupported element type %T", e)
		}
	}
	return nil
}

// Wait advances the active scope by d: elements added after Wait are
// scheduled d after elements added before it. Wait returns b, so calls
// can be chained: b.Wait(time.Second).Add(msg).
func (b *Bundler) Wait(d time.Duration) *Bundler {
	t := b.currentTarget()

	t.mu.Lock()
	child := &Bundler{offset: d}
	child.target = child
	t.elements = append(t.elements, child)
	t.mu.Unlock()

	b.mu.Lock()
	b.target = child
	b.mu.Unlock()

	return b
}

// currentTarget resolves the scope Add/Wait operate on, defaulting to b
// itself if it has never called Wait.
func (b *Bundler) currentTarget() *Bundler {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.target == nil {
		return b
	}
	return b.target
}

// Messages returns every message reachable from the bundler, in
// depth-first order, discarding scheduling structure. Useful for tests
// and diagnostics.
func (b *Bundler) Messages() []*osc.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*osc.Message
	for _, e := range b.elements {
		switch v := e.(type) {
		case *osc.Message:
			out = append(out, v)
		case *Bundler:
			out = append(out, v.Messages()...)
		}
	}
	return out
}

// Build flattens the bundler and all of its nested scopes into a wire
// ready *osc.Bundle, anchoring any root-level relative offset to the
// wall-clock time of this call. A nested bundler's absolute timetag, if
// it has one, overrides whatever base its parent would otherwise
// contribute; a relative one is added to the parent's resolved base.
// This composes recursively, so a chain of nested relative bundlers
// accumulates offsets until an absolute one (if any) resets the base.
// The literal "immediate" sentinel is never emitted unless a caller
// explicitly set it with WithTimetag.
func (b *Bundler) Build() (*osc.Bundle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return flatten(b, osc.NewTimetagFromTime(time.Now())), nil
}

// ToRawOSC marshals the bundler to wire bytes, anchoring the root's
// relative offset (if it has no absolute timetag of its own) at
// timeOffset after the Unix epoch instead of at wall-clock-now. Unlike
// Build, it does not read the clock for that anchor, so the same Bundler
// and the same timeOffset marshal to the same bytes. The exception is a
// relative scope nested under an explicit osc.Immediate timetag, which
// osc.Timetag.Add resolves against the current time.
func (b *Bundler) ToRawOSC(timeOffset time.Duration) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	anchor := osc.NewTimetagFromTime(time.Unix(0, 0).UTC().Add(timeOffset))
	return flatten(b, anchor).MarshalBinary()
}

func flatten(node *Bundler, parentTag osc.Timetag) *osc.Bundle {
	var tag osc.Timetag
	switch {
	case node.hasAbsolute:
		tag = node.absolute
	case node.offset == 0:
		tag = parentTag
	default:
		tag = parentTag.Add(node.offset)
	}

	out := osc.NewBundle(tag)
	for _, e := range node.elements {
		switch v := e.(type) {
		case *osc.Message:
			out.Append(v)
		case *Bundler:
			out.Append(flatten(v, tag))
		}
	}
	return out
}

// Send builds the bundler and hands the result to its configured
// receiver, marking the bundler finalized so further Add calls fail.
func (b *Bundler) Send() error {
	b.mu.Lock()
	if b.built {
		b.mu.Unlock()
		return oscerr.ErrFinalized
	}
	b.built = true
	receiver := b.receiver
	b.mu.Unlock()

	if receiver == nil {
		return oscerr.ErrNoCapture
	}

	pkt, err := b.Build()
	if err != nil {
		return err
	}
	return receiver.Send(pkt)
}

type captureKey struct{}

// WithCapture returns a context in which Current(ctx) reports b,
// letting deeper calls enqueue into b instead of sending immediately.
func WithCapture(ctx context.Context, b *Bundler) context.Context {
	return context.WithValue(ctx, captureKey{}, b)
}

// Current returns the Bundler captured on ctx, if any.
func Current(ctx context.Context) (*Bundler, bool) {
	b, ok := ctx.Value(captureKey{}).(*Bundler)
	return b, ok
}

// Scope is a capture scope opened by Enter. Its Exit method must be
// called, typically via defer, to close the scope.
type Scope struct {
	b      *Bundler
	exited bool
}

// Enter opens b as the active capture scope on ctx: code further down
// the call chain that reads Current(ctx) sees b until the returned
// Scope is exited. Callers must defer scope.Exit().
func (b *Bundler) Enter(ctx context.Context) (context.Context, *Scope) {
	return WithCapture(ctx, b), &Scope{b: b}
}

// Exit closes the scope. If its Bundler was constructed with
// WithSendOnExit(true), Exit builds and sends it through its
// configured receiver; otherwise Exit only marks the scope closed and
// the caller remains responsible for an explicit Send. Exit is
// idempotent: only the first call acts.
func (s *Scope) Exit() error {
	if s.exited {
		return nil
	}
	s.exited = true

	if !s.b.sendOnExit {
		return nil
	}
	return s.b.Send()
}
