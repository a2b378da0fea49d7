// Package timedqueue schedules actions to run at specific wall-clock
// times: send an OSC packet, or run an arbitrary callback.
//
// The reference scheduler this package's owner is modeled on keeps its
// pending events in a numpy-sorted array and polls it on a fixed
// interval from a dedicated thread. This version keeps a container/heap
// ordered by deadline and sleeps on a single time.Timer between events
// instead of polling, waking early whenever a new, earlier deadline is
// queued.
package timedqueue

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/oschost/sc3osc/osc"
	"github.com/oschost/sc3osc/oscerr"
)

// Action is something a Queue can run once its deadline arrives.
type Action interface {
	Execute() error
}

// CallbackAction runs an arbitrary function with no arguments.
type CallbackAction func() error

// Execute runs the callback.
func (a CallbackAction) Execute() error { return a() }

// Sender is anything a SendAction can hand a packet to. A
// *transport.Transport satisfies this.
type Sender interface {
	Send(pkt osc.Packet) error
}

// SendAction sends a pre-built packet through a Sender once its
// deadline arrives.
type SendAction struct {
	Sender Sender
	Packet osc.Packet
}

// Execute sends the packet.
func (a SendAction) Execute() error { return a.Sender.Send(a.Packet) }

type event struct {
	at     time.Time
	seq    uint64
	action Action
	spawn  bool
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue runs Actions at their scheduled deadlines on a single worker
// goroutine, spawning a fresh goroutine per event when asked to.
type Queue struct {
	mu     sync.Mutex
	events eventHeap
	seq    uint64
	wake   chan struct{}
	closed chan struct{}
	wg     sync.WaitGroup
	log    *slog.Logger
}

// New creates a Queue and starts its worker goroutine.
func New() *Queue {
	q := &Queue{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		log:    slog.Default().With("component", "timedqueue"),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Put schedules action to run at t. If spawn is true, the action runs in
// its own goroutine rather than blocking the worker loop (and therefore
// every other event due around the same time).
func (q *Queue) Put(t time.Time, action Action, spawn bool) error {
	q.mu.Lock()
	select {
	case <-q.closed:
		q.mu.Unlock()
		return oscerr.ErrShutdown
	default:
	}

	q.seq++
	heap.Push(&q.events, &event{at: t, seq: q.seq, action: action, spawn: spawn})
	q.mu.Unlock()

	q.signal()
	return nil
}

// PutFunc is a convenience wrapper around Put for a plain callback.
func (q *Queue) PutFunc(t time.Time, fn func() error, spawn bool) error {
	return q.Put(t, CallbackAction(fn), spawn)
}

// PutMsg schedules a single message to be sent through sender at t.
func (q *Queue) PutMsg(t time.Time, sender Sender, msg *osc.Message) error {
	return q.Put(t, SendAction{Sender: sender, Packet: msg}, false)
}

// Buildable is anything that flattens into a sendable OSC packet tagged
// with its own scheduling time, such as a *bundler.Bundler.
type Buildable interface {
	Build() (*osc.Bundle, error)
}

// PutBundler builds b and schedules the send for deadline, which governs
// only when the worker hands the packet to sender. The packet itself
// still carries whatever timetag b.Build() resolved it to, so the
// engine-side playback time and the transport-side dispatch time can
// diverge: a caller can, for example, build a bundle that schedules
// playback five seconds out but defer the actual send, via deadline,
// until a moment closer to when it's needed on the wire.
func (q *Queue) PutBundler(deadline time.Time, sender Sender, b Buildable, spawn bool) error {
	pkt, err := b.Build()
	if err != nil {
		return err
	}
	return q.Put(deadline, SendAction{Sender: sender, Packet: pkt}, spawn)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports how many events are still pending.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops the worker goroutine. Pending events that never ran are
// discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	select {
	case <-q.closed:
		q.mu.Unlock()
		return
	default:
	}
	close(q.closed)
	q.mu.Unlock()

	q.signal()
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		q.mu.Lock()
		var wait time.Duration
		var due *event
		if len(q.events) > 0 {
			next := q.events[0]
			wait = time.Until(next.at)
			if wait <= 0 {
				due = heap.Pop(&q.events).(*event)
			}
		} else {
			wait = time.Hour
		}
		q.mu.Unlock()

		if due != nil {
			q.execute(due)
			continue
		}

		timer.Reset(wait)
		select {
		case <-q.closed:
			timer.Stop()
			return
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) execute(e *event) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				q.log.Warn("scheduled action panicked", "panic", r)
			}
		}()
		if err := e.action.Execute(); err != nil {
			q.log.Warn("scheduled action failed", "error", err)
		}
	}
	if e.spawn {
		go run()
		return
	}
	run()
}
