// Package scserver is the façade that ties the wire codec, transport,
// bundler, id allocators and timed queue together into a single client
// for a running SuperCollider synthesis engine: handshake, reply-address
// routing, bundler-aware message sending, and resource id allocation.
package scserver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oschost/sc3osc/bundler"
	"github.com/oschost/sc3osc/idalloc"
	"github.com/oschost/sc3osc/osc"
	"github.com/oschost/sc3osc/oscconfig"
	"github.com/oschost/sc3osc/oscerr"
	"github.com/oschost/sc3osc/replyqueue"
	"github.com/oschost/sc3osc/timedqueue"
	"github.com/oschost/sc3osc/transport"
)

// ServerOptions mirrors the bus layout a running scsynth was booted
// with. It is not negotiated over OSC; callers supply what they booted
// the engine with so bus allocators never hand out a hardware I/O bus.
type ServerOptions struct {
	NumInputBus   int
	NumOutputBus  int
	NumAudioBus   int
	NumControlBus int
}

// DefaultServerOptions matches scsynth's own defaults.
var DefaultServerOptions = ServerOptions{
	NumInputBus:   2,
	NumOutputBus:  2,
	NumAudioBus:   1024,
	NumControlBus: 16384,
}

// FirstPrivateBus is the lowest audio bus id not reserved for hardware
// I/O.
func (o ServerOptions) FirstPrivateBus() int32 {
	return int32(o.NumOutputBus + o.NumInputBus)
}

// idsPerClient bounds how many node/buffer ids a single client slot gets
// within a multi-login engine, mirroring the address-space carve-up the
// reference implementation uses to keep concurrent clients collision
// free.
const idsPerClient = 1 << 26

// DefaultGroupID returns the group id scsynth reserves for clientID's
// default group: clientID*2^26 + 1, which keeps every client's default
// group collision-free regardless of how many clients are logged in.
func DefaultGroupID(clientID int) int32 {
	return int32(clientID)*idsPerClient + 1
}

// replyPairs are the request/reply address pairs pre-registered for
// every connection.
var replyPairs = map[string]string{
	// Mandatory pairs every connection relies on.
	"/sync":    "/synced",
	"/status":  "/status.reply",
	"/version": "/version.reply",
	"/notify":  "/done",
	"/d_load":  "/done",
	"/b_alloc": "/done",

	// Supplemented pairs covering the rest of the query commands.
	"/s_get":       "/n_set",
	"/s_getn":      "/n_setn",
	"/b_query":     "/b_info",
	"/b_get":       "/b_set",
	"/b_getn":      "/b_setn",
	"/c_get":       "/c_set",
	"/c_getn":      "/c_setn",
	"/n_query":     "/n_info",
	"/g_queryTree": "/g_queryTree.reply",
}

// ServerStatus is the decoded payload of a /status.reply message.
type ServerStatus struct {
	NumUGens        int32
	NumSynths       int32
	NumGroups       int32
	NumSynthDefs    int32
	AvgCPU          float32
	PeakCPU         float32
	SampleRate      float64
	ActualSampleRate float64
	Reserved1       int32
	Reserved2       int32
}

// Server is a connected client for a single SuperCollider engine.
type Server struct {
	log       *slog.Logger
	sessionID uuid.UUID
	transport *transport.Transport
	queue     *timedqueue.Queue

	clientID  int
	maxLogins int
	options   ServerOptions

	defaultTimeout time.Duration // Msg reply wait when no timeout is given

	replyMu  sync.Mutex
	replyTo  map[string]string // request address -> reply address
	queues   map[string]*replyqueue.Queue[*osc.Message]

	nodes      *idalloc.Allocator
	buffers    *idalloc.Allocator
	audioBuses *idalloc.Allocator
	controlBuses *idalloc.Allocator

	hookMu    sync.Mutex
	initHooks []func(*Server)

	syncMu      sync.Mutex
	pendingSync map[int32]chan struct{}

	cancel context.CancelFunc
	eg     *errgroup.Group

	closeOnce sync.Once
}

// AddInitHook registers fn to run once at the end of Connect and again
// after every FreeAll.
func (s *Server) AddInitHook(fn func(*Server)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.initHooks = append(s.initHooks, fn)
}

func (s *Server) runInitHooks() {
	s.hookMu.Lock()
	hooks := append([]func(*Server){}, s.initHooks...)
	s.hookMu.Unlock()
	for _, h := range hooks {
		h(s)
	}
}

// Connect opens a transport to cfg's engine, runs the handshake, and
// starts the background goroutines: the receive loop and the sync
// dispatcher run under one cancelable context managed by an errgroup,
// and the timed queue runs its own worker until Close.
func Connect(ctx context.Context, cfg oscconfig.Config, opts ServerOptions) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tr, err := transport.New(cfg)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(runCtx)

	sessionID := uuid.New()
	s := &Server{
		log:         slog.Default().With("component", "scserver", "session", sessionID),
		sessionID:   sessionID,
		transport:   tr,
		queue:       timedqueue.New(),
		maxLogins:   cfg.MaxLogins,
		options:     opts,
		replyTo:     make(map[string]string),
		queues:      make(map[string]*replyqueue.Queue[*osc.Message]),
		cancel:      cancel,
		eg:          eg,
		pendingSync: make(map[int32]chan struct{}),
	}
	for req, reply := range replyPairs {
		s.replyTo[req] = reply
	}
	s.defaultTimeout = cfg.Timeout()

	seen := map[string]bool{"/done": true, "/status.reply": true, "/synced": true}
	s.registerReplyQueue("/done")
	s.registerReplyQueue("/status.reply")
	s.registerReplyQueue("/synced")
	for _, reply := range replyPairs {
		if seen[reply] {
			continue
		}
		seen[reply] = true
		s.registerReplyQueue(reply)
	}

	eg.Go(func() error { return tr.Run(egCtx) })
	eg.Go(func() error { s.dispatchSyncs(egCtx); return nil })

	if err := s.handshake(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}

	s.deriveAllocators(opts)

	s.AddInitHook(func(srv *Server) {
		for slot := 0; slot < srv.maxLogins; slot++ {
			srv.sendDefaultGroup(slot)
		}
	})
	s.runInitHooks()

	return s, nil
}

func (s *Server) registerReplyQueue(addr string) *replyqueue.Queue[*osc.Message] {
	q := replyqueue.New[*osc.Message](0)
	s.replyMu.Lock()
	s.queues[addr] = q
	s.replyMu.Unlock()
	s.transport.RegisterReplyQueue(addr, q)
	return q
}

func (s *Server) handshake(ctx context.Context, cfg oscconfig.Config) error {
	notifyCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	if err := s.transport.SendToPeer(osc.NewMessage("/notify", int32(1)), "scsynth"); err != nil {
		return fmt.Errorf("scserver: sending /notify: %w", err)
	}

	reply, err := s.queues["/done"].Get(notifyCtx, false)
	if err != nil {
		return fmt.Errorf("scserver: awaiting handshake reply: %w", err)
	}
	if len(reply.Arguments) < 3 {
		return fmt.Errorf("scserver: malformed /done reply: %w", oscerr.ErrProtocolMismatch)
	}
	if cmd, ok := reply.Arguments[0].(string); !ok || cmd != "/notify" {
		return fmt.Errorf("scserver: /done reply is not for /notify: %w", oscerr.ErrProtocolMismatch)
	}
	clientID, ok := reply.Arguments[1].(int32)
	if !ok {
		return fmt.Errorf("scserver: malformed /done client id: %w", oscerr.ErrProtocolMismatch)
	}
	s.clientID = int(clientID)

	if cfg.ClientID != 0 {
		s.clientID = cfg.ClientID
	}
	if maxLogins, ok := reply.Arguments[2].(int32); ok && cfg.MaxLogins == 0 {
		s.maxLogins = int(maxLogins)
	}
	if s.maxLogins == 0 {
		s.maxLogins = 1
	}

	statusCtx, cancelStatus := context.WithTimeout(ctx, cfg.Timeout())
	defer cancelStatus()

	if err := s.transport.SendToPeer(osc.NewMessage("/status"), "scsynth"); err != nil {
		return fmt.Errorf("scserver: sending /status: %w", err)
	}
	statusReply, err := s.queues["/status.reply"].Get(statusCtx, false)
	if err != nil {
		return fmt.Errorf("scserver: awaiting status reply: %w", err)
	}
	if _, err := parseStatus(statusReply); err != nil {
		return err
	}

	return nil
}

func parseStatus(msg *osc.Message) (ServerStatus, error) {
	if len(msg.Arguments) < 10 {
		return ServerStatus{}, fmt.Errorf("scserver: /status.reply had %d arguments, want 10: %w", len(msg.Arguments), oscerr.ErrProtocolMismatch)
	}

	get32 := func(i int) int32 { v, _ := msg.Arguments[i].(int32); return v }
	getf32 := func(i int) float32 { v, _ := msg.Arguments[i].(float32); return v }
	getf64 := func(i int) float64 { v, _ := msg.Arguments[i].(float64); return v }

	return ServerStatus{
		Reserved1:        get32(0),
		NumUGens:         get32(1),
		NumSynths:        get32(2),
		NumGroups:        get32(3),
		NumSynthDefs:     get32(4),
		AvgCPU:           getf32(5),
		PeakCPU:          getf32(6),
		SampleRate:       getf64(7),
		ActualSampleRate: getf64(8),
		Reserved2:        get32(9),
	}, nil
}

func (s *Server) deriveAllocators(opts ServerOptions) {
	base := int32(s.clientID) * idsPerClient
	next := base + idsPerClient

	s.nodes = idalloc.New("node", base+2, next)
	s.buffers = idalloc.New("buffer", base, next)
	s.controlBuses = idalloc.New("controlBus", base, base+int32(opts.NumControlBus))
	s.audioBuses = idalloc.New("audioBus", base+opts.FirstPrivateBus(), base+opts.FirstPrivateBus()+int32(opts.NumAudioBus))
}

// Nodes, Buffers, AudioBuses and ControlBuses expose this connection's
// id allocators.
func (s *Server) Nodes() *idalloc.Allocator        { return s.nodes }
func (s *Server) Buffers() *idalloc.Allocator      { return s.buffers }
func (s *Server) AudioBuses() *idalloc.Allocator   { return s.audioBuses }
func (s *Server) ControlBuses() *idalloc.Allocator { return s.controlBuses }

// ClientID returns the id scsynth's handshake assigned this connection.
func (s *Server) ClientID() int { return s.clientID }

// SessionID identifies this connection in logs; it has no meaning to the
// synthesis engine itself.
func (s *Server) SessionID() uuid.UUID { return s.sessionID }

func (s *Server) sendDefaultGroup(clientSlot int) {
	gid := DefaultGroupID(clientSlot)
	msg := osc.NewMessage("/g_new", gid, int32(0), int32(0))
	if err := s.transport.SendToPeer(msg, "scsynth"); err != nil {
		s.log.Warn("failed to create default group", "client_slot", clientSlot, "error", err)
	}
}

// MsgOption configures a single Msg call.
type MsgOption func(*msgOptions)

type msgOptions struct {
	noBundle    bool
	awaitReply  bool
	replyTimeout time.Duration
}

// WithNoBundle sends addr/args directly even if a bundler is active on
// the context.
func WithNoBundle() MsgOption {
	return func(o *msgOptions) { o.noBundle = true }
}

// WithAwaitReply blocks Msg until the reply address registered for addr
// produces a message, or timeout elapses.
func WithAwaitReply(timeout time.Duration) MsgOption {
	return func(o *msgOptions) { o.awaitReply = true; o.replyTimeout = timeout }
}

// Msg sends an OSC message to scsynth. If ctx carries an active bundler
// (see package bundler) and the caller didn't pass WithNoBundle, the
// message is appended to that bundler instead of being sent immediately.
func (s *Server) Msg(ctx context.Context, addr string, args []interface{}, opts ...MsgOption) (*osc.Message, error) {
	var o msgOptions
	for _, opt := range opts {
		opt(&o)
	}

	msg := osc.NewMessage(addr, args...)

	if !o.noBundle {
		if b, ok := bundler.Current(ctx); ok {
			return nil, b.Add(msg)
		}
	}

	if err := s.transport.SendToPeer(msg, "scsynth"); err != nil {
		return nil, err
	}

	if !o.awaitReply {
		return nil, nil
	}

	replyAddr, ok := s.replyTo[addr]
	if !ok {
		return nil, fmt.Errorf("scserver: %q has no registered reply address", addr)
	}

	s.replyMu.Lock()
	q := s.queues[replyAddr]
	s.replyMu.Unlock()
	if q == nil {
		return nil, fmt.Errorf("scserver: no reply queue registered for %q", replyAddr)
	}

	timeout := o.replyTimeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	if timeout <= 0 {
		timeout = oscconfig.DefaultTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return q.Get(waitCtx, false)
}

// Sync sends /sync with a fresh id and blocks until the matching
// /synced reply arrives or ctx is done. Concurrent Sync calls never
// cross-complete: each call waits on its own channel, fed by a single
// dispatcher goroutine reading every /synced reply.
func (s *Server) Sync(ctx context.Context, timeout time.Duration) error {
	id := rand.Int31n(1<<30) + 1

	done := make(chan struct{})
	s.syncMu.Lock()
	s.pendingSync[id] = done
	s.syncMu.Unlock()

	defer func() {
		s.syncMu.Lock()
		delete(s.pendingSync, id)
		s.syncMu.Unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.transport.SendToPeer(osc.NewMessage("/sync", id), "scsynth"); err != nil {
		return fmt.Errorf("scserver: sending /sync: %w", err)
	}

	select {
	case <-done:
		return nil
	case <-waitCtx.Done():
		return fmt.Errorf("scserver: waiting for /synced %d: %w", id, oscerr.ErrTimedOut)
	}
}

func (s *Server) dispatchSyncs(ctx context.Context) {
	s.replyMu.Lock()
	q := s.queues["/synced"]
	s.replyMu.Unlock()

	for {
		msg, err := q.Get(ctx, false)
		if err != nil {
			return
		}
		if len(msg.Arguments) == 0 {
			continue
		}
		id, ok := msg.Arguments[0].(int32)
		if !ok {
			continue
		}

		s.syncMu.Lock()
		done, ok := s.pendingSync[id]
		s.syncMu.Unlock()
		if ok {
			close(done)
		}
	}
}

// FreeAll frees every node on the server and clears scheduled bundles,
// then reruns the registered init hooks.
func (s *Server) FreeAll() error {
	if err := s.transport.SendToPeer(osc.NewMessage("/g_freeAll", int32(0)), "scsynth"); err != nil {
		return fmt.Errorf("scserver: sending /g_freeAll: %w", err)
	}
	if err := s.transport.SendToPeer(osc.NewMessage("/clearSched"), "scsynth"); err != nil {
		return fmt.Errorf("scserver: sending /clearSched: %w", err)
	}

	s.nodes.Reset()
	s.buffers.Reset()

	s.runInitHooks()
	return nil
}

// Transport exposes the underlying transport, primarily so callers can
// build a bundler with WithReceiver(server.Transport()).
func (s *Server) Transport() *transport.Transport { return s.transport }

// Queue exposes the underlying timed dispatch queue.
func (s *Server) Queue() *timedqueue.Queue { return s.queue }

// Close tears the connection down: cancels the background goroutines,
// closes the timed queue, and closes the transport.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.queue.Close()
		err = s.transport.Close()
		s.eg.Wait()
	})
	return err
}
