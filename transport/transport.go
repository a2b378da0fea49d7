// Package transport drives a single UDP socket used to talk OSC to a
// synthesis engine: one long-lived goroutine reads and decodes inbound
// datagrams and fans each decoded message out by address, either to a
// registered reply queue or to a catch-all handler, while any number of
// goroutines may send outbound packets concurrently.
//
// The read loop and its backoff-on-temporary-error behavior follow the
// same shape as a conventional net.Listener accept loop: log, back off
// briefly, and keep serving rather than exiting on a transient error.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oschost/sc3osc/osc"
	"github.com/oschost/sc3osc/oscconfig"
	"github.com/oschost/sc3osc/oscerr"
	"github.com/oschost/sc3osc/replyqueue"
)

// MessageHandler is called for every decoded message that doesn't match
// a registered reply queue.
type MessageHandler func(msg *osc.Message)

// Transport owns a UDP socket bound to laddr and, once Run is started,
// continuously reads datagrams and routes them by address.
type Transport struct {
	conn   *net.UDPConn
	raddr  *net.UDPAddr
	log    *slog.Logger

	mtu int

	mu       sync.RWMutex
	queues   map[string]*replyqueue.Queue[*osc.Message]
	catchAll MessageHandler
	peers    *PeerRegistry

	closeOnce sync.Once
	closed    chan struct{}
}

// PeerRegistry maps human-readable peer names ("scsynth", "sclang") to
// UDP addresses.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]*net.UDPAddr
}

// NewPeerRegistry creates an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[string]*net.UDPAddr)}
}

// Add registers addr under name. Re-registering an existing name is an
// error: names must stay unique for the lifetime of the registry.
func (r *PeerRegistry) Add(name string, addr *net.UDPAddr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[name]; exists {
		return fmt.Errorf("transport: peer %q already registered: %w", name, oscerr.ErrInvalidID)
	}
	r.peers[name] = addr
	return nil
}

// Get returns the address registered under name.
func (r *PeerRegistry) Get(name string) (*net.UDPAddr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.peers[name]
	return addr, ok
}

// Dial opens a UDP socket bound to laddr (may be "" for an ephemeral
// local port) with its default peer set to raddr, the synthesis engine's
// address.
func Dial(laddr, raddr string) (*Transport, error) {
	local, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolving local address: %w", err)
	}
	remote, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolving remote address: %w", err)
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("transport: listening: %w", err)
	}

	return &Transport{
		conn:   conn,
		raddr:  remote,
		mtu:    osc.MaxPacketSize,
		log:    slog.Default().With("component", "transport"),
		queues: make(map[string]*replyqueue.Queue[*osc.Message]),
		peers:  NewPeerRegistry(),
		closed: make(chan struct{}),
	}, nil
}

// New opens a transport from an oscconfig.Config: it binds the local
// receive address, registers "scsynth" (always) and "sclang" (if
// configured) in its peer registry, and applies the configured MTU.
func New(cfg oscconfig.Config) (*Transport, error) {
	t, err := Dial(cfg.ReceiveAddr(), cfg.EngineAddr())
	if err != nil {
		return nil, err
	}
	t.mtu = cfg.MTU()

	if err := t.peers.Add("scsynth", t.raddr); err != nil {
		t.Close()
		return nil, err
	}

	if cfg.HasInterpreter() {
		addr, err := net.ResolveUDPAddr("udp", cfg.InterpreterAddr())
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("transport: resolving interpreter address: %w", err)
		}
		if err := t.peers.Add("sclang", addr); err != nil {
			t.Close()
			return nil, err
		}
	}

	t.SetCatchAll(func(msg *osc.Message) {
		if msg.Address == "/fail" {
			t.log.Warn("scsynth reported failure", "message", msg.String())
			return
		}
		t.log.Debug("dropping unmatched message", "address", msg.Address)
	})

	return t, nil
}

// AddPeer registers a named peer address.
func (t *Transport) AddPeer(name string, addr *net.UDPAddr) error {
	return t.peers.Add(name, addr)
}

// Peer returns the address registered for name.
func (t *Transport) Peer(name string) (*net.UDPAddr, bool) {
	return t.peers.Get(name)
}

// SendToPeer marshals and sends pkt to the named peer.
func (t *Transport) SendToPeer(pkt osc.Packet, peer string) error {
	addr, ok := t.peers.Get(peer)
	if !ok {
		return fmt.Errorf("transport: unknown peer %q", peer)
	}
	return t.SendTo(pkt, addr)
}

// LocalAddr returns the address the transport's socket is bound to.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// RemoteAddr returns the default peer address packets are sent to.
func (t *Transport) RemoteAddr() net.Addr {
	return t.raddr
}

// RegisterReplyQueue routes every inbound message whose address exactly
// matches addr into q, instead of the catch-all handler.
func (t *Transport) RegisterReplyQueue(addr string, q *replyqueue.Queue[*osc.Message]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues[addr] = q
}

// UnregisterReplyQueue removes a previously registered reply queue.
func (t *Transport) UnregisterReplyQueue(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.queues, addr)
}

// SetCatchAll installs the handler invoked for every inbound message
// that doesn't match a registered reply queue. Passing nil disables it.
func (t *Transport) SetCatchAll(h MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.catchAll = h
}

// Send marshals and writes pkt to the default remote peer.
func (t *Transport) Send(pkt osc.Packet) error {
	return t.SendTo(pkt, t.raddr)
}

// SendTo marshals and writes pkt to addr.
func (t *Transport) SendTo(pkt osc.Packet, addr *net.UDPAddr) error {
	data, err := pkt.MarshalBinary()
	if err != nil {
		return fmt.Errorf("transport: marshaling packet: %w", err)
	}
	if t.mtu > 0 && len(data) > t.mtu {
		return fmt.Errorf("transport: packet is %d bytes: %w", len(data), oscerr.ErrPacketTooLarge)
	}

	select {
	case <-t.closed:
		return oscerr.ErrShutdown
	default:
	}

	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("transport: writing packet: %w", err)
	}
	return nil
}

// Run blocks reading and dispatching inbound datagrams until ctx is
// canceled or the transport is closed. It never returns a non-nil error
// for context cancellation or transport closure.
func (t *Transport) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.Close()
	}()

	buf := make([]byte, osc.MaxPacketSize)
	var backoff time.Duration

	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return nil
			default:
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if max := time.Second; backoff > max {
				backoff = max
			}
			t.log.Warn("transient read error, backing off", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		data := make([]byte, n)
		copy(data, buf[:n])
		t.dispatch(data)
	}
}

func (t *Transport) dispatch(data []byte) {
	pkt, err := osc.ParsePacket(data)
	if err != nil {
		t.log.Warn("dropping malformed packet", "error", err)
		return
	}
	t.dispatchPacket(pkt)
}

func (t *Transport) dispatchPacket(pkt osc.Packet) {
	switch p := pkt.(type) {
	case *osc.Message:
		t.dispatchMessage(p)
	case *osc.Bundle:
		for _, elem := range p.Elements {
			t.dispatchPacket(elem)
		}
	}
}

func (t *Transport) dispatchMessage(msg *osc.Message) {
	t.mu.RLock()
	q := t.queues[msg.Address]
	catchAll := t.catchAll
	t.mu.RUnlock()

	if q != nil {
		q.Put(msg)
		return
	}
	if catchAll != nil {
		catchAll(msg)
	}
}

// Close shuts the transport down: the read loop in Run returns, further
// Send calls fail with oscerr.ErrShutdown, and every reply queue
// registered with RegisterReplyQueue is closed, waking any goroutine
// blocked in Get with oscerr.ErrShutdown rather than leaving it stuck
// forever on a socket that will never produce another reply.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()

		t.mu.RLock()
		queues := make([]*replyqueue.Queue[*osc.Message], 0, len(t.queues))
		for _, q := range t.queues {
			queues = append(queues, q)
		}
		t.mu.RUnlock()

		for _, q := range queues {
			q.CloseWithError(oscerr.ErrShutdown)
		}
	})
	return err
}
