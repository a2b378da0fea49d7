package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/oschost/sc3osc/osc"
	"github.com/oschost/sc3osc/oscconfig"
	"github.com/oschost/sc3osc/oscerr"
	"github.com/oschost/sc3osc/replyqueue"
)

func mustResolve(t *testing.T, addr string) *net.UDPAddr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("resolving %q: %v", addr, err)
	}
	return a
}

func TestTransport_SendAndReceiveViaReplyQueue(t *testing.T) {
	server, err := Dial("127.0.0.1:0", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Dial server: %v", err)
	}
	defer server.Close()

	client, err := Dial("127.0.0.1:0", server.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial client: %v", err)
	}
	defer client.Close()

	q := replyqueue.New[*osc.Message](0)
	client.RegisterReplyQueue("/status.reply", q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)
	go server.Run(ctx)

	if err := client.Send(osc.NewMessage("/status")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The "server" here is just a peer transport; have it reply directly
	// to the client's address once it observes the /status message.
	server.SetCatchAll(func(msg *osc.Message) {
		if msg.Address != "/status" {
			return
		}
		reply := osc.NewMessage("/status.reply", "ok")
		if err := server.SendTo(reply, mustResolve(t, client.LocalAddr().String())); err != nil {
			t.Errorf("replying: %v", err)
		}
	})

	getCtx, getCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer getCancel()

	got, err := q.Get(getCtx, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Address != "/status.reply" {
		t.Errorf("got address %q, want /status.reply", got.Address)
	}
}

func TestNew_RegistersPeersFromConfig(t *testing.T) {
	cfg := oscconfig.Config{
		EngineHost:      "127.0.0.1",
		EnginePort:      57110,
		InterpreterHost: "127.0.0.1",
		InterpreterPort: 57120,
		ReceivePort:     0,
	}

	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tr.Close()

	if _, ok := tr.Peer("scsynth"); !ok {
		t.Errorf("expected a scsynth peer to be registered")
	}
	if _, ok := tr.Peer("sclang"); !ok {
		t.Errorf("expected an sclang peer to be registered")
	}
	if _, ok := tr.Peer("nonexistent"); ok {
		t.Errorf("did not expect a peer named nonexistent")
	}
}

func TestPeerRegistry_RejectsDuplicateNames(t *testing.T) {
	r := NewPeerRegistry()
	addr := mustResolve(t, "127.0.0.1:1234")

	if err := r.Add("scsynth", addr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Add("scsynth", addr); err == nil {
		t.Errorf("expected an error re-registering the same peer name")
	}
}

func TestTransport_CloseStopsRun(t *testing.T) {
	tr, err := Dial("127.0.0.1:0", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- tr.Run(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	tr.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestTransport_CloseWakesBlockedReplyQueueGet(t *testing.T) {
	tr, err := Dial("127.0.0.1:0", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	q := replyqueue.New[*osc.Message](0)
	tr.RegisterReplyQueue("/status.reply", q)

	type result struct {
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, err := q.Get(context.Background(), false)
		done <- result{err: err}
	}()

	time.Sleep(10 * time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case r := <-done:
		if !errors.Is(r.err, oscerr.ErrShutdown) {
			t.Errorf("got error %v, want oscerr.ErrShutdown", r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("Get never returned after Close")
	}
}
