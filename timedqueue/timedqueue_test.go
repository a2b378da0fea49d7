package timedqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/oschost/sc3osc/osc"
)

func TestQueue_RunsInOrder(t *testing.T) {
	q := New()
	defer q.Close()

	var mu sync.Mutex
	var order []int

	base := time.Now().Add(20 * time.Millisecond)
	for i, delay := range []time.Duration{30, 10, 20} {
		i, delay := i, delay
		err := q.PutFunc(base.Add(delay*time.Millisecond), func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}, false)
		if err != nil {
			t.Fatalf("PutFunc: %v", err)
		}
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 0} // ordered by delay: 10ms, 20ms, 30ms
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("got order %v, want %v", order, want)
		}
	}
}

func TestQueue_WakesEarlyForSoonerEvent(t *testing.T) {
	q := New()
	defer q.Close()

	done := make(chan struct{})

	// Schedule something far in the future first...
	q.PutFunc(time.Now().Add(time.Hour), func() error { return nil }, false)

	// ...then something that should fire almost immediately. If the
	// worker only woke for the first (far) deadline, this would never
	// run in time.
	q.PutFunc(time.Now().Add(5*time.Millisecond), func() error {
		close(done)
		return nil
	}, false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sooner event never ran")
	}
}

func TestQueue_SpawnRunsConcurrently(t *testing.T) {
	q := New()
	defer q.Close()

	release := make(chan struct{})
	blocked := make(chan struct{})

	q.PutFunc(time.Now(), func() error {
		close(blocked)
		<-release
		return nil
	}, true)

	<-blocked

	ran := make(chan struct{})
	q.PutFunc(time.Now(), func() error {
		close(ran)
		return nil
	}, false)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("second event blocked behind the spawned first event")
	}

	close(release)
}

func TestQueue_PanickingActionDoesNotStopWorker(t *testing.T) {
	q := New()
	defer q.Close()

	q.PutFunc(time.Now(), func() error {
		panic("boom")
	}, false)

	ran := make(chan struct{})
	q.PutFunc(time.Now().Add(10*time.Millisecond), func() error {
		close(ran)
		return nil
	}, false)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker stopped processing after a panicking action")
	}
}

func TestQueue_CloseStopsWorker(t *testing.T) {
	q := New()
	q.Close()
	q.Close() // idempotent

	if err := q.PutFunc(time.Now(), func() error { return nil }, false); err == nil {
		t.Errorf("expected an error scheduling on a closed queue")
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []osc.Packet
}

func (f *fakeSender) Send(pkt osc.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pkt)
	return nil
}

type fakeBuildable struct {
	tag osc.Timetag
}

func (f fakeBuildable) Build() (*osc.Bundle, error) {
	return osc.NewBundle(f.tag), nil
}

func TestQueue_PutBundlerDispatchTimeCanDivergeFromEngineTimetag(t *testing.T) {
	q := New()
	defer q.Close()

	fs := &fakeSender{}

	// The bundle's own engine-side timetag is an hour out; the dispatch
	// deadline passed to PutBundler is a few milliseconds out. Only the
	// deadline should govern when the worker actually sends it.
	engineTime := osc.NewTimetagFromTime(time.Now().Add(time.Hour))
	buildable := fakeBuildable{tag: engineTime}

	dispatchAt := time.Now().Add(5 * time.Millisecond)
	if err := q.PutBundler(dispatchAt, fs, buildable, false); err != nil {
		t.Fatalf("PutBundler: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		fs.mu.Lock()
		n := len(fs.sent)
		fs.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("bundle was never dispatched near its deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fs.mu.Lock()
	sent := fs.sent[0]
	fs.mu.Unlock()

	bundle, ok := sent.(*osc.Bundle)
	if !ok {
		t.Fatalf("sent packet was %T, want *osc.Bundle", sent)
	}
	if bundle.Timetag != engineTime {
		t.Errorf("dispatch must not rewrite the bundle's own engine-side timetag")
	}
}

func TestQueue_PutMsg(t *testing.T) {
	q := New()
	defer q.Close()

	fs := &fakeSender{}
	msg := osc.NewMessage("/ping")

	if err := q.PutMsg(time.Now(), fs, msg); err != nil {
		t.Fatalf("PutMsg: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		fs.mu.Lock()
		n := len(fs.sent)
		fs.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message was never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
