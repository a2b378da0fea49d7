package osc

import (
	"reflect"
	"testing"
	"time"
)

func TestBundle_MarshalUnmarshal(t *testing.T) {
	inner := NewBundle(NewImmediateTimetag(), NewMessage("/s_new", int32(1)))
	outer := NewBundle(NewTimetagFromTime(time.Now()),
		NewMessage("/g_new", int32(2)),
		inner,
		NewMessage("/n_free", int32(1), int32(2)),
	)

	data, err := outer.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(data)%4 != 0 {
		t.Errorf("encoded bundle is not 32-bit aligned: %d bytes", len(data))
	}

	got, err := NewBundleFromData(data)
	if err != nil {
		t.Fatalf("NewBundleFromData: %v", err)
	}

	if got.Timetag != outer.Timetag {
		t.Errorf("got timetag %d, want %d", got.Timetag, outer.Timetag)
	}
	if len(got.Elements) != len(outer.Elements) {
		t.Fatalf("got %d elements, want %d", len(got.Elements), len(outer.Elements))
	}

	gotMsg0, ok := got.Elements[0].(*Message)
	if !ok {
		t.Fatalf("element 0: got %T, want *Message", got.Elements[0])
	}
	if !reflect.DeepEqual(gotMsg0.Arguments, []interface{}{int32(2)}) {
		t.Errorf("element 0 arguments: got %#v", gotMsg0.Arguments)
	}

	gotInner, ok := got.Elements[1].(*Bundle)
	if !ok {
		t.Fatalf("element 1: got %T, want *Bundle", got.Elements[1])
	}
	if !gotInner.Timetag.IsImmediate() {
		t.Errorf("inner bundle timetag should be immediate")
	}
}

func TestNewBundleFromData_RejectsMessage(t *testing.T) {
	msg := NewMessage("/ping")
	data, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if _, err := NewBundleFromData(data); err == nil {
		t.Errorf("expected error decoding a message as a bundle")
	}
}

func TestBundle_Append(t *testing.T) {
	b := NewBundle(NewImmediateTimetag())
	b.Append(NewMessage("/a"), NewMessage("/b"))
	if len(b.Elements) != 2 {
		t.Errorf("got %d elements, want 2", len(b.Elements))
	}
}
