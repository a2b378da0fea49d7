package osc

import (
	"encoding/binary"
	"time"
)

// secondsFrom1900To1970 is the offset between the NTP epoch (1900-01-01)
// used by OSC timetags and the Unix epoch (1970-01-01).
const secondsFrom1900To1970 = 2208988800

// Immediate is the timetag value reserved by the OSC spec to mean
// "execute as soon as possible" rather than at a scheduled time.
const Immediate Timetag = 1

// Timetag represents an OSC 64-bit NTP timestamp: the upper 32 bits hold
// seconds since the NTP epoch, the lower 32 bits hold the fractional
// second.
type Timetag uint64

// NewTimetag builds a Timetag from a wire-format uint64.
func NewTimetag(tt uint64) Timetag {
	return Timetag(tt)
}

// NewTimetagFromTime converts a time.Time into its OSC Timetag
// representation.
func NewTimetagFromTime(t time.Time) Timetag {
	return timeToTimetag(t)
}

// NewImmediateTimetag returns the reserved "immediate" timetag.
func NewImmediateTimetag() Timetag {
	return Immediate
}

// Time converts the Timetag back into a time.Time.
func (t Timetag) Time() time.Time {
	return timetagToTime(t)
}

// IsImmediate reports whether t is the reserved immediate value.
func (t Timetag) IsImmediate() bool {
	return t == Immediate
}

// SecondsSinceEpoch returns the NTP-epoch seconds component of t.
func (t Timetag) SecondsSinceEpoch() uint32 {
	return uint32(t >> 32)
}

// FractionalSecond returns the fractional-second component of t.
func (t Timetag) FractionalSecond() uint32 {
	return uint32(t & 0xffffffff)
}

// ExpiresIn returns how long until t elapses, measured from now. An
// immediate timetag, or one already in the past, returns 0.
func (t Timetag) ExpiresIn() time.Duration {
	if t.IsImmediate() {
		return 0
	}

	d := t.Time().Sub(time.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Add returns the timetag offset from t by d.
func (t Timetag) Add(d time.Duration) Timetag {
	if t.IsImmediate() {
		return NewTimetagFromTime(time.Now().Add(d))
	}
	return NewTimetagFromTime(t.Time().Add(d))
}

// MarshalBinary encodes t as its 8-byte big-endian wire representation.
func (t Timetag) MarshalBinary() ([]byte, error) {
	b := make([]byte, bit64Size)
	binary.BigEndian.PutUint64(b, uint64(t))
	return b, nil
}

func timeToTimetag(t time.Time) Timetag {
	secs := uint64(t.Unix()+secondsFrom1900To1970) << 32
	frac := uint64(uint32(float64(t.Nanosecond()) * (1 << 32) / 1e9))
	return Timetag(secs + frac)
}

func timetagToTime(t Timetag) time.Time {
	secs := int64(t.SecondsSinceEpoch()) - secondsFrom1900To1970
	nsecs := int64(float64(t.FractionalSecond()) * (1e9 / (1 << 32)))
	return time.Unix(secs, nsecs)
}
