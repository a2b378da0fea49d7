package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// bundleTag is the literal 8-byte (7 chars + NUL) prefix that identifies
// an OSC bundle on the wire, as opposed to a message (which always
// starts with '/').
const bundleTag = "#bundle"

// Bundle is an OSC bundle: a Timetag at which its elements should be
// applied, plus zero or more nested Messages or Bundles.
type Bundle struct {
	Timetag  Timetag
	Elements []Packet
}

// NewBundle creates a Bundle scheduled at t, with optional initial
// elements.
func NewBundle(t Timetag, elements ...Packet) *Bundle {
	return &Bundle{Timetag: t, Elements: elements}
}

// Append adds one or more elements (Messages or Bundles) to the bundle.
func (b *Bundle) Append(elements ...Packet) {
	b.Elements = append(b.Elements, elements...)
}

// MarshalBinary encodes the bundle to its OSC wire representation.
func (b *Bundle) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	tagBuf := make([]byte, len(bundleTag)+1+padBytesNeeded(len(bundleTag)+1))
	buf.Write(tagBuf[:writePaddedString(bundleTag, tagBuf)])

	ttBytes, err := b.Timetag.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf.Write(ttBytes)

	for _, elem := range b.Elements {
		data, err := elem.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("osc: marshaling bundle element: %w", err)
		}
		sizeBuf := make([]byte, bit32Size)
		binary.BigEndian.PutUint32(sizeBuf, uint32(len(data)))
		buf.Write(sizeBuf)
		buf.Write(data)
	}

	return buf.Bytes(), nil
}

// NewBundleFromData decodes an OSC bundle from its wire representation.
func NewBundleFromData(data []byte) (*Bundle, error) {
	tag, n, err := parsePaddedString(data)
	if err != nil {
		return nil, fmt.Errorf("osc: reading bundle tag: %w", err)
	}
	if tag != bundleTag {
		return nil, fmt.Errorf("osc: not a bundle: tag %q", tag)
	}
	data = data[n:]

	if len(data) < bit64Size {
		return nil, fmt.Errorf("osc: bundle truncated before timetag")
	}
	tt := NewTimetag(binary.BigEndian.Uint64(data[:bit64Size]))
	data = data[bit64Size:]

	b := &Bundle{Timetag: tt}

	for len(data) > 0 {
		if len(data) < bit32Size {
			return nil, fmt.Errorf("osc: bundle truncated before element size")
		}
		size := int(binary.BigEndian.Uint32(data[:bit32Size]))
		data = data[bit32Size:]
		if size < 0 || size > len(data) {
			return nil, fmt.Errorf("osc: invalid bundle element size %d", size)
		}

		elem, err := parsePacket(data[:size])
		if err != nil {
			return nil, fmt.Errorf("osc: parsing bundle element: %w", err)
		}
		b.Elements = append(b.Elements, elem)
		data = data[size:]
	}

	return b, nil
}
