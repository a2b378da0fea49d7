// Copyright 2013 - 2015 Sebastian Ruml <sebastian.ruml@gmail.com>
// Copyright 2021 - 2022 Mendel Greenberg <mendel@chabad360.me>

// Package osc implements the OSC 1.0 wire format: messages, bundles,
// timetags and the typed argument union, encoded to and decoded from
// 32-bit-aligned binary datagrams.
//
// This implementation is based on the Open Sound Control 1.0
// Specification (http://opensoundcontrol.org/spec-1_0.html).
//
// Supported argument type tags:
//
//	'i' int32
//	'h' int64
//	'f' float32
//	'd' float64
//	's' string
//	'b' []byte
//	't' Timetag
//	'T' true
//	'F' false
//	'N' nil
//
// A Message carries an address pattern and zero or more arguments. A
// Bundle carries a Timetag and zero or more nested elements (Messages or
// Bundles). Both implement Packet; ParsePacket sniffs the leading byte of
// a datagram to decide which to decode.
//
// Usage:
//
//	msg := osc.NewMessage("/s_new")
//	msg.Append(int32(1))
//	data, err := msg.MarshalBinary()
//
//	pkt, err := osc.ParsePacket(data)
package osc

// bit32Size and bit64Size are the wire sizes, in bytes, of the 32- and
// 64-bit OSC argument types (int32/float32/blob-length and int64/float64/
// timetag respectively).
const (
	bit32Size = 4
	bit64Size = 8
)

// MaxPacketSize is the largest datagram size this module works with:
// package transport uses it as its receive buffer size and as the send
// limit of a transport opened with Dial. The decoders in this package
// do not check it.
const MaxPacketSize = 1 << 16
