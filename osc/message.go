package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/oschost/sc3osc/oscerr"
)

// Message is an OSC message: an address pattern plus a sequence of typed
// arguments.
type Message struct {
	Address   string
	Arguments []interface{}
}

// NewMessage creates a Message addressed to address, with optional
// initial arguments.
func NewMessage(address string, args ...interface{}) *Message {
	return &Message{Address: address, Arguments: args}
}

// Append adds one or more arguments to the message.
func (msg *Message) Append(args ...interface{}) {
	msg.Arguments = append(msg.Arguments, args...)
}

// Clear removes the address and all arguments from the message.
func (msg *Message) Clear() {
	msg.Address = ""
	msg.ClearData()
}

// ClearData removes all arguments, keeping the address.
func (msg *Message) ClearData() {
	msg.Arguments = nil
}

// CountArguments returns the number of arguments in the message.
func (msg *Message) CountArguments() int {
	return len(msg.Arguments)
}

// TypeTags returns the OSC type tag string for the message's current
// arguments, e.g. ",isf".
func (msg *Message) TypeTags() (string, error) {
	var tags strings.Builder
	tags.WriteByte(',')
	for _, arg := range msg.Arguments {
		tag := GetTypeTag(arg)
		if tag == TypeInvalid {
			return "", fmt.Errorf("osc: unsupported argument type %T", arg)
		}
		tags.WriteByte(byte(tag))
	}
	return tags.String(), nil
}

// Match reports whether addr matches this message's address pattern,
// using OSC address-pattern wildcard semantics (*, ?, [], {}).
func (msg *Message) Match(addr string) (bool, error) {
	return matchAddress(msg.Address, addr)
}

// String renders the message as a human-readable line, e.g.
// "/s_new ,isf 1 synth 440".
func (msg *Message) String() string {
	tags, err := msg.TypeTags()
	if err != nil {
		tags = ",?"
	}
	var b strings.Builder
	b.WriteString(msg.Address)
	b.WriteByte(' ')
	b.WriteString(tags)
	for _, arg := range msg.Arguments {
		b.WriteByte(' ')
		fmt.Fprintf(&b, "%v", arg)
	}
	return b.String()
}

// MarshalBinary encodes the message to its OSC wire representation.
func (msg *Message) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	addrBuf := make([]byte, len(msg.Address)+1+padBytesNeeded(len(msg.Address)+1))
	buf.Write(addrBuf[:writePaddedString(msg.Address, addrBuf)])

	tags, err := msg.TypeTags()
	if err != nil {
		return nil, err
	}
	tagBuf := make([]byte, len(tags)+1+padBytesNeeded(len(tags)+1))
	n, err := writeTypeTags(msg.Arguments, tagBuf)
	if err != nil {
		return nil, err
	}
	buf.Write(tagBuf[:n])

	for _, arg := range msg.Arguments {
		if err := writeArgument(&buf, arg); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeArgument(buf *bytes.Buffer, arg interface{}) error {
	switch v := arg.(type) {
	case int32:
		b := make([]byte, bit32Size)
		binary.BigEndian.PutUint32(b, uint32(v))
		buf.Write(b)
	case int64:
		b := make([]byte, bit64Size)
		binary.BigEndian.PutUint64(b, uint64(v))
		buf.Write(b)
	case float32:
		b := make([]byte, bit32Size)
		binary.BigEndian.PutUint32(b, math.Float32bits(v))
		buf.Write(b)
	case float64:
		b := make([]byte, bit64Size)
		binary.BigEndian.PutUint64(b, math.Float64bits(v))
		buf.Write(b)
	case string:
		b := make([]byte, len(v)+1+padBytesNeeded(len(v)+1))
		buf.Write(b[:writePaddedString(v, b)])
	case []byte:
		if uint64(len(v)) > math.MaxUint32 {
			return fmt.Errorf("osc: blob of %d bytes: %w", len(v), oscerr.ErrArgumentTooLarge)
		}
		b := make([]byte, bit32Size+len(v)+padBytesNeeded(bit32Size+len(v)))
		buf.Write(b[:writeBlob(v, b)])
	case Timetag:
		tb, _ := v.MarshalBinary()
		buf.Write(tb)
	case bool, nil:
		// true/false/nil carry no argument bytes, only a type tag.
	default:
		return fmt.Errorf("osc: unsupported argument type %T", arg)
	}
	return nil
}

// NewMessageFromData decodes an OSC message from its wire representation.
func NewMessageFromData(data []byte) (*Message, error) {
	addr, n, err := parsePaddedString(data)
	if err != nil {
		return nil, fmt.Errorf("osc: reading address: %w", err)
	}
	data = data[n:]

	msg := &Message{Address: addr}

	if len(data) == 0 {
		return msg, nil
	}

	tags, n, err := parsePaddedString(data)
	if err != nil {
		return nil, fmt.Errorf("osc: reading type tags: %w", err)
	}
	data = data[n:]

	if len(tags) == 0 || tags[0] != ',' {
		return nil, fmt.Errorf("osc: malformed type tag string %q", tags)
	}

	for _, tag := range tags[1:] {
		arg, n, err := readArgument(TypeTag(tag), data)
		if err != nil {
			return nil, fmt.Errorf("osc: reading argument %q: %w", tag, err)
		}
		msg.Arguments = append(msg.Arguments, arg)
		data = data[n:]
	}

	return msg, nil
}

func readArgument(tag TypeTag, data []byte) (interface{}, int, error) {
	switch tag {
	case TypeInt32:
		if len(data) < bit32Size {
			return nil, 0, fmt.Errorf("osc: argument truncated: %w", oscerr.ErrMalformedPacket)
		}
		return int32(binary.BigEndian.Uint32(data[:bit32Size])), bit32Size, nil
	case TypeInt64:
		if len(data) < bit64Size {
			return nil, 0, fmt.Errorf("osc: argument truncated: %w", oscerr.ErrMalformedPacket)
		}
		return int64(binary.BigEndian.Uint64(data[:bit64Size])), bit64Size, nil
	case TypeFloat32:
		if len(data) < bit32Size {
			return nil, 0, fmt.Errorf("osc: argument truncated: %w", oscerr.ErrMalformedPacket)
		}
		return math.Float32frombits(binary.BigEndian.Uint32(data[:bit32Size])), bit32Size, nil
	case TypeFloat64:
		if len(data) < bit64Size {
			return nil, 0, fmt.Errorf("osc: argument truncated: %w", oscerr.ErrMalformedPacket)
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data[:bit64Size])), bit64Size, nil
	case TypeString:
		return parsePaddedString(data)
	case TypeBlob:
		return parseBlob(data)
	case TypeTimetag:
		if len(data) < bit64Size {
			return nil, 0, fmt.Errorf("osc: argument truncated: %w", oscerr.ErrMalformedPacket)
		}
		return NewTimetag(binary.BigEndian.Uint64(data[:bit64Size])), bit64Size, nil
	case TypeTrue:
		return true, 0, nil
	case TypeFalse:
		return false, 0, nil
	case TypeNil:
		return nil, 0, nil
	default:
		return nil, 0, fmt.Errorf("osc: unknown type tag %q", byte(tag))
	}
}

// matchAddress implements OSC address-pattern matching: '*' matches any
// run of characters, '?' matches a single character, '[abc]'/'[a-z]'
// matches a character class, and '{foo,bar}' matches alternatives.
func matchAddress(pattern, addr string) (bool, error) {
	if pattern == addr {
		return true, nil
	}

	re, err := addressToRegexp(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(addr), nil
}

func addressToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '.':
			b.WriteString(`\.`)
		case '(':
			b.WriteString(`\(`)
		case ')':
			b.WriteString(`\)`)
		case '*':
			b.WriteString(`[^/]*`)
		case '?':
			b.WriteString(`[^/]`)
		case '{':
			b.WriteByte('(')
		case '}':
			b.WriteByte(')')
		case ',':
			b.WriteByte('|')
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}
