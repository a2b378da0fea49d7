package osc

import "fmt"

// TypeTag identifies the wire type of a single OSC argument.
type TypeTag byte

const (
	TypeInvalid TypeTag = 0
	TypeInt32   TypeTag = 'i'
	TypeInt64   TypeTag = 'h'
	TypeFloat32 TypeTag = 'f'
	TypeFloat64 TypeTag = 'd'
	TypeString  TypeTag = 's'
	TypeBlob    TypeTag = 'b'
	TypeTimetag TypeTag = 't'
	TypeTrue    TypeTag = 'T'
	TypeFalse   TypeTag = 'F'
	TypeNil     TypeTag = 'N'
)

// ToTypeTag returns the TypeTag that matches the dynamic type of v, or
// TypeInvalid if v isn't a supported OSC argument type.
func ToTypeTag(v interface{}) TypeTag {
	switch v.(type) {
	case int32:
		return TypeInt32
	case int64:
		return TypeInt64
	case float32:
		return TypeFloat32
	case float64:
		return TypeFloat64
	case string:
		return TypeString
	case []byte:
		return TypeBlob
	case Timetag:
		return TypeTimetag
	case bool:
		return TypeInvalid // resolved by GetTypeTag, which knows the value
	case nil:
		return TypeNil
	default:
		return TypeInvalid
	}
}

// GetTypeTag is like ToTypeTag, but additionally distinguishes bool true
// and false into their own OSC type tags ('T'/'F').
func GetTypeTag(v interface{}) TypeTag {
	if b, ok := v.(bool); ok {
		if b {
			return TypeTrue
		}
		return TypeFalse
	}
	return ToTypeTag(v)
}

// String returns the single-character wire representation of the tag.
func (t TypeTag) String() string {
	if t == TypeInvalid {
		return ""
	}
	return string([]byte{byte(t)})
}

// InferArg coerces a loosely-typed value — as arrives from YAML config,
// a CLI flag, or a JSON-decoded request body — into the Go type that
// carries a supported OSC type tag. Native Go int/uint kinds narrow to
// int32 when they fit, widen to int64 otherwise; everything already
// wire-typed passes through unchanged. It returns an error for anything
// GetTypeTag still can't place a tag on.
func InferArg(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case int:
		return widenInt(int64(x)), nil
	case int8:
		return int32(x), nil
	case int16:
		return int32(x), nil
	case int32, int64, float32, float64, string, []byte, Timetag, bool, nil:
		return x, nil
	case uint:
		return widenInt(int64(x)), nil
	case uint8:
		return int32(x), nil
	case uint16:
		return int32(x), nil
	case uint32:
		return widenInt(int64(x)), nil
	case uint64:
		return widenInt(int64(x)), nil
	default:
		return nil, fmt.Errorf("osc: cannot infer an OSC type tag for %T", v)
	}
}

func widenInt(v int64) interface{} {
	if v >= -(1<<31) && v <= (1<<31-1) {
		return int32(v)
	}
	return v
}
