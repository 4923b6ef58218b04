package storage

import (
	"errors"
	"math"
)

// FieldKind is the type of a single field in a TupleDesc.
type FieldKind uint8

const (
	KindInt32 FieldKind = iota
	KindInt64
	KindBool
	KindFloat64
	KindText  // UTF-8
	KindBytes // opaque bytes
)

// FieldType names and types one field of a tuple.
type FieldType struct {
	Name     string
	Kind     FieldKind
	Nullable bool
}

// TupleDesc is the "type" of a tuple: its field names, kinds, and
// nullability, in order.
type TupleDesc struct {
	Fields []FieldType
}

// NumFields returns the number of fields described.
func (d TupleDesc) NumFields() int { return len(d.Fields) }

// Tuple is a decoded row: one value per field of its TupleDesc, in order.
// A nil entry means SQL NULL.
type Tuple struct {
	Values []any
}

var (
	ErrTupleDescMismatch = errors.New("storage: tuple does not match its descriptor")
	ErrTupleBufferShort  = errors.New("storage: tuple buffer too short to decode")
	ErrFieldTooLong      = errors.New("storage: variable-length field exceeds 64KiB")
	ErrUnknownFieldKind  = errors.New("storage: unknown field kind")
)

// EncodeTuple serializes a Tuple against its TupleDesc into the wire form
// stored on a page: a leading null bitmap, one bit per field, followed by
// each non-null field's bytes in order. Variable-length fields are prefixed
// with a uint16 length.
func EncodeTuple(desc TupleDesc, t Tuple) ([]byte, error) {
	n := desc.NumFields()
	if len(t.Values) != n {
		return nil, ErrTupleDescMismatch
	}

	nullBytes := (n + 7) / 8
	out := make([]byte, nullBytes)

	for i, f := range desc.Fields {
		v := t.Values[i]
		if v == nil {
			if !f.Nullable {
				return nil, ErrTupleDescMismatch
			}
			out[i/8] |= 1 << uint(i%8)
			continue
		}

		switch f.Kind {
		case KindInt32:
			x, ok := asInt32(v)
			if !ok {
				return nil, ErrTupleDescMismatch
			}
			var b [4]byte
			putU32(b[:], 0, uint32(x))
			out = append(out, b[:]...)

		case KindInt64:
			x, ok := asInt64(v)
			if !ok {
				return nil, ErrTupleDescMismatch
			}
			var b [8]byte
			putU64(b[:], 0, uint64(x))
			out = append(out, b[:]...)

		case KindBool:
			x, ok := v.(bool)
			if !ok {
				return nil, ErrTupleDescMismatch
			}
			if x {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}

		case KindFloat64:
			x, ok := asFloat64(v)
			if !ok {
				return nil, ErrTupleDescMismatch
			}
			var b [8]byte
			putU64(b[:], 0, math.Float64bits(x))
			out = append(out, b[:]...)

		case KindText:
			s, ok := v.(string)
			if !ok {
				return nil, ErrTupleDescMismatch
			}
			bs := []byte(s)
			if len(bs) > math.MaxUint16 {
				return nil, ErrFieldTooLong
			}
			var l [2]byte
			putU16(l[:], 0, uint16(len(bs)))
			out = append(out, l[:]...)
			out = append(out, bs...)

		case KindBytes:
			bs, ok := v.([]byte)
			if !ok {
				return nil, ErrTupleDescMismatch
			}
			if len(bs) > math.MaxUint16 {
				return nil, ErrFieldTooLong
			}
			var l [2]byte
			putU16(l[:], 0, uint16(len(bs)))
			out = append(out, l[:]...)
			out = append(out, bs...)

		default:
			return nil, ErrUnknownFieldKind
		}
	}
	return out, nil
}

// DecodeTuple is the inverse of EncodeTuple.
func DecodeTuple(desc TupleDesc, buf []byte) (Tuple, error) {
	n := desc.NumFields()
	nullBytes := (n + 7) / 8
	if len(buf) < nullBytes {
		return Tuple{}, ErrTupleBufferShort
	}
	nullmap := buf[:nullBytes]
	i := nullBytes

	values := make([]any, n)
	for idx, f := range desc.Fields {
		if (nullmap[idx/8]>>uint(idx%8))&1 == 1 {
			values[idx] = nil
			continue
		}

		switch f.Kind {
		case KindInt32:
			if i+4 > len(buf) {
				return Tuple{}, ErrTupleBufferShort
			}
			values[idx] = int32(getU32(buf, i))
			i += 4

		case KindInt64:
			if i+8 > len(buf) {
				return Tuple{}, ErrTupleBufferShort
			}
			values[idx] = int64(getU64(buf, i))
			i += 8

		case KindBool:
			if i+1 > len(buf) {
				return Tuple{}, ErrTupleBufferShort
			}
			values[idx] = buf[i] != 0
			i++

		case KindFloat64:
			if i+8 > len(buf) {
				return Tuple{}, ErrTupleBufferShort
			}
			values[idx] = math.Float64frombits(getU64(buf, i))
			i += 8

		case KindText:
			if i+2 > len(buf) {
				return Tuple{}, ErrTupleBufferShort
			}
			l := int(getU16(buf, i))
			i += 2
			if i+l > len(buf) {
				return Tuple{}, ErrTupleBufferShort
			}
			values[idx] = string(buf[i : i+l])
			i += l

		case KindBytes:
			if i+2 > len(buf) {
				return Tuple{}, ErrTupleBufferShort
			}
			l := int(getU16(buf, i))
			i += 2
			if i+l > len(buf) {
				return Tuple{}, ErrTupleBufferShort
			}
			cp := make([]byte, l)
			copy(cp, buf[i:i+l])
			values[idx] = cp
			i += l

		default:
			return Tuple{}, ErrUnknownFieldKind
		}
	}
	return Tuple{Values: values}, nil
}

func asInt32(v any) (int32, bool) {
	switch x := v.(type) {
	case int32:
		return x, true
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int32(x), true
		}
	case int64:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int32(x), true
		}
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}
