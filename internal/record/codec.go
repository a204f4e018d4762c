package record

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	ErrSchemaMismatch  = errors.New("record: schema/values mismatch")
	ErrBadBuffer       = errors.New("record: buffer underflow/overflow")
	ErrVarTooLong      = errors.New("record: variable length exceeds u16")
	ErrUnsupportedType = errors.New("record: unsupported type")
)

var le = binary.LittleEndian

// EncodeRow encodes values with schema s.
//
// Format:
//
//	[nullmap: ceil(N/8) bytes, bit=1 => NULL] [field0?] [field1?] ...
//
// Fixed types are little endian; TEXT/BYTES are u16 length + data.
func EncodeRow(s Schema, values []any) ([]byte, error) {
	nc := s.NumCols()
	if len(values) != nc {
		return nil, ErrSchemaMismatch
	}

	out := make([]byte, (nc+7)/8)
	for i, col := range s.Cols {
		v := values[i]
		if v == nil {
			if !col.Nullable {
				return nil, ErrSchemaMismatch
			}
			out[i/8] |= 1 << (uint(i) & 7)
			continue
		}

		var ok bool
		switch col.Type {
		case ColInt32:
			var x int32
			if x, ok = asInt32(v); ok {
				out = le.AppendUint32(out, uint32(x))
			}
		case ColInt64:
			var x int64
			if x, ok = asInt64(v); ok {
				out = le.AppendUint64(out, uint64(x))
			}
		case ColBool:
			var x bool
			if x, ok = v.(bool); ok {
				if x {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			}
		case ColFloat64:
			var x float64
			if x, ok = asFloat64(v); ok {
				out = le.AppendUint64(out, math.Float64bits(x))
			}
		case ColText:
			var x string
			if x, ok = v.(string); ok {
				if len(x) > math.MaxUint16 {
					return nil, ErrVarTooLong
				}
				out = le.AppendUint16(out, uint16(len(x)))
				out = append(out, x...)
			}
		case ColBytes:
			var x []byte
			if x, ok = v.([]byte); ok {
				if len(x) > math.MaxUint16 {
					return nil, ErrVarTooLong
				}
				out = le.AppendUint16(out, uint16(len(x)))
				out = append(out, x...)
			}
		default:
			return nil, ErrUnsupportedType
		}
		if !ok {
			return nil, ErrSchemaMismatch
		}
	}
	return out, nil
}

// DecodeRow never aliases buf: TEXT/BYTES values are copied, so rows stay
// valid after the page they came from is unpinned.
func DecodeRow(s Schema, buf []byte) ([]any, error) {
	nc := s.NumCols()
	nb := (nc + 7) / 8
	if len(buf) < nb {
		return nil, ErrBadBuffer
	}
	nullmap, i := buf[:nb], nb

	take := func(n int) ([]byte, error) {
		if i+n > len(buf) {
			return nil, ErrBadBuffer
		}
		b := buf[i : i+n]
		i += n
		return b, nil
	}
	takeVar := func() ([]byte, error) {
		l, err := take(2)
		if err != nil {
			return nil, err
		}
		return take(int(le.Uint16(l)))
	}

	out := make([]any, nc)
	for c, col := range s.Cols {
		if (nullmap[c/8]>>(uint(c)&7))&1 == 1 {
			continue
		}

		var (
			b   []byte
			err error
		)
		switch col.Type {
		case ColInt32:
			if b, err = take(4); err == nil {
				out[c] = int32(le.Uint32(b))
			}
		case ColInt64:
			if b, err = take(8); err == nil {
				out[c] = int64(le.Uint64(b))
			}
		case ColBool:
			if b, err = take(1); err == nil {
				out[c] = b[0] != 0
			}
		case ColFloat64:
			if b, err = take(8); err == nil {
				out[c] = math.Float64frombits(le.Uint64(b))
			}
		case ColText:
			if b, err = takeVar(); err == nil {
				out[c] = string(b)
			}
		case ColBytes:
			if b, err = takeVar(); err == nil {
				out[c] = append([]byte(nil), b...)
			}
		default:
			return nil, ErrUnsupportedType
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
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
