package parse

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// dtype is a decoded numpy array-protocol type: either a scalar ("<f8",
// "|b1", "?") or a packed record of named fields.
type dtype struct {
	kind   byte // b, i, u, f for numeric scalars; V for records; others are opaque
	size   int
	order  binary.ByteOrder
	fields []field
}

// maxRecordSize bounds the byte size of a single record or field.
const maxRecordSize = 1 << 20

type field struct {
	name   string
	dt     *dtype
	shape  []int
	offset int
}

// count is the number of elements of the field's subarray (1 for scalars).
func (f *field) count() int {
	n := 1
	for _, d := range f.shape {
		n *= d
	}
	return n
}

func (f *field) size() int { return f.dt.size * f.count() }

func (dt *dtype) field(name string) *field {
	for i := range dt.fields {
		if dt.fields[i].name == name {
			return &dt.fields[i]
		}
	}
	return nil
}

func (dt *dtype) numeric() bool {
	switch dt.kind {
	case 'b', 'i', 'u', 'f':
		return true
	}
	return false
}

// parseDescr builds a dtype from the 'descr' value of an .npy header.
func parseDescr(v interface{}) (*dtype, error) {
	switch d := v.(type) {
	case string:
		return parseScalar(d)
	case pyList:
		return parseRecord(d)
	default:
		return nil, fmt.Errorf("%w: descr of type %T", ErrUnsupportedDtype, v)
	}
}

func parseScalar(s string) (*dtype, error) {
	if s == "?" {
		return &dtype{kind: 'b', size: 1, order: binary.LittleEndian}, nil
	}
	if len(s) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDtype, s)
	}
	dt := &dtype{order: binary.LittleEndian}
	switch s[0] {
	case '<', '|', '=':
		s = s[1:]
	case '>':
		dt.order = binary.BigEndian
		s = s[1:]
	}
	if len(s) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDtype, s)
	}
	dt.kind = s[0]
	n, err := strconv.Atoi(s[1:])
	if err != nil || n <= 0 || n > maxRecordSize/4 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDtype, s)
	}
	switch dt.kind {
	case 'b':
		if n != 1 {
			return nil, fmt.Errorf("%w: bool of size %d", ErrUnsupportedDtype, n)
		}
	case 'i', 'u':
		if n != 1 && n != 2 && n != 4 && n != 8 {
			return nil, fmt.Errorf("%w: integer of size %d", ErrUnsupportedDtype, n)
		}
	case 'f':
		if n != 4 && n != 8 {
			return nil, fmt.Errorf("%w: float of size %d", ErrUnsupportedDtype, n)
		}
	case 'U':
		n *= 4
	case 'S', 'V', 'a', 'c', 'M', 'm':
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedDtype, dt.kind)
	}
	dt.size = n
	return dt, nil
}

func parseRecord(items pyList) (*dtype, error) {
	dt := &dtype{kind: 'V', order: binary.LittleEndian}
	for _, item := range items {
		t, ok := item.(pyTuple)
		if !ok || len(t) < 2 || len(t) > 3 {
			return nil, fmt.Errorf("%w: malformed field %v", ErrUnsupportedDtype, item)
		}
		name, ok := t[0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: field name %v", ErrUnsupportedDtype, t[0])
		}
		sub, err := parseDescr(t[1])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		f := field{name: name, dt: sub, offset: dt.size}
		if len(t) == 3 {
			shape, ok := t[2].(pyTuple)
			if !ok {
				// numpy also accepts a bare int for one-dimensional subarrays
				n, isInt := t[2].(int)
				if !isInt {
					return nil, fmt.Errorf("%w: shape of field %q", ErrUnsupportedDtype, name)
				}
				shape = pyTuple{n}
			}
			elems := 1
			for _, d := range shape {
				n, ok := d.(int)
				if !ok || n < 0 {
					return nil, fmt.Errorf("%w: shape of field %q", ErrUnsupportedDtype, name)
				}
				if n > 0 && elems > maxRecordSize/n {
					return nil, fmt.Errorf("%w: field %q exceeds %d bytes", ErrUnsupportedDtype, name, maxRecordSize)
				}
				elems *= n
				f.shape = append(f.shape, n)
			}
			if sub.size > 0 && elems > maxRecordSize/sub.size {
				return nil, fmt.Errorf("%w: field %q exceeds %d bytes", ErrUnsupportedDtype, name, maxRecordSize)
			}
		}
		dt.fields = append(dt.fields, f)
		dt.size += f.size()
		if dt.size > maxRecordSize {
			return nil, fmt.Errorf("%w: record exceeds %d bytes", ErrUnsupportedDtype, maxRecordSize)
		}
	}
	return dt, nil
}

// asFloat reads a numeric scalar of type dt from b.
func (dt *dtype) asFloat(b []byte) float64 {
	switch dt.kind {
	case 'f':
		if dt.size == 4 {
			return float64(math.Float32frombits(dt.order.Uint32(b)))
		}
		return math.Float64frombits(dt.order.Uint64(b))
	case 'u', 'b':
		return float64(dt.asUint(b))
	default:
		return float64(dt.asInt(b))
	}
}

// asInt reads an integer (or truncated float) scalar of type dt from b.
func (dt *dtype) asInt(b []byte) int64 {
	switch dt.kind {
	case 'f':
		return int64(dt.asFloat(b))
	case 'u', 'b':
		return int64(dt.asUint(b))
	}
	switch dt.size {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(dt.order.Uint16(b)))
	case 4:
		return int64(int32(dt.order.Uint32(b)))
	default:
		return int64(dt.order.Uint64(b))
	}
}

func (dt *dtype) asUint(b []byte) uint64 {
	switch dt.size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(dt.order.Uint16(b))
	case 4:
		return uint64(dt.order.Uint32(b))
	default:
		return dt.order.Uint64(b)
	}
}
