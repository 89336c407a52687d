package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/golang/snappy"

	"github.com/banshee-data/minflux/internal/minflux/l2flat"
)

// Column kinds as stored in minflux_columns.kind.
const (
	kindInt32   = "int32"
	kindBool    = "bool"
	kindFloat64 = "float64"
)

// encodeColumn serialises a column and compresses it.
func encodeColumn(c l2flat.Column) (kind string, data []byte) {
	var raw []byte
	switch {
	case c.Int32 != nil:
		kind = kindInt32
		raw = make([]byte, 4*len(c.Int32))
		for i, v := range c.Int32 {
			binary.LittleEndian.PutUint32(raw[4*i:], uint32(v))
		}
	case c.Bool != nil:
		kind = kindBool
		raw = make([]byte, len(c.Bool))
		for i, v := range c.Bool {
			if v {
				raw[i] = 1
			}
		}
	default:
		kind = kindFloat64
		raw = make([]byte, 8*len(c.Float64))
		for i, v := range c.Float64 {
			binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
		}
	}
	return kind, snappy.Encode(nil, raw)
}

// decodeColumn reverses encodeColumn and checks the decoded length.
func decodeColumn(name, kind string, rows int, data []byte) (l2flat.Column, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return l2flat.Column{}, fmt.Errorf("decompress column %q: %w", name, err)
	}

	c := l2flat.Column{Name: name}
	var width int
	switch kind {
	case kindInt32:
		width = 4
	case kindBool:
		width = 1
	case kindFloat64:
		width = 8
	default:
		return l2flat.Column{}, fmt.Errorf("column %q has unknown kind %q", name, kind)
	}
	if len(raw) != width*rows {
		return l2flat.Column{}, fmt.Errorf("column %q: %d bytes for %d rows of %s", name, len(raw), rows, kind)
	}

	switch kind {
	case kindInt32:
		c.Int32 = make([]int32, rows)
		for i := range c.Int32 {
			c.Int32[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	case kindBool:
		c.Bool = make([]bool, rows)
		for i := range c.Bool {
			c.Bool[i] = raw[i] != 0
		}
	case kindFloat64:
		c.Float64 = make([]float64, rows)
		for i := range c.Float64 {
			c.Float64[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
	}
	return c, nil
}
