// Package parse decodes and encodes MINFLUX acquisitions stored as NumPy
// structured arrays (.npy), the raw export format of the instrument
// software.
package parse

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/banshee-data/minflux/internal/fsutil"
	"github.com/banshee-data/minflux/internal/minflux/l1events"
)

var (
	// ErrNotNPY is returned when the input does not start with the .npy magic.
	ErrNotNPY = errors.New("not a .npy file")

	// ErrUnsupportedDtype is returned for dtypes the reader cannot decode.
	ErrUnsupportedDtype = errors.New("unsupported dtype")

	// ErrMissingField is returned when a required record field is absent.
	ErrMissingField = errors.New("missing field")
)

const npyMagic = "\x93NUMPY"

// header is the decoded preamble of an .npy file.
type header struct {
	major, minor byte
	dt           *dtype
	count        int
	dataOffset   int
}

func decodeHeader(data []byte) (*header, error) {
	if len(data) < 10 || string(data[:6]) != npyMagic {
		return nil, ErrNotNPY
	}
	h := &header{major: data[6], minor: data[7]}
	var hlen, start int
	switch h.major {
	case 1:
		hlen, start = int(binary.LittleEndian.Uint16(data[8:10])), 10
	case 2, 3:
		if len(data) < 12 {
			return nil, fmt.Errorf("header: %w", io.ErrUnexpectedEOF)
		}
		hlen, start = int(binary.LittleEndian.Uint32(data[8:12])), 12
	default:
		return nil, fmt.Errorf("unsupported .npy version %d.%d", h.major, h.minor)
	}
	if len(data) < start+hlen {
		return nil, fmt.Errorf("header: %w", io.ErrUnexpectedEOF)
	}
	h.dataOffset = start + hlen

	lit, err := parseLiteral(strings.TrimSpace(string(data[start : start+hlen])))
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	dict, ok := lit.(pyDict)
	if !ok {
		return nil, fmt.Errorf("header: expected dict, got %T", lit)
	}
	if fortran, _ := dict["fortran_order"].(bool); fortran {
		return nil, fmt.Errorf("header: fortran_order arrays are not supported")
	}
	shape, ok := dict["shape"].(pyTuple)
	if !ok || len(shape) != 1 {
		return nil, fmt.Errorf("header: expected one-dimensional shape, got %v", dict["shape"])
	}
	if h.count, ok = shape[0].(int); !ok || h.count < 0 {
		return nil, fmt.Errorf("header: invalid shape %v", shape)
	}
	if h.dt, err = parseDescr(dict["descr"]); err != nil {
		return nil, err
	}
	if h.dt.kind != 'V' {
		return nil, fmt.Errorf("%w: expected a structured array", ErrUnsupportedDtype)
	}
	return h, nil
}

// recordLayout resolves the fields the reader needs once per file.
type recordLayout struct {
	tid, vld, tim, fluo *field
	itr                 *field
	loc, efo, cfr, dcr  *field
	eco, itrIndex       *field
}

func resolveLayout(dt *dtype) (*recordLayout, error) {
	l := &recordLayout{
		tid:  dt.field("tid"),
		vld:  dt.field("vld"),
		tim:  dt.field("tim"),
		fluo: dt.field("fluo"),
		itr:  dt.field("itr"),
	}
	for name, f := range map[string]*field{"tid": l.tid, "vld": l.vld, "tim": l.tim, "itr": l.itr} {
		if f == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	if l.itr.dt.kind != 'V' {
		return nil, fmt.Errorf("%w: itr is not a record", ErrUnsupportedDtype)
	}
	l.loc = l.itr.dt.field("loc")
	l.efo = l.itr.dt.field("efo")
	l.cfr = l.itr.dt.field("cfr")
	l.dcr = l.itr.dt.field("dcr")
	l.eco = l.itr.dt.field("eco")
	l.itrIndex = l.itr.dt.field("itr")
	for name, f := range map[string]*field{"itr.loc": l.loc, "itr.efo": l.efo, "itr.cfr": l.cfr, "itr.dcr": l.dcr} {
		if f == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	if l.loc.count() != 3 {
		return nil, fmt.Errorf("%w: itr.loc must hold 3 coordinates, has %d", ErrUnsupportedDtype, l.loc.count())
	}
	for _, f := range []*field{l.tid, l.vld, l.tim, l.fluo, l.loc, l.efo, l.cfr, l.dcr, l.eco, l.itrIndex} {
		if f != nil && !f.dt.numeric() {
			return nil, fmt.Errorf("%w: field %q of kind %q", ErrUnsupportedDtype, f.name, f.dt.kind)
		}
	}
	return l, nil
}

// Decode parses a complete .npy file held in memory.
func Decode(data []byte) (*l1events.Dataset, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	layout, err := resolveLayout(h.dt)
	if err != nil {
		return nil, err
	}

	recSize := h.dt.size
	if recSize <= 0 {
		return nil, fmt.Errorf("%w: empty record", ErrUnsupportedDtype)
	}
	body := data[h.dataOffset:]
	if h.count > len(body)/recSize {
		return nil, fmt.Errorf("data: %d records of %d bytes do not fit in %d bytes: %w",
			h.count, recSize, len(body), io.ErrUnexpectedEOF)
	}

	nIter := layout.itr.count()
	itrSize := layout.itr.dt.size
	events := make([]l1events.Event, h.count)
	anyFluo := false
	for r := range events {
		rec := body[r*recSize : (r+1)*recSize]
		ev := &events[r]
		ev.TID = int32(layout.tid.dt.asInt(rec[layout.tid.offset:]))
		ev.VLD = layout.vld.dt.asInt(rec[layout.vld.offset:]) != 0
		ev.TIM = layout.tim.dt.asFloat(rec[layout.tim.offset:])
		if layout.fluo != nil {
			ev.Fluo = int8(layout.fluo.dt.asInt(rec[layout.fluo.offset:]))
			anyFluo = anyFluo || ev.Fluo != 0
		}

		ev.Iterations = make([]l1events.Iteration, nIter)
		for i := range ev.Iterations {
			sub := rec[layout.itr.offset+i*itrSize:]
			it := &ev.Iterations[i]
			for k := 0; k < 3; k++ {
				it.Loc[k] = layout.loc.dt.asFloat(sub[layout.loc.offset+k*layout.loc.dt.size:])
			}
			it.EFO = layout.efo.dt.asFloat(sub[layout.efo.offset:])
			it.CFR = layout.cfr.dt.asFloat(sub[layout.cfr.offset:])
			it.DCR = layout.dcr.dt.asFloat(sub[layout.dcr.offset:])
			if layout.eco != nil {
				it.ECO = int32(layout.eco.dt.asInt(sub[layout.eco.offset:]))
			}
			if layout.itrIndex != nil {
				it.ITR = int32(layout.itrIndex.dt.asInt(sub[layout.itrIndex.offset:]))
			} else {
				it.ITR = int32(i)
			}
		}
	}

	// Files exported before fluorophore assignment carry no (or an all-zero)
	// fluo column: everything belongs to fluorophore 1.
	if !anyFluo {
		for i := range events {
			events[i].Fluo = 1
		}
	}

	ds, err := l1events.NewDataset(events)
	if err != nil {
		return nil, err
	}
	if h.count == 0 {
		// An empty file still declares its sequence in the dtype.
		ds.Iterations = nIter
		if ds.Is3D, ds.Aggregated, err = l1events.DetectAcquisition(nIter, nil); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Read decodes an .npy stream.
func Read(r io.Reader) (*l1events.Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// ReadFile loads an .npy acquisition through fsys. Files ending in
// .npy.zst are zstd-compressed.
func ReadFile(fsys fsutil.FileSystem, path string) (*l1events.Dataset, error) {
	if err := CheckExtension(path); err != nil {
		return nil, err
	}
	data, err := fsutil.ReadLimited(fsys, path, 0)
	if err != nil {
		return nil, err
	}
	return DecodeFile(path, data)
}

// CheckExtension accepts .npy and .npy.zst paths, case-insensitively.
func CheckExtension(path string) error {
	name := strings.TrimSuffix(strings.ToLower(path), zstdExt)
	if ext := filepath.Ext(name); ext != ".npy" {
		return fmt.Errorf("%s: expected .npy extension, got %q", path, ext)
	}
	return nil
}

// DecodeFile decodes the contents of path, decompressing .zst files first.
func DecodeFile(path string, data []byte) (*l1events.Dataset, error) {
	if err := CheckExtension(path); err != nil {
		return nil, err
	}
	if strings.HasSuffix(strings.ToLower(path), zstdExt) {
		var err error
		if data, err = decompress(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	ds, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// itrDescr is the per-iteration record written by Write.
const itrDescr = "[('itr', '<i4'), ('loc', '<f8', (3,)), ('eco', '<i4'), ('efo', '<f8'), ('cfr', '<f8'), ('dcr', '<f8')]"

const itrRecordSize = 4 + 3*8 + 4 + 3*8

// Write encodes ds as a version 1.0 .npy structured array using the subset
// of the instrument dtype modelled by l1events.
func Write(w io.Writer, ds *l1events.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	n := ds.Iterations
	hdr := fmt.Sprintf("{'descr': [('itr', %s, (%d,)), ('tim', '<f8'), ('tid', '<i4'), ('vld', '|b1'), ('fluo', '|i1')], 'fortran_order': False, 'shape': (%d,), }",
		itrDescr, n, len(ds.Events))

	// magic + version + length + header + '\n' padded to a multiple of 64
	total := len(npyMagic) + 2 + 2 + len(hdr) + 1
	if pad := total % 64; pad != 0 {
		hdr += strings.Repeat(" ", 64-pad)
	}
	hdr += "\n"
	if len(hdr) > 0xFFFF {
		return fmt.Errorf("header too long: %d bytes", len(hdr))
	}

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(hdr)))
	buf.WriteString(hdr)

	le := binary.LittleEndian
	rec := make([]byte, n*itrRecordSize+8+4+1+1)
	for i := range ds.Events {
		ev := &ds.Events[i]
		for k, it := range ev.Iterations {
			b := rec[k*itrRecordSize:]
			le.PutUint32(b[0:], uint32(it.ITR))
			for c := 0; c < 3; c++ {
				le.PutUint64(b[4+8*c:], math.Float64bits(it.Loc[c]))
			}
			le.PutUint32(b[28:], uint32(it.ECO))
			le.PutUint64(b[32:], math.Float64bits(it.EFO))
			le.PutUint64(b[40:], math.Float64bits(it.CFR))
			le.PutUint64(b[48:], math.Float64bits(it.DCR))
		}
		tail := rec[n*itrRecordSize:]
		le.PutUint64(tail[0:], math.Float64bits(ev.TIM))
		le.PutUint32(tail[8:], uint32(ev.TID))
		tail[12] = 0
		if ev.VLD {
			tail[12] = 1
		}
		tail[13] = byte(ev.Fluo)
		buf.Write(rec)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
