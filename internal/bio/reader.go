// Package bio provides the endian-aware binary reader/writer and the
// once-cell memoization primitive every lazy format reader composes on top
// of.
package bio

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/xyproto/multiforge/internal/diag"
)

// Reader wraps a random-access byte source with a cursor and endian
// awareness. Every failed read is recorded on an internal sink rather than
// aborting the whole parse; callers drain it with TakeErrors.
type Reader struct {
	src    io.ReaderAt
	order  binary.ByteOrder
	offset int64
	size   int64
	url    string
	errs   []diag.Entry
}

// NewReader wraps src (which must know its own length via ReaderAt over a
// bounded region) for reads in the given byte order.
func NewReader(src io.ReaderAt, size int64, order binary.ByteOrder, url string) *Reader {
	return &Reader{src: src, order: order, size: size, url: url}
}

func (r *Reader) recordErr(err error) {
	r.errs = append(r.errs, diag.Entry{Severity: diag.Error, Err: err, Offset: r.offset, URL: r.url})
}

// TakeErrors drains and returns the accumulated error entries.
func (r *Reader) TakeErrors() []diag.Entry {
	e := r.errs
	r.errs = nil
	return e
}

// Offset returns the current cursor position.
func (r *Reader) Offset() int64 { return r.offset }

// Remaining returns the number of bytes left to read.
func (r *Reader) Remaining() int64 { return r.size - r.offset }

// SeekAbs moves the cursor to an absolute offset.
func (r *Reader) SeekAbs(off int64) error {
	if off < 0 || off > r.size {
		err := &diag.InvalidRange{ActualLength: r.size, ExpectedLength: off}
		r.recordErr(err)
		return err
	}
	r.offset = off
	return nil
}

// PeekAt reads n bytes at an absolute offset without moving the cursor.
func (r *Reader) PeekAt(off int64, n int) ([]byte, error) {
	if off < 0 || off+int64(n) > r.size {
		err := &diag.InvalidRange{ActualLength: r.size - off, ExpectedLength: int64(n)}
		r.recordErr(err)
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := r.src.ReadAt(buf, off); err != nil {
		wrapped := diag.NewIoError(err, r.url)
		r.recordErr(wrapped)
		return nil, wrapped
	}
	return buf, nil
}

// ReadExact reads n bytes and advances the cursor.
func (r *Reader) ReadExact(n int) ([]byte, error) {
	buf, err := r.PeekAt(r.offset, n)
	if err != nil {
		return nil, err
	}
	r.offset += int64(n)
	return buf, nil
}

// ReadUntil reads bytes up to and including delim, or to EOF.
func (r *Reader) ReadUntil(delim byte) ([]byte, error) {
	start := r.offset
	var out []byte
	for r.offset < r.size {
		b, err := r.ReadExact(1)
		if err != nil {
			return nil, err
		}
		out = append(out, b[0])
		if b[0] == delim {
			return out, nil
		}
	}
	if len(out) == 0 {
		err := &diag.InvalidRange{ActualLength: r.size - start, ExpectedLength: 1}
		r.recordErr(err)
		return nil, err
	}
	return out, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.ReadExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) I8() (int8, error) {
	v, err := r.U8()
	return int8(v), err
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.ReadExact(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

func (r *Reader) I16() (int16, error) {
	v, err := r.U16()
	return int16(v), err
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.ReadExact(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.ReadExact(8)
	if err != nil {
		return 0, err
	}
	return r.order.Uint64(b), nil
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	return math.Float32frombits(v), err
}

func (r *Reader) F64() (float64, error) {
	v, err := r.U64()
	return math.Float64frombits(v), err
}
