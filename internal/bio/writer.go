package bio

import (
	"encoding/binary"
	"io"

	"github.com/xyproto/multiforge/internal/diag"
)

// Writer wraps an io.Writer with a running offset and alignment helpers. It
// is explicitly not safe for concurrent use; callers serialize access.
type Writer struct {
	dst    io.Writer
	order  binary.ByteOrder
	offset int64
}

func NewWriter(dst io.Writer, order binary.ByteOrder) *Writer {
	return &Writer{dst: dst, order: order}
}

func (w *Writer) Offset() int64 { return w.offset }

func (w *Writer) write(b []byte) error {
	n, err := w.dst.Write(b)
	w.offset += int64(n)
	if err != nil {
		return diag.NewIoError(err, "")
	}
	return nil
}

func (w *Writer) Bytes(b []byte) error { return w.write(b) }

func (w *Writer) U8(v uint8) error { return w.write([]byte{v}) }

func (w *Writer) U16(v uint16) error {
	b := make([]byte, 2)
	w.order.PutUint16(b, v)
	return w.write(b)
}

func (w *Writer) U32(v uint32) error {
	b := make([]byte, 4)
	w.order.PutUint32(b, v)
	return w.write(b)
}

func (w *Writer) U64(v uint64) error {
	b := make([]byte, 8)
	w.order.PutUint64(b, v)
	return w.write(b)
}

func (w *Writer) I8(v int8) error   { return w.U8(uint8(v)) }
func (w *Writer) I16(v int16) error { return w.U16(uint16(v)) }
func (w *Writer) I32(v int32) error { return w.U32(uint32(v)) }
func (w *Writer) I64(v int64) error { return w.U64(uint64(v)) }

// PadToAlignment writes zero bytes until the offset is a multiple of n.
func (w *Writer) PadToAlignment(n uint64) error {
	if n == 0 {
		return nil
	}
	rem := uint64(w.offset) % n
	if rem == 0 {
		return nil
	}
	return w.write(make([]byte, n-rem))
}

// PadToOffset writes zero bytes until the absolute target offset is reached.
func (w *Writer) PadToOffset(target int64) error {
	if target < w.offset {
		return &diag.InvalidData{Message: "pad target is behind current offset"}
	}
	if target == w.offset {
		return nil
	}
	return w.write(make([]byte, target-w.offset))
}
