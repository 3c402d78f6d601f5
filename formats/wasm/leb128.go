package wasm

import (
	"bytes"
	"errors"

	"github.com/tetratelabs/wabin/leb128"
)

var errTruncatedVarint = errors.New("wasm: truncated LEB128 varint")

// LEB128 varint encoding. WebAssembly's binary format uses unsigned LEB128
// for indices/counts/sizes and signed LEB128 for instruction immediates;
// encoding/decoding is delegated to wabin/leb128, the module wazero itself
// factored out of its interpreter for exactly this purpose, rather than
// hand-rolled here.

// PutUvarint32 encodes v as unsigned LEB128, for callers outside this
// package (e.g. the wat instruction encoder) that need the same varint
// format the binary writer uses.
func PutUvarint32(v uint32) []byte { return putUvarint32(v) }

// PutVarint64 encodes v as signed LEB128.
func PutVarint64(v int64) []byte { return putVarint64(v) }

func putUvarint32(v uint32) []byte { return leb128.EncodeUint32(v) }

func putVarint64(v int64) []byte { return leb128.EncodeInt64(v) }

// readUvarint32 decodes an unsigned LEB128 value starting at buf[off],
// returning the value and the number of bytes consumed.
func readUvarint32(buf []byte, off int) (uint32, int, error) {
	if off > len(buf) {
		return 0, 0, errTruncatedVarint
	}
	v, n, err := leb128.DecodeUint32(bytes.NewReader(buf[off:]))
	if err != nil {
		return 0, 0, errTruncatedVarint
	}
	return v, int(n), nil
}
