package clr

import "unicode/utf16"

// heaps accumulates the four metadata heaps with interning, matching the
// convention every other format package here uses for its constant/string
// pool (see formats/jvm's ConstantPool). Every heap stays under 64KiB, so
// every index this toolkit emits is 2 bytes — a simplification recorded in
// the package doc comment.
type heaps struct {
	strings    []byte // the #Strings heap; index 0 is the empty string
	strIndex   map[string]uint16
	userStr    []byte // the #US heap
	blob       []byte // the #Blob heap; index 0 is the empty blob
	blobIndex  map[string]uint16
	guid       []byte // the #GUID heap, one GUID per 16 bytes, 1-based index
}

func newHeaps() *heaps {
	h := &heaps{
		strings:   []byte{0x00},
		strIndex:  map[string]uint16{"": 0},
		userStr:   []byte{0x00},
		blob:      []byte{0x00},
		blobIndex: map[string]uint16{"": 0},
	}
	return h
}

// str interns s into #Strings (UTF-8, nul-terminated) and returns its index.
func (h *heaps) str(s string) uint16 {
	if idx, ok := h.strIndex[s]; ok {
		return idx
	}
	idx := uint16(len(h.strings))
	h.strings = append(h.strings, []byte(s)...)
	h.strings = append(h.strings, 0x00)
	h.strIndex[s] = idx
	return idx
}

// userString appends s to #US (UTF-16LE, with ECMA-335's trailing
// "has extended characters" marker byte) and returns its index. Repeated
// strings are not deduplicated: each call adds a new entry.
func (h *heaps) userString(s string) uint16 {
	idx := uint16(len(h.userStr))
	units := utf16.Encode([]rune(s))
	payload := make([]byte, len(units)*2+1)
	extended := byte(0)
	for i, u := range units {
		payload[i*2] = byte(u)
		payload[i*2+1] = byte(u >> 8)
		if u > 0xFF || (u >= 0x01 && u <= 0x08) || u == 0x0E || u == 0x1F {
			extended = 1
		}
	}
	payload[len(payload)-1] = extended
	h.userStr = append(h.userStr, encodeBlobLen(uint32(len(payload)))...)
	h.userStr = append(h.userStr, payload...)
	return idx
}

// blobBytes interns an arbitrary blob (e.g. a method signature) and
// returns its index.
func (h *heaps) blobBytes(b []byte) uint16 {
	key := string(b)
	if idx, ok := h.blobIndex[key]; ok {
		return idx
	}
	idx := uint16(len(h.blob))
	h.blob = append(h.blob, encodeBlobLen(uint32(len(b)))...)
	h.blob = append(h.blob, b...)
	h.blobIndex[key] = idx
	return idx
}

// guidIndex appends a 16-byte GUID and returns its 1-based heap index.
func (h *heaps) guidIndex(g [16]byte) uint16 {
	h.guid = append(h.guid, g[:]...)
	return uint16(len(h.guid) / 16)
}

// encodeBlobLen writes n using the compressed-length encoding ECMA-335
// uses for every blob-heap entry's size prefix (1/2/4 bytes depending on
// magnitude).
func encodeBlobLen(n uint32) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n < 0x4000:
		return []byte{byte(n>>8) | 0x80, byte(n)}
	default:
		return []byte{byte(n>>24) | 0xC0, byte(n >> 16), byte(n >> 8), byte(n)}
	}
}
