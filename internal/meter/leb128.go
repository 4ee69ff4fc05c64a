package meter

import "fmt"

// readVarUint32 decodes an unsigned LEB128 value from b starting at off,
// returning the value, the number of bytes consumed, and an error if the
// stream ends before a terminating byte is found.
func readVarUint32(b []byte, off int) (uint32, int, error) {
	var result uint32
	var shift uint
	n := 0
	for {
		if off+n >= len(b) {
			return 0, 0, fmt.Errorf("leb128: truncated u32 at offset %d", off)
		}
		byt := b[off+n]
		n++
		result |= uint32(byt&0x7F) << shift
		if byt&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 35 {
			return 0, 0, fmt.Errorf("leb128: u32 too long at offset %d", off)
		}
	}
	return result, n, nil
}

// readVarUint64 is the 64-bit counterpart of readVarUint32.
func readVarUint64(b []byte, off int) (uint64, int, error) {
	var result uint64
	var shift uint
	n := 0
	for {
		if off+n >= len(b) {
			return 0, 0, fmt.Errorf("leb128: truncated u64 at offset %d", off)
		}
		byt := b[off+n]
		n++
		result |= uint64(byt&0x7F) << shift
		if byt&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 70 {
			return 0, 0, fmt.Errorf("leb128: u64 too long at offset %d", off)
		}
	}
	return result, n, nil
}

// readVarInt32 decodes a signed LEB128 value (s32).
func readVarInt32(b []byte, off int) (int32, int, error) {
	var result int64
	var shift uint
	n := 0
	var byt byte
	for {
		if off+n >= len(b) {
			return 0, 0, fmt.Errorf("leb128: truncated s32 at offset %d", off)
		}
		byt = b[off+n]
		n++
		result |= int64(byt&0x7F) << shift
		shift += 7
		if byt&0x80 == 0 {
			break
		}
		if shift >= 35 {
			return 0, 0, fmt.Errorf("leb128: s32 too long at offset %d", off)
		}
	}
	if shift < 64 && byt&0x40 != 0 {
		result |= -1 << shift
	}
	return int32(result), n, nil
}

// readVarInt64 decodes a signed LEB128 value (s64).
func readVarInt64(b []byte, off int) (int64, int, error) {
	var result int64
	var shift uint
	n := 0
	var byt byte
	for {
		if off+n >= len(b) {
			return 0, 0, fmt.Errorf("leb128: truncated s64 at offset %d", off)
		}
		byt = b[off+n]
		n++
		result |= int64(byt&0x7F) << shift
		shift += 7
		if byt&0x80 == 0 {
			break
		}
		if shift >= 70 {
			return 0, 0, fmt.Errorf("leb128: s64 too long at offset %d", off)
		}
	}
	if shift < 64 && byt&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n, nil
}

// putVarUint32 appends the unsigned LEB128 encoding of v to dst.
func putVarUint32(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
		} else {
			dst = append(dst, b)
			break
		}
	}
	return dst
}

// putVarInt64 appends the signed LEB128 encoding of v to dst.
func putVarInt64(dst []byte, v int64) []byte {
	more := true
	for more {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}
