// Package leb128 encodes and decodes the variable-length integer formats used
// throughout the WebAssembly binary format: unsigned LEB128 for indices and
// counts, signed LEB128 for constants and block types.
//
// This is the "thin collaborator" primitive referenced by internal/wasm/binary:
// the core instrumentation packages never encode or decode LEB128 directly.
package leb128

import "fmt"

// EncodeUint32 encodes v as unsigned LEB128.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 encodes v as unsigned LEB128.
func EncodeUint64(v uint64) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		result = append(result, b)
		if v == 0 {
			return result
		}
	}
}

// EncodeInt32 encodes v as signed LEB128.
func EncodeInt32(v int32) []byte {
	return EncodeInt64(int64(v))
}

// EncodeInt64 encodes v as signed LEB128.
func EncodeInt64(v int64) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			result = append(result, b)
			return result
		}
		result = append(result, b|0x80)
	}
}

// DecodeUint32 reads an unsigned LEB128 value from data, returning the value,
// the number of bytes consumed, and an error if data is truncated or the
// value overflows 32 bits.
func DecodeUint32(data []byte) (uint32, int, error) {
	v, n, err := DecodeUint64(data)
	if err != nil {
		return 0, n, err
	}
	if v > 0xffffffff {
		return 0, n, fmt.Errorf("leb128: value %d overflows uint32", v)
	}
	return uint32(v), n, nil
}

// DecodeUint64 reads an unsigned LEB128 value from data.
func DecodeUint64(data []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i, b := range data {
		if shift >= 64 {
			return 0, i + 1, fmt.Errorf("leb128: too many bytes for uint64")
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, len(data), fmt.Errorf("leb128: truncated uvarint")
}

// DecodeInt32 reads a signed LEB128 value from data, erroring if the value
// overflows 32 bits.
func DecodeInt32(data []byte) (int32, int, error) {
	v, n, err := DecodeInt64(data)
	if err != nil {
		return 0, n, err
	}
	if v > 0x7fffffff || v < -0x80000000 {
		return 0, n, fmt.Errorf("leb128: value %d overflows int32", v)
	}
	return int32(v), n, nil
}

// DecodeInt64 reads a signed LEB128 value from data.
func DecodeInt64(data []byte) (int64, int, error) {
	var result int64
	var shift uint
	var b byte
	i := 0
	for {
		if i >= len(data) {
			return 0, i, fmt.Errorf("leb128: truncated varint")
		}
		b = data[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		i++
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, i, fmt.Errorf("leb128: too many bytes for int64")
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, i, nil
}
