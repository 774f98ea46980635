// Package codec implements the integer encodings used by the downlink
// payloads of the reserved and application ports.
package codec

import (
	"math/big"

	"github.com/pkg/errors"
)

// ErrOverflow is returned when the value does not fit in the target size.
var ErrOverflow = errors.New("value overflows target size")

// Uint64 decodes b as a big-endian unsigned integer. An empty slice decodes
// to zero.
func Uint64(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, errors.Wrapf(ErrOverflow, "%d bytes", len(b))
	}

	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// BigInt decodes b as a big-endian unsigned integer of arbitrary size.
func BigInt(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// Words decodes b into 16 bit words. Word k is b[2k]<<8 | b[2k+1]. When b
// has an odd length, the trailing byte is decoded as b[n-1]<<8.
func Words(b []byte) []uint16 {
	out := make([]uint16, 0, (len(b)+1)/2)
	for i := 0; i < len(b); i += 2 {
		w := uint16(b[i]) << 8
		if i+1 < len(b) {
			w |= uint16(b[i+1])
		}
		out = append(out, w)
	}
	return out
}

// PutUint encodes v as a big-endian unsigned integer of size bytes.
func PutUint(v uint64, size int) ([]byte, error) {
	if size < 0 || size > 8 {
		return nil, errors.Errorf("invalid size: %d", size)
	}
	if size < 8 && v>>(uint(size)*8) != 0 {
		return nil, errors.Wrapf(ErrOverflow, "%d does not fit in %d bytes", v, size)
	}

	out := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out, nil
}

// AppendWords appends the given words to b, high byte first.
func AppendWords(b []byte, words ...uint16) []byte {
	for _, w := range words {
		b = append(b, byte(w>>8), byte(w))
	}
	return b
}
