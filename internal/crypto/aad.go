package crypto

import (
	"encoding/binary"
)

// BuildFields encodes parts as uint32 length + bytes, in order. The prefix
// keeps ("ab","c") and ("a","bc") from colliding.
func BuildFields(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += 4 + len(p)
	}
	buf := make([]byte, 0, size)
	var tmp [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(tmp[:], uint32(len(p)))
		buf = append(buf, tmp[:]...)
		buf = append(buf, p...)
	}
	return buf
}

// Uint64Field is the fixed-width big-endian form used for integers in signed
// and hashed field lists.
func Uint64Field(v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return tmp[:]
}
