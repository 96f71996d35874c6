package embed

import (
	"encoding/binary"
	"math"
)

// Encode packs a vector as little-endian float32 bytes for BLOB storage.
func Encode(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
