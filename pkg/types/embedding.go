package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFaceEmbedding serializes a vector as little-endian float32 values.
func EncodeFaceEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeFaceEmbedding parses little-endian float32 values. The input must hold
// exactly FaceEmbeddingDim values.
func DecodeFaceEmbedding(buf []byte) ([]float32, error) {
	if len(buf) != FaceEmbeddingDim*4 {
		return nil, fmt.Errorf("face embedding must be %d bytes, got %d", FaceEmbeddingDim*4, len(buf))
	}
	v := make([]float32, FaceEmbeddingDim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}
