package pipelinehandlers

import (
	"encoding/binary"
	"math"
)

// encodeVector/decodeVector give embeddings a stable on-disk representation
// in DocumentStorage between gen_embeddings and save_records — a flat
// little-endian float32 array, the simplest format that round-trips exactly
// and needs no external serialization library for a single numeric slice.
func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
