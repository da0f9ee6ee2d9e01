package audio

import "encoding/binary"

// BytesToPCM reinterprets little-endian 16-bit audio bytes as samples. An odd
// trailing byte is dropped.
func BytesToPCM(raw []byte) []int16 {
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples
}

// PCMToBytes serializes samples as little-endian 16-bit audio bytes.
func PCMToBytes(samples []int16) []byte {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	return raw
}
