package audio

// μ-law companding per ITU-T G.711: 16-bit linear samples in 8 bits.
// Round trips are within the law's quantization error, not bit-exact.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// EncodeMuLaw compands one linear sample to its 8-bit μ-law code.
func EncodeMuLaw(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := 7
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (uint(exponent) + 3)) & 0x0F)

	return ^(sign | byte(exponent)<<4 | mantissa)
}

// DecodeMuLaw expands one 8-bit μ-law code to a linear sample.
func DecodeMuLaw(code byte) int16 {
	code = ^code
	sign := code & 0x80
	exponent := (code >> 4) & 0x07
	mantissa := code & 0x0F

	s := ((int32(mantissa) << 3) + muLawBias) << exponent
	s -= muLawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}

// DecodeMuLawFrame expands a μ-law frame to linear samples.
func DecodeMuLawFrame(frame []byte) []int16 {
	out := make([]int16, len(frame))
	for i, b := range frame {
		out[i] = DecodeMuLaw(b)
	}
	return out
}

// EncodeMuLawFrame compands linear samples to a μ-law frame.
func EncodeMuLawFrame(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeMuLaw(s)
	}
	return out
}
