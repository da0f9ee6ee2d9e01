package audio

// Sample-rate conversion for the carrier (8 kHz) <-> speech engine boundary.
// Upsampling interpolates linearly between neighbors; downsampling low-pass
// filters before decimation to prevent aliasing.

// Upsample stretches samples by an integer ratio using linear interpolation.
// The output length is exactly len(samples) * ratio.
func Upsample(samples []int16, ratio int) []int16 {
	if ratio <= 1 || len(samples) == 0 {
		return append([]int16(nil), samples...)
	}

	out := make([]int16, 0, len(samples)*ratio)
	for i, cur := range samples {
		next := cur
		if i+1 < len(samples) {
			next = samples[i+1]
		}
		for j := 0; j < ratio; j++ {
			v := int32(cur) + (int32(next)-int32(cur))*int32(j)/int32(ratio)
			out = append(out, int16(v))
		}
	}
	return out
}

// lowPassTaps is a short symmetric FIR kernel; the triangular shape gives a
// gentle roll-off adequate for narrowband telephone speech.
var lowPassTaps = [7]int32{1, 3, 6, 8, 6, 3, 1}

const lowPassGain = 28

// Downsample decimates samples by an integer factor after a symmetric FIR
// low-pass. The output length is ceil(len(samples) / factor).
func Downsample(samples []int16, factor int) []int16 {
	if factor <= 1 || len(samples) == 0 {
		return append([]int16(nil), samples...)
	}

	filtered := lowPass(samples)
	out := make([]int16, 0, (len(samples)+factor-1)/factor)
	for i := 0; i < len(filtered); i += factor {
		out = append(out, filtered[i])
	}
	return out
}

func lowPass(samples []int16) []int16 {
	n := len(samples)
	half := len(lowPassTaps) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var acc int32
		for t, w := range lowPassTaps {
			idx := i + t - half
			if idx < 0 {
				idx = 0
			} else if idx >= n {
				idx = n - 1
			}
			acc += w * int32(samples[idx])
		}
		out[i] = int16(acc / lowPassGain)
	}
	return out
}
