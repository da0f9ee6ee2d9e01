package audio

import "testing"

func TestUpsampleLength(t *testing.T) {
	for _, n := range []int{1, 2, 7, 160, 161} {
		for _, ratio := range []int{2, 3} {
			in := make([]int16, n)
			out := Upsample(in, ratio)
			if len(out) != n*ratio {
				t.Errorf("n=%d ratio=%d: output %d samples, want %d", n, ratio, len(out), n*ratio)
			}
		}
	}
}

func TestUpsampleThenDownsampleRestoresLength(t *testing.T) {
	for _, n := range []int{8, 160, 161, 320} {
		in := make([]int16, n)
		for i := range in {
			in[i] = int16(i * 50)
		}
		up := Upsample(in, 3)
		down := Downsample(up, 3)

		diff := len(down) - n
		if diff < 0 {
			diff = -diff
		}
		if diff > 1 {
			t.Errorf("n=%d: round trip length %d", n, len(down))
		}
	}
}

func TestUpsampleInterpolatesBetweenNeighbors(t *testing.T) {
	out := Upsample([]int16{0, 300}, 3)
	want := []int16{0, 100, 200, 300, 300, 300}
	if len(out) != len(want) {
		t.Fatalf("length %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestUpsampleRatioOnePassthrough(t *testing.T) {
	in := []int16{5, -5, 10}
	out := Upsample(in, 1)
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestDownsampleDCPreserved(t *testing.T) {
	in := make([]int16, 300)
	for i := range in {
		in[i] = 1000
	}
	out := Downsample(in, 3)
	if len(out) != 100 {
		t.Fatalf("length %d, want 100", len(out))
	}
	for i, v := range out {
		// The triangular kernel sums to its gain, so a constant signal
		// passes through unchanged.
		if v != 1000 {
			t.Errorf("out[%d] = %d, want 1000", i, v)
		}
	}
}

func TestDownsampleAttenuatesAlternatingSignal(t *testing.T) {
	// A Nyquist-rate alternating signal should be heavily attenuated by
	// the low-pass before decimation.
	in := make([]int16, 300)
	for i := range in {
		if i%2 == 0 {
			in[i] = 8000
		} else {
			in[i] = -8000
		}
	}
	out := Downsample(in, 3)
	// Skip the first and last outputs, where edge clamping biases the
	// kernel.
	for i := 1; i < len(out)-1; i++ {
		if out[i] > 3000 || out[i] < -3000 {
			t.Fatalf("out[%d] = %d, alias not attenuated", i, out[i])
		}
	}
}
