package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func stereoFixture(t *testing.T, frames, rate int) []byte {
	t.Helper()
	data := make([]byte, 0, frames*4)
	for i := 0; i < frames; i++ {
		data = binary.LittleEndian.AppendUint16(data, uint16(i))      // left
		data = binary.LittleEndian.AppendUint16(data, uint16(i+1000)) // right
	}
	return EncodeWAV(data, 2, rate)
}

func TestParseWAVRoundTrip(t *testing.T) {
	raw := stereoFixture(t, 80, 8000)
	w, err := ParseWAV(raw)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if w.Channels != 2 || w.SampleRate != 8000 {
		t.Errorf("fmt = %d ch @ %d Hz", w.Channels, w.SampleRate)
	}
	if len(w.Data) != 80*4 {
		t.Errorf("data length %d, want %d", len(w.Data), 80*4)
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("RIFF"), []byte("notawavfileatall")} {
		if _, err := ParseWAV(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestSplitStereo(t *testing.T) {
	raw := stereoFixture(t, 100, 8000)
	w, err := ParseWAV(raw)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}

	leftRaw, rightRaw, err := w.SplitStereo()
	if err != nil {
		t.Fatalf("SplitStereo: %v", err)
	}

	left, err := ParseWAV(leftRaw)
	if err != nil {
		t.Fatalf("parse left: %v", err)
	}
	right, err := ParseWAV(rightRaw)
	if err != nil {
		t.Fatalf("parse right: %v", err)
	}

	if left.Channels != 1 || right.Channels != 1 {
		t.Fatalf("split tracks not mono: %d/%d", left.Channels, right.Channels)
	}
	if len(left.Data) != 200 || len(right.Data) != 200 {
		t.Fatalf("track lengths %d/%d, want 200", len(left.Data), len(right.Data))
	}

	if got := binary.LittleEndian.Uint16(left.Data[6:8]); got != 3 {
		t.Errorf("left sample 3 = %d, want 3", got)
	}
	if got := binary.LittleEndian.Uint16(right.Data[6:8]); got != 1003 {
		t.Errorf("right sample 3 = %d, want 1003", got)
	}
}

func TestSplitStereoRejectsMono(t *testing.T) {
	w, err := ParseWAV(EncodeWAV(make([]byte, 64), 1, 8000))
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if _, _, err := w.SplitStereo(); err == nil {
		t.Error("expected error splitting mono audio")
	}
}

func TestDuration(t *testing.T) {
	// 8000 frames of stereo at 8 kHz is one second.
	raw := stereoFixture(t, 8000, 8000)
	w, err := ParseWAV(raw)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if d := w.Duration(); d != time.Second {
		t.Errorf("duration = %v, want 1s", d)
	}
}
