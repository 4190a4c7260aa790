package waveform

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestPeaks_ConstantSignal(t *testing.T) {
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = 0.5
	}

	peaks := Peaks(samples, 10)
	if len(peaks) != 10 {
		t.Fatalf("len = %d, want 10", len(peaks))
	}
	for i, p := range peaks {
		if math.Abs(float64(p)-0.5) > 1e-6 {
			t.Errorf("peak[%d] = %v, want 0.5 (RMS of constant)", i, p)
		}
	}
}

func TestPeaks_LocalizedEnergy(t *testing.T) {
	// Silence with a burst in the third quarter.
	samples := make([]float32, 400)
	for i := 200; i < 300; i++ {
		samples[i] = 1
	}

	peaks := Peaks(samples, 4)
	if peaks[0] != 0 || peaks[1] != 0 || peaks[3] != 0 {
		t.Errorf("silent buckets not zero: %v", peaks)
	}
	if math.Abs(float64(peaks[2])-1) > 1e-6 {
		t.Errorf("burst bucket = %v, want 1", peaks[2])
	}
}

func TestPeaks_Degenerate(t *testing.T) {
	if Peaks(nil, 10) != nil {
		t.Error("Peaks(nil) != nil")
	}
	if Peaks([]float32{1}, 0) != nil {
		t.Error("Peaks(n=0) != nil")
	}
	// More buckets than samples collapses to one bucket per sample.
	if got := Peaks([]float32{1, 1}, 100); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestMulti(t *testing.T) {
	samples := make([]float32, 10000)
	m := Multi(samples, DefaultResolutions)
	for _, key := range []string{"256", "1024", "4096"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing resolution %s", key)
		}
	}
}

// wavPCM16 builds a minimal mono 16-bit wav around the given samples.
func wavPCM16(t *testing.T, samples []int16, rate int) []byte {
	t.Helper()
	var data bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&data, binary.LittleEndian, s)
	}

	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+data.Len()))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(data.Len()))
	b.Write(data.Bytes())
	return b.Bytes()
}

func TestDecodeWAV(t *testing.T) {
	in := []int16{0, 16384, -16384, 32767}
	samples, rate, err := DecodeWAV(bytes.NewReader(wavPCM16(t, in, 16000)))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	if len(samples) != 4 {
		t.Fatalf("samples = %d, want 4", len(samples))
	}
	want := []float64{0, 0.5, -0.5, 32767.0 / 32768}
	for i, w := range want {
		if math.Abs(float64(samples[i])-w) > 1e-4 {
			t.Errorf("sample[%d] = %v, want %v", i, samples[i], w)
		}
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	if _, _, err := DecodeWAV(bytes.NewReader([]byte("not audio at all"))); err == nil {
		t.Error("garbage accepted")
	}

	// Float PCM (format tag 3) is unsupported.
	wav := wavPCM16(t, []int16{0}, 8000)
	wav[20] = 3
	if _, _, err := DecodeWAV(bytes.NewReader(wav)); err == nil {
		t.Error("float wav accepted")
	}
}
