// Package waveform computes multi-resolution RMS peak data for rendering
// audio overviews. Input is mono PCM float samples; output is a map keyed by
// resolution ("256", "1024", …) suitable for JSON storage next to the media
// object.
package waveform

import (
	"math"
	"strconv"
)

// DefaultResolutions are the bucket counts computed for every file: a coarse
// strip for list views and finer ones for the editor zoom levels.
var DefaultResolutions = []int{256, 1024, 4096}

// Peaks reduces samples to n RMS buckets. Buckets are equal sample ranges;
// the last bucket absorbs the remainder. Returns nil when samples is empty
// or n < 1.
func Peaks(samples []float32, n int) []float32 {
	if len(samples) == 0 || n < 1 {
		return nil
	}
	if n > len(samples) {
		n = len(samples)
	}

	out := make([]float32, n)
	per := len(samples) / n
	for i := 0; i < n; i++ {
		lo := i * per
		hi := lo + per
		if i == n-1 {
			hi = len(samples)
		}
		var sum float64
		for _, s := range samples[lo:hi] {
			sum += float64(s) * float64(s)
		}
		out[i] = float32(math.Sqrt(sum / float64(hi-lo)))
	}
	return out
}

// Multi computes Peaks at each resolution, keyed by the decimal bucket
// count. Resolutions larger than the sample count collapse to one bucket per
// sample.
func Multi(samples []float32, resolutions []int) map[string][]float32 {
	out := make(map[string][]float32, len(resolutions))
	for _, n := range resolutions {
		if p := Peaks(samples, n); p != nil {
			out[strconv.Itoa(len(p))] = p
		}
	}
	return out
}
