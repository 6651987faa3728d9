package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// levelGain scales raw RMS into a level that reads usefully on a meter.
// Tuned empirically against real microphones; do not change without
// recalibrating the silence thresholds that depend on it.
const levelGain = 3.0

// DecodeSamples converts one callback batch of raw interleaved samples in
// the given native encoding to normalized float samples in [-1, 1].
func DecodeSamples(format malgo.FormatType, raw []byte) ([]float32, error) {
	switch format {
	case malgo.FormatF32:
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case malgo.FormatS16:
		out := make([]float32, len(raw)/2)
		for i := range out {
			s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			out[i] = float32(s) / math.MaxInt16
		}
		return out, nil
	case malgo.FormatS24:
		out := make([]float32, len(raw)/3)
		for i := range out {
			v := int32(raw[i*3]) | int32(raw[i*3+1])<<8 | int32(raw[i*3+2])<<16
			if v&0x800000 != 0 {
				v -= 0x1000000
			}
			out[i] = float32(v) / 8388607.0
		}
		return out, nil
	case malgo.FormatS32:
		out := make([]float32, len(raw)/4)
		for i := range out {
			s := int32(binary.LittleEndian.Uint32(raw[i*4:]))
			out[i] = float32(s) / math.MaxInt32
		}
		return out, nil
	case malgo.FormatU8:
		out := make([]float32, len(raw))
		for i, s := range raw {
			out[i] = float32(s)/math.MaxUint8*2.0 - 1.0
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
}

// supportedFormat reports whether DecodeSamples can handle the encoding.
func supportedFormat(format malgo.FormatType) bool {
	switch format {
	case malgo.FormatF32, malgo.FormatS16, malgo.FormatS24, malgo.FormatS32, malgo.FormatU8:
		return true
	}
	return false
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	return peak
}

// NormalizedRMS computes the gain-scaled RMS of a batch, clamped to [0, 1].
// This is the value fed to the recent-levels ring and the silence checks.
func NormalizedRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return clamp01(float32(rms * levelGain))
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ProbeStats is the running accumulator used by the signal probe. Memory
// stays bounded no matter how long the probe runs.
type ProbeStats struct {
	SumSquares  float64
	Peak        float32
	SampleCount uint64
}

// Accumulate folds a batch of normalized samples into the running stats.
func (p *ProbeStats) Accumulate(samples []float32) {
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > p.Peak {
			p.Peak = a
		}
		p.SumSquares += float64(s) * float64(s)
		p.SampleCount++
	}
}

// RMS returns the plain (un-gained) root mean square of everything
// accumulated so far.
func (p *ProbeStats) RMS() float32 {
	if p.SampleCount == 0 {
		return 0
	}
	return float32(math.Sqrt(p.SumSquares / float64(p.SampleCount)))
}
