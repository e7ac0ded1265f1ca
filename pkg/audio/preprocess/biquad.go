package preprocess

import "math"

// biquad is a single second-order IIR filter section in transposed direct
// form II. One instance carries the state for one audio stream; not safe for
// concurrent use.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

// butterworthQ is the quality factor of a maximally flat second-order section.
const butterworthQ = 1 / math.Sqrt2

// newLowpass designs a second-order Butterworth low-pass biquad with the given
// cutoff frequency. Coefficients follow the Audio EQ Cookbook bilinear
// transform. cutoff must be below the Nyquist frequency.
func newLowpass(cutoff, sampleRate float64) *biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosw0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * butterworthQ)

	a0 := 1 + alpha
	return &biquad{
		b0: (1 - cosw0) / 2 / a0,
		b1: (1 - cosw0) / a0,
		b2: (1 - cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// newHighpass designs a second-order Butterworth high-pass biquad with the
// given cutoff frequency.
func newHighpass(cutoff, sampleRate float64) *biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosw0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * butterworthQ)

	a0 := 1 + alpha
	return &biquad{
		b0: (1 + cosw0) / 2 / a0,
		b1: -(1 + cosw0) / a0,
		b2: (1 + cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// apply filters samples in place and returns the same slice. Filter state
// carries over between calls so consecutive frames form one continuous stream.
func (f *biquad) apply(samples []float64) []float64 {
	for i, x := range samples {
		y := f.b0*x + f.z1
		f.z1 = f.b1*x - f.a1*y + f.z2
		f.z2 = f.b2*x - f.a2*y
		samples[i] = y
	}
	return samples
}
