package preprocess

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// noiseWarmupFrames is the number of leading frames folded into the noise
// profile. Until the profile is warm, spectral subtraction is a no-op; after
// warm-up the profile is frozen for the rest of the stream.
const noiseWarmupFrames = 5

// profileBlend weights a new, quieter spectrum against the existing profile
// during warm-up. Upward excursions never raise the profile, so transient
// speech in the warm-up window cannot poison the noise estimate.
const profileBlend = 0.3

// spectralFloor keeps at least this fraction of the original magnitude in
// every bin, preventing musical-noise artifacts from over-subtraction.
const spectralFloor = 0.01

// denoiser holds the spectral-subtraction state for one audio stream: an FFT
// plan sized to the stream's frame length and the estimated noise magnitude
// spectrum. Not safe for concurrent use.
type denoiser struct {
	strength float64

	fft     *fourier.FFT
	n       int // frame length in samples the plan was built for
	profile []float64
	warmed  int
	coeffs  []complex128
}

func newDenoiser(strength float64) *denoiser {
	return &denoiser{strength: strength}
}

// warm reports whether enough frames have been observed to subtract noise.
func (d *denoiser) warm() bool {
	return d.warmed >= noiseWarmupFrames
}

// ensurePlan sizes the FFT plan and profile to the frame length. A length
// change invalidates the profile, so the warm-up restarts.
func (d *denoiser) ensurePlan(n int) {
	if d.fft != nil && d.n == n {
		return
	}
	d.fft = fourier.NewFFT(n)
	d.n = n
	d.profile = make([]float64, n/2+1)
	d.warmed = 0
	d.coeffs = make([]complex128, n/2+1)
}

// updateProfile folds the frame's magnitude spectrum into the noise estimate.
// Only called during warm-up; the first frame seeds the profile, later frames
// blend in element-wise minima.
func (d *denoiser) updateProfile(samples []float64) error {
	n := len(samples)
	if n < 2 {
		return fmt.Errorf("preprocess: frame too short for noise profile: %d samples", n)
	}
	d.ensurePlan(n)

	d.coeffs = d.fft.Coefficients(d.coeffs, samples)
	if d.warmed == 0 {
		for i, c := range d.coeffs {
			d.profile[i] = cmplx.Abs(c)
		}
	} else {
		for i, c := range d.coeffs {
			mag := cmplx.Abs(c)
			lower := min(d.profile[i], mag)
			d.profile[i] = profileBlend*lower + (1-profileBlend)*d.profile[i]
		}
	}
	d.warmed++
	return nil
}

// subtract removes the scaled noise profile from the frame's magnitude
// spectrum, flooring each bin, and reconstructs the signal with the original
// phase. The input slice is reused for the result.
func (d *denoiser) subtract(samples []float64) ([]float64, error) {
	n := len(samples)
	if n < 2 {
		return samples, fmt.Errorf("preprocess: frame too short for spectral subtraction: %d samples", n)
	}
	if d.fft == nil || d.n != n {
		// Frame length changed after warm-up; the profile no longer lines up
		// with the spectrum, so restart estimation and pass this frame through.
		d.ensurePlan(n)
		return samples, nil
	}

	d.coeffs = d.fft.Coefficients(d.coeffs, samples)
	for i, c := range d.coeffs {
		mag := cmplx.Abs(c)
		clean := mag - d.strength*d.profile[i]
		if floor := spectralFloor * mag; clean < floor {
			clean = floor
		}
		if mag > 0 {
			d.coeffs[i] = c * complex(clean/mag, 0)
		}
	}

	// Sequence is unnormalized: forward then inverse scales by n.
	samples = d.fft.Sequence(samples, d.coeffs)
	scale := 1 / float64(n)
	for i := range samples {
		samples[i] *= scale
	}
	return samples, nil
}

// clampToInt16 limits a float sample to the representable int16 range.
func clampToInt16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(math.Round(v))
	}
}
