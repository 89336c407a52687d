package analysis

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fftN transforms data in place along every axis. shape lists the axis
// lengths fastest first, so axis a has stride shape[0]*...*shape[a-1].
// The inverse transform is normalized by the number of elements.
func fftN(data []complex128, shape []int, inverse bool) {
	stride := 1
	for _, n := range shape {
		if n > 1 {
			fft := fourier.NewCmplxFFT(n)
			line := make([]complex128, n)
			block := stride * n
			for base := 0; base < len(data); base += block {
				for off := 0; off < stride; off++ {
					for k := range line {
						line[k] = data[base+off+k*stride]
					}
					if inverse {
						fft.Sequence(line, line)
					} else {
						fft.Coefficients(line, line)
					}
					for k, v := range line {
						data[base+off+k*stride] = v
					}
				}
			}
		}
		stride *= n
	}
	if inverse && len(data) > 0 {
		scale := complex(1/float64(len(data)), 0)
		for i := range data {
			data[i] *= scale
		}
	}
}

// freqIndex is the signed frequency of coefficient k of an n point
// transform: 0, 1, ..., then the negative frequencies.
func freqIndex(k, n int) int {
	if k < n-n/2 {
		return k
	}
	return k - n
}

// ifftShiftIndex maps output index k of an inverse shift over n points
// to the input index it reads.
func ifftShiftIndex(k, n int) int {
	return (k + n/2) % n
}

func toComplex(pix []float32) []complex128 {
	out := make([]complex128, len(pix))
	for i, v := range pix {
		out[i] = complex(float64(v), 0)
	}
	return out
}
