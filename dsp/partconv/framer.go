package partconv

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// framer holds the per-channel sliding analysis window and produces its
// forward FFT on each call. win is Cin rows of N samples.
type framer struct {
	cin int
	n   int
	b   int
	m   int

	win  [][]float32   // Cin x N, shifted left by B each call
	plan *algofft.PlanRealT[float32, complex64]
}

func newFramer(cin, blockLen, fftSize int) (*framer, error) {
	plan, err := algofft.NewPlanReal32(fftSize)
	if err != nil {
		return nil, fmt.Errorf("partconv: building FFT plan for size %d: %w", fftSize, err)
	}

	f := &framer{
		cin: cin,
		n:   fftSize,
		b:   blockLen,
		m:   fftSize/2 + 1,
		win: make([][]float32, cin),

		plan: plan,
	}
	for i := range f.win {
		f.win[i] = make([]float32, fftSize)
	}
	return f, nil
}

// frame shifts the window by B samples, appends x (Cin x B, or a single
// row when Cin == 1 and x has one row), and returns the forward FFT of
// each channel's window as a Cin x M set of spectra.
func (f *framer) frame(x [][]float32, out [][]complex64) error {
	for c := 0; c < f.cin; c++ {
		row := x[c]
		if len(row) != f.b {
			return fmt.Errorf("%w: channel %d has %d samples, want %d", ErrShapeMismatch, c, len(row), f.b)
		}
		win := f.win[c]
		copy(win, win[f.b:])
		copy(win[f.n-f.b:], row)

		if err := f.plan.Forward(out[c], win); err != nil {
			return fmt.Errorf("partconv: forward FFT on channel %d: %w", c, err)
		}
	}
	return nil
}

func (f *framer) reset() {
	for _, row := range f.win {
		for i := range row {
			row[i] = 0
		}
	}
}
