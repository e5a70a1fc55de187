package partconv

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// Table holds the frequency-domain filter spectrum, split into K
// partitions of B taps each and transformed once at construction time.
//
// Storage is partitions-outermost: spectrum[k] is a contiguous M*C
// plane indexed [m*C+c], so the MAC's inner loop over (c, m) reads one
// plane per partition with no striding.
type Table struct {
	K int
	M int
	C int
	N int
	B int

	spectrum [][]complex64 // len K, each len M*C
}

// NewTable builds the filter spectrum table from a C x FL time-domain
// filter. fftSize of 0 selects the default 2*blockLen.
func NewTable(filterTD [][]float32, blockLen, fftSize int) (*Table, error) {
	c := len(filterTD)
	if c < 1 {
		return nil, fmt.Errorf("%w: filter has no channels", ErrInvalidFilter)
	}
	fl := len(filterTD[0])
	for i, row := range filterTD {
		if len(row) != fl {
			return nil, fmt.Errorf("%w: channel %d has length %d, want %d", ErrInvalidFilter, i, len(row), fl)
		}
	}
	if fl < 1 {
		return nil, fmt.Errorf("%w: filter length must be positive", ErrInvalidFilter)
	}
	if blockLen < 1 {
		return nil, fmt.Errorf("%w: block length must be positive, got %d", ErrInvalidBlockLen, blockLen)
	}
	if fl < blockLen {
		return nil, fmt.Errorf("%w: filter length %d shorter than block length %d", ErrInvalidFilter, fl, blockLen)
	}

	n := fftSize
	if n == 0 {
		n = 2 * blockLen
	}
	if n < 2*blockLen {
		return nil, fmt.Errorf("%w: fft size %d must be at least 2*block length %d", ErrInvalidFFTSize, n, blockLen)
	}

	k := (fl + blockLen - 1) / blockLen
	m := n/2 + 1

	plan, err := algofft.NewPlanReal32(n)
	if err != nil {
		return nil, fmt.Errorf("partconv: building FFT plan for size %d: %w", n, err)
	}

	t := &Table{K: k, M: m, C: c, N: n, B: blockLen}
	t.spectrum = make([][]complex64, k)

	partition := make([]float32, n)
	freq := make([]complex64, m)

	for p := 0; p < k; p++ {
		plane := make([]complex64, m*c)
		start := p * blockLen
		end := start + blockLen
		if end > fl {
			end = fl
		}
		for ch := 0; ch < c; ch++ {
			for i := range partition {
				partition[i] = 0
			}
			if start < fl {
				copy(partition[:blockLen], filterTD[ch][start:end])
			}
			if err := plan.Forward(freq, partition); err != nil {
				return nil, fmt.Errorf("partconv: FFT of partition %d channel %d: %w", p, ch, err)
			}
			for bin := 0; bin < m; bin++ {
				plane[bin*c+ch] = freq[bin]
			}
		}
		t.spectrum[p] = plane
	}

	return t, nil
}

// plane returns the partition-k spectrum plane, indexed [m*C+c].
func (t *Table) plane(k int) []complex64 {
	return t.spectrum[k]
}
