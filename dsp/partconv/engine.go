package partconv

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// Option configures an Engine at construction time.
type Option func(*config)

type config struct {
	fftSize int
	cin     int
	device  Device
}

// WithFFTSize overrides the default FFT size of 2*blockLen. n must
// satisfy n >= 2*blockLen.
func WithFFTSize(n int) Option {
	return func(c *config) { c.fftSize = n }
}

// WithInputChannels sets the number of input channels. It must be 1
// (broadcast) or equal to the filter's channel count (matched).
func WithInputChannels(n int) Option {
	return func(c *config) { c.cin = n }
}

// WithDevice selects the back end that performs the partition
// multiply-accumulate. The default is DeviceCPU.
func WithDevice(d Device) Option {
	return func(c *config) { c.device = d }
}

// Engine is a uniformly partitioned frequency-domain convolution
// engine. An Engine is single-writer: Convolve must not be called
// concurrently on the same instance.
type Engine struct {
	table   *Table
	framer  *framer
	fdl     *fdl
	backend macBackend

	cursor int

	blockLen int
	cin      int
	cout     int

	// scratch, reused across calls so Convolve does not allocate.
	spectra  [][]complex64 // Cin x M, written by the framer each call
	out      []complex64   // C*M, the MAC's output spectrum
	timeDom  []float32     // N samples, the reconstructor's inverse FFT scratch
	blockOut [][]float32   // C x B, returned from Convolve
}

// NewEngine builds an Engine for the given time-domain filter (shape
// C x FL) and block length. The filter is partitioned into K blocks of
// blockLen taps and transformed to the frequency domain once; this may
// allocate freely and is not real-time safe, unlike Convolve.
func NewEngine(filterTD [][]float32, blockLen int, opts ...Option) (*Engine, error) {
	cfg := config{cin: 1, device: DeviceCPU}
	for _, opt := range opts {
		opt(&cfg)
	}

	if blockLen < 1 {
		return nil, fmt.Errorf("%w: block length must be positive, got %d", ErrInvalidBlockLen, blockLen)
	}
	if !cfg.device.valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownDevice, cfg.device)
	}

	c := len(filterTD)
	if cfg.cin != 1 && cfg.cin != c {
		return nil, fmt.Errorf("%w: input channels %d must be 1 or %d", ErrInvalidChannels, cfg.cin, c)
	}

	table, err := NewTable(filterTD, blockLen, cfg.fftSize)
	if err != nil {
		return nil, err
	}

	fr, err := newFramer(cfg.cin, blockLen, table.N)
	if err != nil {
		return nil, err
	}

	var backend macBackend = cpuMAC{}
	if cfg.device == DeviceGPU {
		backend = gpuMAC{}
	}

	e := &Engine{
		table:    table,
		framer:   fr,
		fdl:      newFDL(table.K, cfg.cin, table.M),
		backend:  backend,
		blockLen: blockLen,
		cin:      cfg.cin,
		cout:     c,
	}

	e.spectra = make([][]complex64, cfg.cin)
	for i := range e.spectra {
		e.spectra[i] = make([]complex64, table.M)
	}
	e.out = make([]complex64, c*table.M)
	e.timeDom = make([]float32, table.N)
	e.blockOut = make([][]float32, c)
	for i := range e.blockOut {
		e.blockOut[i] = make([]float32, blockLen)
	}

	return e, nil
}

// Convolve advances the engine by one block. x must have Cin rows of
// exactly blockLen samples. The returned C x B slices alias internal
// engine buffers and are only valid until the next call to Convolve.
func (e *Engine) Convolve(x [][]float32) ([][]float32, error) {
	if len(x) != e.cin {
		return nil, fmt.Errorf("%w: got %d input channels, want %d", ErrShapeMismatch, len(x), e.cin)
	}
	for i, row := range x {
		if len(row) != e.blockLen {
			return nil, fmt.Errorf("%w: channel %d has %d samples, want %d", ErrShapeMismatch, i, len(row), e.blockLen)
		}
	}

	if err := e.framer.frame(x, e.spectra); err != nil {
		return nil, err
	}

	e.fdl.write(e.cursor, e.spectra)

	if err := e.backend.compute(e.table, e.fdl, e.cursor, e.out); err != nil {
		return nil, err
	}

	e.cursor = (e.cursor + 1) % e.table.K

	plan := e.framerPlan()
	n := e.table.N
	b := e.blockLen
	m := e.table.M

	for ch := 0; ch < e.cout; ch++ {
		if err := plan.Inverse(e.timeDom, e.out[ch*m:(ch+1)*m]); err != nil {
			return nil, fmt.Errorf("partconv: inverse FFT on channel %d: %w", ch, err)
		}
		copy(e.blockOut[ch], e.timeDom[n-b:n])
	}

	return e.blockOut, nil
}

// ConvolveSamples is a convenience wrapper around Convolve for the
// Cin == 1 case, taking and returning flat sample slices.
func (e *Engine) ConvolveSamples(x []float32) ([]float32, error) {
	if e.cin != 1 {
		return nil, fmt.Errorf("%w: engine has %d input channels, use Convolve", ErrInvalidChannels, e.cin)
	}
	out, err := e.Convolve([][]float32{x})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Reset clears all engine state (framer window, FDL contents, and the
// ring cursor) as if newly constructed, without re-transforming the
// filter.
func (e *Engine) Reset() {
	e.framer.reset()
	e.fdl.reset()
	e.cursor = 0
}

// Latency returns the algorithmic latency in samples, equal to the
// configured block length.
func (e *Engine) Latency() int { return e.blockLen }

// InputChannels returns the number of input channels the engine
// accepts.
func (e *Engine) InputChannels() int { return e.cin }

// OutputChannels returns the number of filter (output) channels.
func (e *Engine) OutputChannels() int { return e.cout }

func (e *Engine) framerPlan() *algofft.PlanRealT[float32, complex64] {
	return e.framer.plan
}
