package partconv

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func approxEqual(a, b, tol float32) bool {
	denom := float32(1)
	if ab := float32(math.Abs(float64(b))); ab > denom {
		denom = ab
	}
	return float32(math.Abs(float64(a-b)))/denom <= tol
}

func approxEqualSlice(t *testing.T, got, want []float32, tol float32, msg string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length = %d, want %d", msg, len(got), len(want))
	}
	for i := range got {
		if !approxEqual(got[i], want[i], tol) {
			t.Errorf("%s: [%d] = %v, want %v", msg, i, got[i], want[i])
		}
	}
}

// TestUnitImpulseSingleChannel is scenario S1: C=Cin=1, FL=4, B=2.
func TestUnitImpulseSingleChannel(t *testing.T) {
	t.Parallel()

	filter := [][]float32{{1, 2, 3, 4}}
	e, err := NewEngine(filter, 2)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	inputs := [][]float32{{1, 0}, {0, 0}, {0, 0}}
	want := [][]float32{{1, 2}, {3, 4}, {0, 0}}

	for i, in := range inputs {
		out, err := e.ConvolveSamples(in)
		if err != nil {
			t.Fatalf("block %d: Convolve: %v", i, err)
		}
		approxEqualSlice(t, out, want[i], 1e-5, "block")
	}
}

// TestDelay is scenario S2: C=Cin=1, FL=8, B=4, a 7-sample delay filter.
func TestDelay(t *testing.T) {
	t.Parallel()

	filter := [][]float32{{0, 0, 0, 0, 0, 0, 0, 1}}
	e, err := NewEngine(filter, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	inputs := [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}, {0, 0, 0, 0}, {0, 0, 0, 0}}
	want := [][]float32{{0, 0, 0, 0}, {0, 0, 0, 1}, {2, 3, 4, 5}, {6, 7, 8, 0}}

	for i, in := range inputs {
		out, err := e.ConvolveSamples(in)
		if err != nil {
			t.Fatalf("block %d: Convolve: %v", i, err)
		}
		approxEqualSlice(t, out, want[i], 1e-5, "block")
	}
}

// TestBroadcastMonoToStereo is scenario S3: C=2, Cin=1.
func TestBroadcastMonoToStereo(t *testing.T) {
	t.Parallel()

	filter := [][]float32{{1, 0, 0, 0}, {0, 0, 0, 1}}
	e, err := NewEngine(filter, 2, WithInputChannels(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	inputs := []float32{1, 2, 3, 4, 0, 0}
	wantCh0 := [][]float32{{1, 2}, {3, 4}, {0, 0}}
	wantCh1 := [][]float32{{0, 0}, {0, 1}, {2, 3}}

	for i := 0; i < 3; i++ {
		out, err := e.Convolve([][]float32{inputs[i*2 : i*2+2]})
		if err != nil {
			t.Fatalf("block %d: Convolve: %v", i, err)
		}
		approxEqualSlice(t, out[0], wantCh0[i], 1e-5, "channel 0")
		approxEqualSlice(t, out[1], wantCh1[i], 1e-5, "channel 1")
	}
}

// TestMatchedStereo is scenario S4: C=Cin=2, FL=3, B=3.
func TestMatchedStereo(t *testing.T) {
	t.Parallel()

	filter := [][]float32{{1, 1, 1}, {1, -1, 1}}
	e, err := NewEngine(filter, 3, WithInputChannels(2))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	block0 := [][]float32{{1, 0, 0}, {0, 0, 1}}
	block1 := [][]float32{{0, 0, 0}, {0, 0, 0}}

	out0, err := e.Convolve(block0)
	if err != nil {
		t.Fatalf("block 0: %v", err)
	}
	approxEqualSlice(t, out0[0], []float32{1, 1, 1}, 1e-5, "block 0 channel 0")
	approxEqualSlice(t, out0[1], []float32{0, 0, 1}, 1e-5, "block 0 channel 1")

	out1, err := e.Convolve(block1)
	if err != nil {
		t.Fatalf("block 1: %v", err)
	}
	approxEqualSlice(t, out1[0], []float32{0, 0, 0}, 1e-5, "block 1 channel 0")
	approxEqualSlice(t, out1[1], []float32{-1, 1, 0}, 1e-5, "block 1 channel 1")
}

// TestLargerFFTDiscardsOnlyTail is scenario S5: with N=4B, results must
// match the N=2B configuration block-for-block after warm-up.
func TestLargerFFTDiscardsOnlyTail(t *testing.T) {
	t.Parallel()

	filter := [][]float32{{0.5, 0.25, -0.3, 0.1, 0.9, -0.2}}
	blockLen := 3

	ref, err := NewEngine(filter, blockLen)
	if err != nil {
		t.Fatalf("NewEngine (N=2B): %v", err)
	}
	wide, err := NewEngine(filter, blockLen, WithFFTSize(4*blockLen))
	if err != nil {
		t.Fatalf("NewEngine (N=4B): %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	for block := 0; block < 12; block++ {
		in := make([]float32, blockLen)
		for i := range in {
			in[i] = rng.Float32()*2 - 1
		}

		wantOut, err := ref.ConvolveSamples(append([]float32(nil), in...))
		if err != nil {
			t.Fatalf("block %d: ref: %v", block, err)
		}
		gotOut, err := wide.ConvolveSamples(append([]float32(nil), in...))
		if err != nil {
			t.Fatalf("block %d: wide: %v", block, err)
		}
		approxEqualSlice(t, gotOut, wantOut, 1e-5, "block")
	}
}

// TestRingWrap is scenario S6: K=3, push 10 blocks of pseudo-random
// data and verify each block against a direct-form reference.
func TestRingWrap(t *testing.T) {
	t.Parallel()

	blockLen := 4
	filterLen := blockLen * 3 // K = 3
	rng := rand.New(rand.NewSource(42))

	filterRow := make([]float32, filterLen)
	for i := range filterRow {
		filterRow[i] = rng.Float32()*2 - 1
	}
	filter := [][]float32{filterRow}

	e, err := NewEngine(filter, blockLen)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	const numBlocks = 10
	stream := make([]float32, numBlocks*blockLen)
	for i := range stream {
		stream[i] = rng.Float32()*2 - 1
	}

	history := make([]float32, 0, len(stream))
	for block := 0; block < numBlocks; block++ {
		in := stream[block*blockLen : (block+1)*blockLen]
		out, err := e.ConvolveSamples(append([]float32(nil), in...))
		if err != nil {
			t.Fatalf("block %d: %v", block, err)
		}

		history = append(history, in...)
		want := directConvolveBlock(history, filterRow, len(history)-blockLen, blockLen)
		approxEqualSlice(t, out, want, 1e-4, "block")
	}
}

// directConvolveBlock computes the direct-form linear convolution of
// signal with filter, restricted to output samples [start, start+n).
func directConvolveBlock(signal, filter []float32, start, n int) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		t := start + i
		var acc float32
		for k := 0; k < len(filter); k++ {
			if t-k >= 0 && t-k < len(signal) {
				acc += filter[k] * signal[t-k]
			}
		}
		out[i] = acc
	}
	return out
}

func TestIdempotentConstruction(t *testing.T) {
	t.Parallel()

	filter := [][]float32{{0.1, 0.2, -0.3, 0.4, 0.5, -0.6, 0.7, 0.8}}

	a, err := NewEngine(filter, 4)
	if err != nil {
		t.Fatalf("NewEngine a: %v", err)
	}
	b, err := NewEngine(filter, 4)
	if err != nil {
		t.Fatalf("NewEngine b: %v", err)
	}

	if a.table.K != b.table.K || a.table.M != b.table.M {
		t.Fatalf("table shapes differ: (%d,%d) vs (%d,%d)", a.table.K, a.table.M, b.table.K, b.table.M)
	}
	for k := 0; k < a.table.K; k++ {
		pa, pb := a.table.plane(k), b.table.plane(k)
		for i := range pa {
			if pa[i] != pb[i] {
				t.Fatalf("partition %d bin %d differs: %v vs %v", k, i, pa[i], pb[i])
			}
		}
	}
}

func TestGPUDeviceReturnsBackendError(t *testing.T) {
	t.Parallel()

	filter := [][]float32{{1, 0, 0, 0}}
	e, err := NewEngine(filter, 2, WithDevice(DeviceGPU))
	if err != nil {
		t.Fatalf("NewEngine should succeed for gpu selector, got error: %v", err)
	}

	_, err = e.ConvolveSamples([]float32{1, 0})
	if err == nil {
		t.Fatal("expected a back-end error from the gpu device, got nil")
	}
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BackendError, got %T: %v", err, err)
	}
	if be.Backend != "gpu" {
		t.Errorf("Backend = %q, want gpu", be.Backend)
	}
}

func TestConstructionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filter   [][]float32
		blockLen int
		opts     []Option
	}{
		{"empty filter", [][]float32{}, 4, nil},
		{"empty channel", [][]float32{{}}, 4, nil},
		{"block length zero", [][]float32{{1, 2, 3, 4}}, 0, nil},
		{"filter shorter than block", [][]float32{{1, 2}}, 4, nil},
		{"ragged channels", [][]float32{{1, 2, 3, 4}, {1, 2}}, 2, nil},
		{"fft size too small", [][]float32{{1, 2, 3, 4}}, 2, []Option{WithFFTSize(2)}},
		{"bad input channel count", [][]float32{{1, 2, 3, 4}, {1, 2, 3, 4}}, 2, []Option{WithInputChannels(3)}},
		{"unknown device", [][]float32{{1, 2, 3, 4}}, 2, []Option{WithDevice(Device(99))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewEngine(tt.filter, tt.blockLen, tt.opts...); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestConvolveShapeMismatch(t *testing.T) {
	t.Parallel()

	filter := [][]float32{{1, 0, 0, 0}}
	e, err := NewEngine(filter, 2)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if _, err := e.Convolve([][]float32{{1, 2, 3}}); err == nil {
		t.Error("expected shape mismatch error for wrong block length")
	}
	if _, err := e.Convolve([][]float32{{1, 2}, {3, 4}}); err == nil {
		t.Error("expected shape mismatch error for wrong channel count")
	}
}
