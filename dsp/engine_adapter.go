package dsp

import (
	"fmt"

	"uconv/dsp/partconv"
)

// partitionedEngineAdapter adapts a uniformly partitioned partconv.Engine
// (single input channel, single filter channel) to the ConvolutionEngine
// interface, which accepts arbitrary-length blocks. Input and output
// samples are buffered in a fill-then-flush ring, as used for
// arbitrary-length block adaptation, until a full engine block has
// accumulated.
type partitionedEngineAdapter struct {
	eng      *partconv.Engine
	blockLen int

	inBuf    []float32 // pending input for the block in progress
	outBuf   []float32 // most recently completed block's output
	blockPos int       // valid samples in inBuf/outBuf for the current position
}

func newPartitionedEngineAdapter(filter []float32, blockLen int) (*partitionedEngineAdapter, error) {
	eng, err := partconv.NewEngine([][]float32{filter}, blockLen)
	if err != nil {
		return nil, fmt.Errorf("failed to build partitioned engine: %w", err)
	}
	return &partitionedEngineAdapter{
		eng:      eng,
		blockLen: blockLen,
		inBuf:    make([]float32, blockLen),
		outBuf:   make([]float32, blockLen),
	}, nil
}

// ProcessBlockInplace implements ConvolutionEngine. input and output may be
// any length and need not align with the engine's block length.
func (a *partitionedEngineAdapter) ProcessBlockInplace(input, output []float32) error {
	if len(input) != len(output) {
		return fmt.Errorf("input and output buffers must have same length: %d != %d", len(input), len(output))
	}

	pos := 0
	n := len(input)
	for pos < n {
		remaining := n - pos

		if a.blockPos+remaining < a.blockLen {
			copy(a.inBuf[a.blockPos:], input[pos:pos+remaining])
			copy(output[pos:pos+remaining], a.outBuf[a.blockPos:a.blockPos+remaining])
			a.blockPos += remaining
			break
		}

		toFill := a.blockLen - a.blockPos
		copy(a.inBuf[a.blockPos:], input[pos:pos+toFill])
		copy(output[pos:pos+toFill], a.outBuf[a.blockPos:a.blockPos+toFill])

		out, err := a.eng.ConvolveSamples(a.inBuf)
		if err != nil {
			return fmt.Errorf("partitioned convolution failed: %w", err)
		}
		copy(a.outBuf, out)

		pos += toFill
		a.blockPos = 0
	}

	return nil
}

// Latency implements ConvolutionEngine.
func (a *partitionedEngineAdapter) Latency() int {
	return a.eng.Latency()
}

// Reset implements ConvolutionEngine.
func (a *partitionedEngineAdapter) Reset() {
	a.eng.Reset()
	for i := range a.inBuf {
		a.inBuf[i] = 0
	}
	for i := range a.outBuf {
		a.outBuf[i] = 0
	}
	a.blockPos = 0
}
