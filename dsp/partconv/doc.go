// Package partconv implements uniformly partitioned frequency-domain
// convolution for real-time, block-by-block filtering of multichannel
// signals by long FIR filters.
//
// The filter is split into K fixed-size partitions of B taps, each
// transformed once at construction time into the frequency domain. Each
// call to Convolve advances a frequency-domain delay line (a ring of the
// last K input spectra), performs the partition multiply-accumulate, and
// reconstructs the next B output samples via overlap-save. All state
// persists between calls so the concatenation of returned blocks equals
// the linear convolution of the unbounded input stream with the filter.
//
// An Engine is single-writer: Convolve must not be called concurrently on
// the same instance. Internally, Convolve may parallelize the
// multiply-accumulate across CPU goroutines; construction may allocate
// freely but Convolve does not allocate on its hot path.
package partconv
