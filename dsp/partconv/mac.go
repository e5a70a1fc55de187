package partconv

import (
	"runtime"
	"sync"
)

// macBackend computes the output spectrum Y[c,m] = sum_k H[k,m,c] *
// FDL[ci,m,age k] for all bins and channels, where ci is c in matched
// mode (cin == C) or 0 in broadcast mode (cin == 1). out is C*M
// complex values indexed [c*M+m].
type macBackend interface {
	compute(tbl *Table, d *fdl, cursor int, out []complex64) error
}

// cpuMAC parallelizes the reduction across (c, m) pairs over a worker
// pool sized to GOMAXPROCS, splitting the flat index space into
// contiguous chunks and joining the workers on a sync.WaitGroup.
type cpuMAC struct{}

func (cpuMAC) compute(tbl *Table, d *fdl, cursor int, out []complex64) error {
	c := tbl.C
	m := tbl.M
	k := tbl.K
	total := c * m

	broadcast := d.cin == 1

	workers := runtime.GOMAXPROCS(0)
	if workers > total {
		workers = total
	}
	if workers < 1 {
		workers = 1
	}

	chunk := (total + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= total {
			break
		}
		end := start + chunk
		if end > total {
			end = total
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for idx := start; idx < end; idx++ {
				ch := idx / m
				bin := idx % m

				ci := ch
				if broadcast {
					ci = 0
				}

				var acc complex64
				for age := 0; age < k; age++ {
					h := tbl.plane(age)[bin*c+ch]
					x := d.at(cursor, age)[ci*m+bin]
					acc += h * x
				}
				out[ch*m+bin] = acc
			}
		}(start, end)
	}
	wg.Wait()

	return nil
}

// gpuMAC structurally satisfies macBackend to model the GPU device
// kernel boundary (current input spectrum, FDL storage, filter table,
// and cursor in; C x M output spectrum out), but no GPU kernel
// compiler or runtime ships in this dependency set, so every call
// fails fast with a BackendError.
type gpuMAC struct{}

func (gpuMAC) compute(tbl *Table, d *fdl, cursor int, out []complex64) error {
	return &BackendError{
		Backend:     "gpu",
		Diagnostics: "no GPU kernel runtime available",
		Err:         ErrBackendUnavailable,
	}
}
