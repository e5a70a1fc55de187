package partconv

import "fmt"

// Device selects the back end that performs the partition
// multiply-accumulate.
type Device int

const (
	// DeviceCPU runs the multiply-accumulate on CPU goroutines. It is
	// always available.
	DeviceCPU Device = iota
	// DeviceGPU runs the multiply-accumulate on a GPU device. The
	// interface is wired but no GPU runtime ships with this package;
	// constructing an Engine with DeviceGPU succeeds, and every Convolve
	// call on it fails with a *BackendError.
	DeviceGPU
)

func (d Device) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	default:
		return fmt.Sprintf("partconv.Device(%d)", int(d))
	}
}

func (d Device) valid() bool {
	return d == DeviceCPU || d == DeviceGPU
}
