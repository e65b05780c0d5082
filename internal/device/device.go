// Package device picks the compute device for a run and moves batches onto it.
package device

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/born-ml/born/tensor"
)

// EnvVar selects the device when none is configured explicitly.
const EnvVar = "BORN_DEVICE"

// ErrDeviceMismatch is returned when a batch lives on a different device
// than the unit and cannot move itself.
var ErrDeviceMismatch = errors.New("device: data is on a different device")

// Parse converts a device name ("cpu", "webgpu") to a born device.
//
// Matching is case-insensitive. The empty string means CPU.
func Parse(name string) (tensor.Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu":
		return tensor.CPU, nil
	case "webgpu", "gpu":
		return tensor.WebGPU, nil
	default:
		return tensor.CPU, fmt.Errorf("device: unknown device %q (want cpu or webgpu)", name)
	}
}

// FromEnv returns the device named by BORN_DEVICE.
//
// WebGPU is only returned when the backend reports a usable adapter,
// otherwise the run falls back to CPU. Unknown names are an error.
func FromEnv() (tensor.Device, error) {
	name, ok := os.LookupEnv(EnvVar)
	if !ok {
		return tensor.CPU, nil
	}
	dev, err := Parse(name)
	if err != nil {
		return tensor.CPU, fmt.Errorf("%s: %w", EnvVar, err)
	}
	if dev == tensor.WebGPU && !webgpuAvailable() {
		return tensor.CPU, nil
	}
	return dev, nil
}

// Available reports whether dev can run on this machine.
func Available(dev tensor.Device) bool {
	switch dev {
	case tensor.CPU:
		return true
	case tensor.WebGPU:
		return webgpuAvailable()
	default:
		return false
	}
}

// Mover is implemented by batch types that know how to copy themselves
// to another device.
type Mover[D any] interface {
	ToDevice(dev tensor.Device) (D, error)
}

// Placed is implemented by anything that lives on a single device,
// including born tensors.
type Placed interface {
	Device() tensor.Device
}

// CopyToDevice returns data placed on dev.
//
// Batches implementing Mover are asked to move themselves. Values that
// report a device (born tensors) pass through when already on dev and
// fail with ErrDeviceMismatch otherwise. Everything else is returned as is.
func CopyToDevice[D any](data D, dev tensor.Device) (D, error) {
	switch v := any(data).(type) {
	case Mover[D]:
		moved, err := v.ToDevice(dev)
		if err != nil {
			var zero D
			return zero, fmt.Errorf("device: move to %s: %w", dev, err)
		}
		return moved, nil
	case Placed:
		if v.Device() != dev {
			var zero D
			return zero, fmt.Errorf("%w: have %s, want %s", ErrDeviceMismatch, v.Device(), dev)
		}
	}
	return data, nil
}
