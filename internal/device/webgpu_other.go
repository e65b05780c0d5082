//go:build !windows

package device

// born only ships the WebGPU backend for windows.
func webgpuAvailable() bool {
	return false
}
