//go:build windows

package proc

func processExists(pid int) bool {
	return false
}
