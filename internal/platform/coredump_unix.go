//go:build linux || darwin

package platform

import "golang.org/x/sys/unix"

// DisableCoreDumps zeroes RLIMIT_CORE so a crash cannot spill key
// material into a core file.
func DisableCoreDumps() error {
	var rlim unix.Rlimit
	rlim.Cur = 0
	rlim.Max = 0
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
