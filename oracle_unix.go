//go:build unix

package execpolicy

import "golang.org/x/sys/unix"

func isReadable(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}
