//go:build linux

package fs

import "golang.org/x/sys/unix"

func datasync(d fder, _ File) error {
	return unix.Fdatasync(int(d.Fd()))
}
