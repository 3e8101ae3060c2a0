//go:build linux || darwin

package atomicfile

import (
	"os"

	"golang.org/x/sys/unix"
)

func syncFile(f *os.File) error {
	return unix.Fsync(int(f.Fd()))
}

func renameFile(oldpath, newpath string) error {
	return unix.Rename(oldpath, newpath)
}
