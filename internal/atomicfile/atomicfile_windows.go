//go:build windows

package atomicfile

import "os"

// Windows has no x/sys/unix equivalent here; os.File.Sync and os.Rename
// (which uses MoveFileEx under the hood) provide the same guarantees.
func syncFile(f *os.File) error {
	return f.Sync()
}

func renameFile(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}
