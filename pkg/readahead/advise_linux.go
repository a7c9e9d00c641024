//go:build linux

package readahead

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// advise asks the kernel to populate the page cache for the region.
// Fadvise(WILLNEED) starts asynchronous read-ahead on any open file.
func advise(f *os.File, offset, length int64) error {
	return unix.Fadvise(int(f.Fd()), offset, length, unix.FADV_WILLNEED)
}

func sysFileID(fi os.FileInfo) (uint64, uint64) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return uint64(st.Dev), st.Ino
}
