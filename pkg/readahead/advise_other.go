//go:build !linux

package readahead

import "os"

// advise is a no-op off Linux; sequential reads at open time are the only
// portable warm-up and not worth the I/O cost.
func advise(f *os.File, offset, length int64) error {
	return nil
}

func sysFileID(fi os.FileInfo) (uint64, uint64) {
	return 0, 0
}
