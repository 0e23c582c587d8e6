//go:build !windows

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

func osMap(f *os.File, size int, readOnly bool) ([]byte, error) {
	prot := unix.PROT_READ
	if !readOnly {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
}

func osUnmap(data []byte) error {
	return unix.Munmap(data)
}

func osFlush(data []byte, off, length int) error {
	// Msync requires a page-aligned address; widen the range down to the
	// containing page. The mapping base is page-aligned.
	page := os.Getpagesize()
	start := off &^ (page - 1)
	end := off + length
	if end > len(data) {
		end = len(data)
	}
	return unix.Msync(data[start:end], unix.MS_SYNC)
}
