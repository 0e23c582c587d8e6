//go:build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func osMap(f *os.File, size int, readOnly bool) ([]byte, error) {
	protect := uint32(windows.PAGE_READWRITE)
	access := uint32(windows.FILE_MAP_READ | windows.FILE_MAP_WRITE)
	if readOnly {
		protect = windows.PAGE_READONLY
		access = windows.FILE_MAP_READ
	}

	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, protect, 0, uint32(size), nil)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(h, access, 0, 0, uintptr(size))
	// The mapping object handle can be closed once the view exists.
	_ = windows.CloseHandle(h)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func osUnmap(data []byte) error {
	return windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&data[0])))
}

func osFlush(data []byte, off, length int) error {
	page := os.Getpagesize()
	start := off &^ (page - 1)
	end := off + length
	if end > len(data) {
		end = len(data)
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&data[start])), uintptr(end-start))
}
