//go:build unix

package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps path read-write and shared. With create set the file must not
// exist and is sized to size; otherwise the whole existing file is mapped.
func mapFile(path string, size int, create bool) ([]byte, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	defer f.Close()

	if create {
		if err := unix.Ftruncate(int(f.Fd()), int64(size)); err != nil {
			os.Remove(path)
			return nil, fmt.Errorf("failed to size segment: %w", err)
		}
	} else {
		st, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat segment: %w", err)
		}
		size = int(st.Size())
		if size < HeaderSize {
			return nil, ErrTruncated
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if create {
			os.Remove(path)
		}
		return nil, fmt.Errorf("failed to map segment: %w", err)
	}
	return data, nil
}

func unmap(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("failed to unmap segment: %w", err)
	}
	return nil
}
