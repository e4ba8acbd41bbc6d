//go:build !unix

package shm

func mapFile(path string, size int, create bool) ([]byte, error) {
	return nil, ErrUnsupported
}

func unmap(data []byte) error {
	return nil
}
