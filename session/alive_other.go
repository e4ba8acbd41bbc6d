//go:build !unix

package session

func processAlive(pid int) bool {
	return false
}
