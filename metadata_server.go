//go:build lens_servermode && !lens_disabled

package lens

// Metadata returns the session metadata as JSON for a remote collector.
func (l *Lens) Metadata() ([]byte, error) {
	return l.sess.Metadata()
}
