//go:build lens_servermode

package session

import (
	"encoding/json"
	"fmt"
)

// Metadata serializes the session metadata for a remote collector.
func (s *Session) Metadata() ([]byte, error) {
	data, err := json.Marshal(s.Info())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session metadata: %w", err)
	}
	return data, nil
}
