//go:build lens_servermode

package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataJSON(t *testing.T) {
	s := New(testConfig(t))
	defer s.Close()
	require.NoError(t, s.Activate())
	_, _, err := s.ClaimRing(7, 0)
	require.NoError(t, err)

	data, err := s.Metadata()
	require.NoError(t, err)

	var info Info
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, s.ID().String(), info.SessionID)
	assert.Equal(t, "active", info.State)
	require.Len(t, info.Rings, 1)
	assert.Equal(t, uint32(7), info.Rings[0].ThreadID)
}
