package postgres

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_CompressesLargeChanges(t *testing.T) {
	s, err := NewAuditService(nil)
	require.NoError(t, err)

	small := json.RawMessage(`{"qty":5}`)
	changes, compressed, algo := s.compress(small)
	assert.Equal(t, CompressionNone, algo)
	assert.Equal(t, small, changes)
	assert.Nil(t, compressed)

	large := json.RawMessage(`{"blob":"` + string(bytes.Repeat([]byte("a"), 20*1024)) + `"}`)
	changes, compressed, algo = s.compress(large)
	assert.Equal(t, CompressionZstd, algo)
	assert.Nil(t, changes)
	assert.Less(t, len(compressed), len(large))

	entry := AuditEntry{ChangesCompressed: compressed, CompressionAlgo: algo}
	require.NoError(t, s.decompress(&entry))
	assert.Equal(t, []byte(large), []byte(entry.Changes))
	assert.Nil(t, entry.ChangesCompressed)
}
