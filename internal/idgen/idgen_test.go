package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix(TransferPrefix)
	assert.True(t, HasPrefix(id, TransferPrefix))
	assert.Len(t, id, len(TransferPrefix)+32)
	assert.NotContains(t, id, "-")
}

func TestWithPrefix_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix(DevicePrefix)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNew_IsUUID(t *testing.T) {
	assert.Len(t, New(), 36)
}
