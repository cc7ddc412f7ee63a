package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zeebo/xxh3"
)

func TestJumpHash(t *testing.T) {
	assert.Equal(t, 0, jumpHash(42, 0))
	assert.Equal(t, 0, jumpHash(42, 1))

	for _, key := range []string{"a", "b", "user:1", "user:2"} {
		h := xxh3.HashString(key)
		b := jumpHash(h, 10)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 10)
		assert.Equal(t, b, jumpHash(h, 10))
	}
}

func TestJumpHash_MovesOnlyToNewBucket(t *testing.T) {
	for key := uint64(0); key < 1000; key++ {
		before := jumpHash(key, 4)
		after := jumpHash(key, 5)
		if before != after {
			assert.Equal(t, 4, after)
		}
	}
}
