package bptree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaybeRelativeToRoundTrips(t *testing.T) {
	owner := PhysAddr(1000)
	abs := PhysAddr(1256)

	rel := maybeRelativeTo(owner, abs)
	assert.Equal(t, PhysAddr(256), rel)

	got := maybeAbsolute(owner, rel)
	assert.Equal(t, abs, got)
}

func TestMaybeRelativeToPreservesNull(t *testing.T) {
	assert.Equal(t, NullPaddr, maybeRelativeTo(PhysAddr(1000), NullPaddr))
	assert.Equal(t, NullPaddr, maybeAbsolute(PhysAddr(1000), NullPaddr))
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{}.normalized()
	assert.Equal(t, DefaultConfig.MaxEntries, cfg.MaxEntries)
	assert.Equal(t, DefaultConfig.MinEntries, cfg.MinEntries)

	custom := Config{MaxEntries: 32, MinEntries: 10}.normalized()
	assert.Equal(t, 32, custom.MaxEntries)
	assert.Equal(t, 10, custom.MinEntries)
}
