package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticLeader(t *testing.T) {
	ctx := context.Background()
	c := NewStatic(3)

	leader, known, err := c.Leader(ctx)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, uint64(3), leader)

	c.SetLeader(7)
	leader, known, err = c.Leader(ctx)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, uint64(7), leader)

	c.ClearLeader()
	_, known, err = c.Leader(ctx)
	require.NoError(t, err)
	assert.False(t, known)
}

func TestAppRegistry(t *testing.T) {
	r := NewAppRegistry()
	assert.True(t, r.IsEmpty())

	r.Register(AppManifest{ID: "forge", Version: "1.0.0"})
	assert.False(t, r.IsEmpty())

	m, ok := r.Get("forge")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", m.Version)

	// Re-registering replaces the entry.
	r.Register(AppManifest{ID: "forge", Version: "1.1.0"})
	m, _ = r.Get("forge")
	assert.Equal(t, "1.1.0", m.Version)
	assert.Len(t, r.List(), 1)

	r.Deregister("forge")
	_, ok = r.Get("forge")
	assert.False(t, ok)
	assert.True(t, r.IsEmpty())
}
