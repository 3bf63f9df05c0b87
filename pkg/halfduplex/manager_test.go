package halfduplex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SpawnGetClose(t *testing.T) {
	mgr := NewManager(testConfig(), testLogger())

	sess, err := mgr.Spawn("alpha", []string{"sh", "-c", "printf hi; read x"})
	require.NoError(t, err)
	require.True(t, sess.IsActive())

	got, ok := mgr.Get("alpha")
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Contains(t, mgr.Names(), "alpha")

	require.NoError(t, mgr.Close("alpha"))
	assert.False(t, sess.IsActive())

	_, ok = mgr.Get("alpha")
	assert.False(t, ok)
}

func TestManager_SpawnRejectsDuplicateActiveName(t *testing.T) {
	mgr := NewManager(testConfig(), testLogger())

	_, err := mgr.Spawn("beta", []string{"sh", "-c", "read x"})
	require.NoError(t, err)

	_, err = mgr.Spawn("beta", []string{"sh", "-c", "read x"})
	assert.Error(t, err)

	assert.NoError(t, mgr.CloseAll())
}

func TestManager_CloseUnknownReturnsNotActive(t *testing.T) {
	mgr := NewManager(testConfig(), testLogger())
	err := mgr.Close("nope")
	assert.ErrorIs(t, err, ErrNotActive)
}
