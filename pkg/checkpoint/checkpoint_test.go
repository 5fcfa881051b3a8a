package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	playbook := []byte("- hosts: all\n  tasks: []\n")
	cp := New("site.yml", playbook, "inventory.ini")
	cp.MarkCompleted("web1", "task-1")
	cp.MarkCompleted("web1", "task-2")
	cp.SetVariables("web1", map[string]interface{}{"env": "prod"})

	require.NoError(t, store.Save(cp))

	loaded, err := store.Load("site.yml")
	require.NoError(t, err)
	assert.True(t, loaded.IsCompleted("web1", "task-1"))
	assert.True(t, loaded.IsCompleted("web1", "task-2"))
	assert.False(t, loaded.IsCompleted("web1", "task-3"))
	assert.Equal(t, "prod", loaded.Variables["web1"]["env"])
	assert.Equal(t, "task-2", loaded.LastTask)

	assert.NoError(t, loaded.Verify(playbook, "inventory.ini"))
}

func TestVerify_DetectsMismatches(t *testing.T) {
	playbook := []byte("tasks: []\n")
	cp := New("site.yml", playbook, "inventory.ini")

	assert.NoError(t, cp.Verify(playbook, "inventory.ini"))

	err := cp.Verify([]byte("tasks: [changed]\n"), "inventory.ini")
	assert.ErrorContains(t, err, "changed since")

	err = cp.Verify(playbook, "other-inventory.ini")
	assert.ErrorContains(t, err, "does not match")

	cp.Version = "0.9"
	err = cp.Verify(playbook, "inventory.ini")
	assert.ErrorContains(t, err, "schema version")
}

func TestKeyFor_IsStableAndSixteenHex(t *testing.T) {
	key := KeyFor("/path/to/site.yml")
	assert.Len(t, key, 16)
	assert.Equal(t, key, KeyFor("/path/to/site.yml"))
	assert.NotEqual(t, key, KeyFor("/path/to/other.yml"))
}

func TestNewStore_DefaultsUnderCwd(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	store, err := NewStore("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".nexus", "checkpoints"), store.dir)
}

func TestMarkCompleted_IsIdempotent(t *testing.T) {
	cp := New("site.yml", []byte("x"), "inv")
	cp.MarkCompleted("h1", "t1")
	cp.MarkCompleted("h1", "t1")
	assert.Len(t, cp.CompletedTasks, 1)
}
