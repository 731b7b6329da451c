package intake

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReadsDescriptors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t1.json"), []byte(`{"ticket":"T1"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t2.json"), []byte(`{"ticket":"T2"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	source := NewDirSource(dir, nil)
	files, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)

	names := []string{files[0].Name, files[1].Name}
	assert.ElementsMatch(t, []string{"t1.json", "t2.json"}, names)
}

func TestAckRemovesDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t1.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	source := NewDirSource(dir, nil)
	files, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, files[0].Ack())
	assert.NoFileExists(t, path)
}

func TestFetchMissingDirectoryIsFatal(t *testing.T) {
	source := NewDirSource(filepath.Join(t.TempDir(), "nope"), nil)
	_, err := source.Fetch(context.Background())
	assert.Error(t, err)
}

func TestFetchEmptyBatch(t *testing.T) {
	source := NewDirSource(t.TempDir(), nil)
	files, err := source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}
