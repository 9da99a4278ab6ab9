package bundle

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// archiveEntries returns the entry names of a zip file, sorted.
func archiveEntries(t *testing.T, path string) []string {
	t.Helper()

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer func() {
		_ = reader.Close()
	}()

	names := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		names = append(names, f.Name)
	}

	sort.Strings(names)

	return names
}

// TestBuild_ArchiveContainsOnlyOutputFiles checks entry paths carry the dist/
// prefix, contain no directory entries and nothing outside the output tree.
func TestBuild_ArchiveContainsOnlyOutputFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outputDir := filepath.Join(root, "dist")

	require.NoError(t, os.MkdirAll(filepath.Join(outputDir, "intents"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "app.js"), []byte("handler"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "intents", "menu.js"), []byte("menu"), 0o600))
	// A sibling of dist/ must never be packaged.
	require.NoError(t, os.WriteFile(filepath.Join(root, "secrets.txt"), []byte("nope"), 0o600))

	b := NewBuilder(root, outputDir)

	path, err := b.Build(context.Background())
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(path))

	require.Equal(t, []string{"dist/app.js", "dist/intents/menu.js"}, archiveEntries(t, path))
}

// TestBuild_ReplacesPreviousArchive ensures a second run fully replaces the
// first with no stale entries.
func TestBuild_ReplacesPreviousArchive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outputDir := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "old.js"), []byte("old"), 0o600))

	b := NewBuilder(root, outputDir)

	_, err := b.Build(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(outputDir, "old.js")))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "new.js"), []byte("new"), 0o600))

	path, err := b.Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"dist/new.js"}, archiveEntries(t, path))
}

// TestBuild_DeterministicFileSet verifies packaging twice over the same input
// produces the same entry set.
func TestBuild_DeterministicFileSet(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outputDir := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "app.js"), []byte("handler"), 0o600))

	b := NewBuilder(root, outputDir)

	path, err := b.Build(context.Background())
	require.NoError(t, err)
	first := archiveEntries(t, path)

	path, err = b.Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, archiveEntries(t, path))
}

// TestBuild_MissingOutputDirectory fails fast before creating anything.
func TestBuild_MissingOutputDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	b := NewBuilder(root, filepath.Join(root, "dist"))

	_, err := b.Build(context.Background())
	require.Error(t, err)

	_, err = os.Stat(b.ArchivePath())
	require.True(t, os.IsNotExist(err))
}

// TestBuild_ArchiveContentsRoundtrip reads a packaged file back out of the zip.
func TestBuild_ArchiveContentsRoundtrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outputDir := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "app.js"), []byte("exports.handler = 1"), 0o600))

	b := NewBuilder(root, outputDir)

	path, err := b.Build(context.Background())
	require.NoError(t, err)

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer func() {
		_ = reader.Close()
	}()

	file, err := reader.Open("dist/app.js")
	require.NoError(t, err)

	contents, err := io.ReadAll(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.Equal(t, "exports.handler = 1", string(contents))
}
