package bundle

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/oshokin/skill-deployer/internal/logger"
)

const (
	// ArchiveFilename is the deployment archive produced in the project root.
	ArchiveFilename = "alexa-skill-deployment.zip"

	// stagedPrefix is the directory prefix preserved inside the archive so the
	// deployed artifact's internal paths match what the runtime expects.
	stagedPrefix = "dist"
)

// errOutputMissing is returned when the build output directory is absent.
var errOutputMissing = errors.New("build output directory is missing")

// Builder copies the build output into an isolated staging directory and
// produces a deterministic archive containing only regular files under it.
type Builder struct {
	// root is the project directory receiving the archive.
	root string
	// outputDir is the build output directory to package.
	outputDir string
}

// NewBuilder creates a Builder packaging outputDir into an archive under root.
func NewBuilder(root, outputDir string) *Builder {
	return &Builder{
		root:      root,
		outputDir: outputDir,
	}
}

// ArchivePath returns the fixed path of the produced archive.
func (b *Builder) ArchivePath() string {
	return filepath.Join(b.root, ArchiveFilename)
}

// Build stages the build output, archives it and returns the absolute path to
// the archive. A pre-existing archive at the target path is replaced, never
// merged. The staging directory is removed on every exit path.
func (b *Builder) Build(ctx context.Context) (string, error) {
	if _, err := os.Stat(b.outputDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", errOutputMissing, b.outputDir)
		}

		return "", fmt.Errorf("stat build output: %w", err)
	}

	logger.InfoKV(ctx, "Creating deployment archive", "source", b.outputDir)

	staging, err := os.MkdirTemp("", "skill-bundle-")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(staging)
	}()

	staged := filepath.Join(staging, stagedPrefix)
	if err = os.CopyFS(staged, os.DirFS(b.outputDir)); err != nil {
		return "", fmt.Errorf("stage build output: %w", err)
	}

	archivePath := b.ArchivePath()
	if err = os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove previous archive: %w", err)
	}

	if err = writeArchive(staging, archivePath); err != nil {
		// Do not leave a partial archive behind.
		_ = os.Remove(archivePath)
		return "", err
	}

	absPath, err := filepath.Abs(archivePath)
	if err != nil {
		return "", fmt.Errorf("resolve archive path: %w", err)
	}

	logger.InfoKV(ctx, "Created deployment archive", "path", absPath)

	return absPath, nil
}

// writeArchive walks the staging tree and adds every regular file to a new
// compressed archive using its path relative to the staging root.
func writeArchive(staging, archivePath string) error {
	archive, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	writer := zip.NewWriter(archive)

	walkErr := filepath.WalkDir(staging, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		relative, err := filepath.Rel(staging, path)
		if err != nil {
			return err
		}

		// Zip entries always use forward slashes.
		target, err := writer.Create(filepath.ToSlash(relative))
		if err != nil {
			return err
		}

		source, err := os.Open(filepath.Clean(path))
		if err != nil {
			return err
		}

		_, err = io.Copy(target, source)
		_ = source.Close()

		return err
	})

	if walkErr != nil {
		_ = writer.Close()
		_ = archive.Close()

		return fmt.Errorf("write archive: %w", walkErr)
	}

	if err = writer.Close(); err != nil {
		_ = archive.Close()
		return fmt.Errorf("finalize archive: %w", err)
	}

	if err = archive.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	return nil
}
