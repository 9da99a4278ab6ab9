package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oshokin/skill-deployer/internal/logger"
)

const (
	// OutputDirectory is where the build tool is expected to leave artifacts.
	OutputDirectory = "dist"
)

var (
	// ErrArtifactMissing is returned when the build process succeeds but the
	// expected output directory is absent.
	ErrArtifactMissing = errors.New("build output directory not found")

	// defaultCommand invokes the skill's build step.
	//nolint:gochecknoglobals // Shared default for the Runner constructor.
	defaultCommand = []string{"npm", "run", "build"}
)

// Runner executes the project's build step as a blocking external process.
type Runner struct {
	// root is the project directory the build command runs in.
	root string
	// command is the build command; overridable for tests.
	command []string
	// outputDir is the directory that must exist after a successful build.
	outputDir string
}

// NewRunner creates a Runner for the provided project root.
func NewRunner(root string) *Runner {
	return &Runner{
		root:      root,
		command:   defaultCommand,
		outputDir: OutputDirectory,
	}
}

// OutputPath returns the path to the build output directory.
func (r *Runner) OutputPath() string {
	return filepath.Join(r.root, r.outputDir)
}

// Run invokes the build command and verifies the output directory exists.
// A non-zero exit is fatal; build failures are never transient, so there is
// no retry. A missing output directory after a clean exit is reported as a
// distinct error.
func (r *Runner) Run(ctx context.Context) error {
	logger.Infof(ctx, "$ %s", strings.Join(r.command, " "))

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...) //nolint:gosec // Command is a fixed build step.
	cmd.Dir = r.root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run build command: %w", err)
	}

	info, err := os.Stat(r.OutputPath())
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, r.outputDir)
	} else if err != nil {
		return fmt.Errorf("stat build output: %w", err)
	}

	return nil
}
