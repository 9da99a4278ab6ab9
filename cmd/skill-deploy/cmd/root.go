package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/skill-deployer/internal/config"
	"github.com/oshokin/skill-deployer/internal/logger"
	"github.com/oshokin/skill-deployer/internal/service/deployer"
	"github.com/oshokin/skill-deployer/internal/version"
)

const (
	// exitCodeFailure signals a deployment that started but did not finish.
	exitCodeFailure = 1
	// exitCodeFunctionMissing signals that the target function was not
	// confirmed to exist, so nothing was deployed.
	exitCodeFunctionMissing = 2
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// projectRoot is the directory holding the skill sources.
	projectRoot string

	// rootCmd represents the base command for deploying the skill backend.
	rootCmd = &cobra.Command{
		Use:   "skill-deploy",
		Short: "Build, package and deploy the skill backend to its cloud function",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			options := &deployer.Options{
				Config:      cfg,
				ProjectRoot: projectRoot,
			}

			return deployer.Run(ctx, options)
		},
	}
)

// Execute runs the skill-deploy CLI and exits with non-zero status on error.
// A missing or unverifiable target function is distinguishable from other
// failures by its exit code.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()
	if err == nil {
		return
	}

	logger.Error(context.Background(), err.Error())

	if errors.Is(err, deployer.ErrFunctionAbsent) || errors.Is(err, deployer.ErrFunctionUnverified) {
		os.Exit(exitCodeFunctionMissing)
	}

	os.Exit(exitCodeFailure)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&projectRoot, "project-root", "p", ".", "directory holding the skill sources")
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}
