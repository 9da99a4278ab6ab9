package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/skill-deployer/internal/config"
	"github.com/oshokin/skill-deployer/internal/logger"
	"github.com/oshokin/skill-deployer/internal/service/token"
	"github.com/oshokin/skill-deployer/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// rootCmd represents the base command for obtaining a refresh token.
	rootCmd = &cobra.Command{
		Use:   "skill-token",
		Short: "Obtain a refresh token for the skill via the browser sign-in flow",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return token.Run(ctx, &token.Options{Config: cfg})
		},
	}
)

// Execute runs the skill-token CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error(context.Background(), err.Error())
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}
