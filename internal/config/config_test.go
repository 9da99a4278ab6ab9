package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidateFillsDefaults checks every literal fallback lands on an empty config.
func TestValidateFillsDefaults(t *testing.T) {
	t.Parallel()

	cfg := new(Config)
	require.NoError(t, Validate(cfg))

	require.Equal(t, DefaultFunctionName, cfg.FunctionName)
	require.Equal(t, DefaultRegion, cfg.Region)
	require.Equal(t, DefaultHandler, cfg.Handler)
	require.Equal(t, DefaultRuntime, cfg.Runtime)
	require.EqualValues(t, DefaultTimeoutSeconds, cfg.TimeoutSeconds)
	require.EqualValues(t, DefaultMemorySizeMB, cfg.MemorySizeMB)
	require.Equal(t, DefaultRedirectPort, cfg.OAuth.RedirectPort)
	require.Equal(t, DefaultEnvFilename, cfg.OAuth.EnvFile)
	require.Contains(t, cfg.EnvironmentDefaults, "PREFERENCES_TABLE_NAME")
	require.Equal(t, "AlexaUserPreferences", cfg.EnvironmentDefaults["PREFERENCES_TABLE_NAME"])

	require.Error(t, Validate(nil))
}

// TestLoadMissingFileUsesDefaults ensures an absent settings file is not fatal.
func TestLoadMissingFileUsesDefaults(t *testing.T) {
	// Neutralize overrides leaking in from the host environment.
	t.Setenv("LAMBDA_FUNCTION_NAME", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultFunctionName, cfg.FunctionName)
}

// TestEnvironmentOverrides verifies process environment beats YAML which beats literals.
func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	contents := "function_name: FromFile\nregion: eu-west-1\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	t.Setenv("LAMBDA_FUNCTION_NAME", "FromEnv")
	t.Setenv("AWS_REGION", "")
	t.Setenv("LWA_CLIENT_ID", "amzn1.application-oa2-client.test")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "FromEnv", cfg.FunctionName)
	// Region has no environment override set, YAML wins over the literal default.
	require.Equal(t, "eu-west-1", cfg.Region)
	require.Equal(t, "amzn1.application-oa2-client.test", cfg.OAuth.ClientID)
}

// TestDefaultVariableOverride verifies a pre-set variable beats its literal fallback.
func TestDefaultVariableOverride(t *testing.T) {
	t.Setenv("API_TIMEOUT_MS", "12000")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "12000", cfg.EnvironmentDefaults["API_TIMEOUT_MS"])
	require.Equal(t, "1", cfg.EnvironmentDefaults["API_MAX_RETRIES"])
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	t.Setenv("LAMBDA_FUNCTION_NAME", "")
	t.Setenv("AWS_REGION", "")

	cfg := &Config{
		FunctionName: "RoundtripSkill",
		Region:       "us-east-2",
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.FunctionName, loaded.FunctionName)
	require.Equal(t, cfg.Region, loaded.Region)

	// File exists with restricted permissions.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, DefaultFilePermissions, info.Mode().Perm())
}

// TestDesiredVariablesCopies checks mutation of the returned map does not leak back.
func TestDesiredVariablesCopies(t *testing.T) {
	t.Parallel()

	cfg := &Config{EnvironmentDefaults: map[string]string{"FOO": "baz"}}

	variables := cfg.DesiredVariables()
	variables["FOO"] = "mutated"

	require.Equal(t, "baz", cfg.EnvironmentDefaults["FOO"])
}
