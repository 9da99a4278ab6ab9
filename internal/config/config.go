package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the skill binaries need. It is constructed once at
// process start and passed down explicitly; components never consult the
// environment on their own.
type Config struct {
	// FunctionName is the name of the Lambda function backing the skill.
	FunctionName string `yaml:"function_name"`
	// Region is the AWS region hosting the function.
	Region string `yaml:"region"`
	// Handler is the Lambda handler path inside the deployment archive.
	Handler string `yaml:"handler"`
	// Runtime is the Lambda runtime identifier.
	Runtime string `yaml:"runtime"`
	// TimeoutSeconds is the function execution timeout applied on deploy.
	TimeoutSeconds int32 `yaml:"timeout_seconds"`
	// MemorySizeMB is the function memory size applied on deploy.
	MemorySizeMB int32 `yaml:"memory_size_mb"`
	// EnvironmentDefaults are the variables the skill expects at runtime.
	// They are applied only for keys absent on the live function.
	EnvironmentDefaults map[string]string `yaml:"environment_defaults"`
	// OAuth configures the refresh-token helper.
	OAuth OAuthConfig `yaml:"oauth"`
}

// OAuthConfig holds Login-with-Amazon client settings for the token helper.
type OAuthConfig struct {
	// ClientID is the LWA security profile client identifier.
	ClientID string `yaml:"client_id"`
	// ClientSecret is the LWA security profile client secret.
	ClientSecret string `yaml:"client_secret"`
	// RedirectPort is the local port the callback listener binds to.
	RedirectPort int `yaml:"redirect_port"`
	// EnvFile is the settings file the refresh token is appended to.
	EnvFile string `yaml:"env_file"`
}

const (
	// DefaultConfigFilename is the default filename for deployment settings.
	DefaultConfigFilename = "skill-deployer-settings.yaml"

	// DefaultFunctionName is the Lambda function updated when none is configured.
	DefaultFunctionName = "AnaAlexaSkill"

	// DefaultRegion is the AWS region used when none is configured.
	DefaultRegion = "us-west-2"

	// DefaultHandler is the handler path inside the deployment archive.
	DefaultHandler = "dist/app.handler"

	// DefaultRuntime is the Lambda runtime the skill targets.
	DefaultRuntime = "nodejs20.x"

	// DefaultTimeoutSeconds is the function execution timeout applied on deploy.
	DefaultTimeoutSeconds = 30

	// DefaultMemorySizeMB is the function memory size applied on deploy.
	DefaultMemorySizeMB = 512

	// DefaultRedirectPort is the local port for the OAuth callback listener.
	DefaultRedirectPort = 3000

	// DefaultEnvFilename is the settings file receiving the refresh token.
	DefaultEnvFilename = ".env"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

// environmentOverrides maps recognized process environment variables to the
// top-level fields they override.
const (
	envFunctionName = "LAMBDA_FUNCTION_NAME"
	envRegion       = "AWS_REGION"
	envClientID     = "LWA_CLIENT_ID"
	envClientSecret = "LWA_CLIENT_SECRET"
)

// defaultVariables returns the skill's runtime variables with their literal
// fallbacks, each overridable by a pre-set process environment value.
func defaultVariables() map[string]string {
	literals := map[string]string{
		"PREFERENCES_TABLE_NAME": "AlexaUserPreferences",
		"HISTORICAL_API_BASE":    "https://2kfsa0b68h.execute-api.us-west-2.amazonaws.com/prod/historical-dishes",
		"RESTAURANT_API_BASE":    "https://4ccoyys838.execute-api.us-west-2.amazonaws.com/prod/restaurants",
		"RECIPES_API_BASE":       "https://h5dyjlxrog.execute-api.us-west-2.amazonaws.com/prod/recipes",
		"API_TIMEOUT_MS":         "8000",
		"API_MAX_RETRIES":        "1",
		"USE_BEDROCK_NLQ":        "false",
		"BEDROCK_MODEL_ID":       "anthropic.claude-3-haiku-20240307-v1:0",
	}

	variables := make(map[string]string, len(literals))
	for name, fallback := range literals {
		if value, ok := os.LookupEnv(name); ok {
			variables[name] = value
		} else {
			variables[name] = fallback
		}
	}

	return variables
}

// errConfigIsNotSet is returned when a nil configuration is provided.
var errConfigIsNotSet = errors.New("configuration is not set")

// Load builds the configuration in three layers: literal defaults, then the
// optional YAML file at path, then recognized environment overrides.
// A missing file is not an error; the defaults simply stand.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	var cfg Config

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err = yaml.Unmarshal(contents, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}

	applyEnvironmentOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions: the file may carry the OAuth client secret.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills unset fields with their literal defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.FunctionName == "" {
		cfg.FunctionName = DefaultFunctionName
	}

	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	if cfg.Handler == "" {
		cfg.Handler = DefaultHandler
	}

	if cfg.Runtime == "" {
		cfg.Runtime = DefaultRuntime
	}

	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if cfg.MemorySizeMB <= 0 {
		cfg.MemorySizeMB = DefaultMemorySizeMB
	}

	if cfg.EnvironmentDefaults == nil {
		cfg.EnvironmentDefaults = defaultVariables()
	}

	if cfg.OAuth.RedirectPort <= 0 {
		cfg.OAuth.RedirectPort = DefaultRedirectPort
	}

	if cfg.OAuth.EnvFile == "" {
		cfg.OAuth.EnvFile = DefaultEnvFilename
	}

	return nil
}

// applyEnvironmentOverrides lets recognized process environment variables win
// over YAML values. Blank values do not override. This is the only place
// ambient lookups happen.
func applyEnvironmentOverrides(cfg *Config) {
	if value := os.Getenv(envFunctionName); value != "" {
		cfg.FunctionName = value
	}

	if value := os.Getenv(envRegion); value != "" {
		cfg.Region = value
	}

	if value := os.Getenv(envClientID); value != "" {
		cfg.OAuth.ClientID = value
	}

	if value := os.Getenv(envClientSecret); value != "" {
		cfg.OAuth.ClientSecret = value
	}
}

// DesiredVariables returns a copy of the configured runtime variable defaults
// so callers cannot mutate the configuration through the merge.
func (c *Config) DesiredVariables() map[string]string {
	variables := make(map[string]string, len(c.EnvironmentDefaults))
	for name, value := range c.EnvironmentDefaults {
		variables[name] = value
	}

	return variables
}
