package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/oshokin/skill-deployer/internal/logger"
)

// DefaultWaitTimeout bounds a single wait for the function to finish applying
// an update. Waits are best-effort; callers decide whether a timeout matters.
const DefaultWaitTimeout = 5 * time.Minute

// errEmptyAccount is returned when the identity service reports no account id.
var errEmptyAccount = errors.New("identity response carries no account id")

// FunctionSettings is the configuration document applied to the function.
type FunctionSettings struct {
	// Handler is the handler path inside the deployment archive.
	Handler string
	// Runtime is the platform runtime identifier.
	Runtime string
	// TimeoutSeconds is the function execution timeout.
	TimeoutSeconds int32
	// MemorySizeMB is the function memory size.
	MemorySizeMB int32
	// Variables is the full environment variable set to install.
	Variables map[string]string
}

// Summary is the projection of the function configuration printed after a run.
type Summary struct {
	// FunctionName is the name of the function.
	FunctionName string
	// Runtime is the runtime identifier currently configured.
	Runtime string
	// Handler is the handler path currently configured.
	Handler string
	// LastModified is the platform-reported last modification timestamp.
	LastModified string
	// MemorySizeMB is the configured memory size.
	MemorySizeMB int32
	// TimeoutSeconds is the configured execution timeout.
	TimeoutSeconds int32
}

// Client talks to the cloud compute platform for one region.
type Client struct {
	// api is the Lambda service client.
	api *lambda.Client
	// identity is the STS client used for the account lookup.
	identity *sts.Client
	// waitTimeout bounds a single readiness wait.
	waitTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*options)

// options collects construction settings applied to the underlying clients.
type options struct {
	baseEndpoint string
	waitTimeout  time.Duration
}

// WithBaseEndpoint points all service clients at an alternative endpoint.
// Tests use it to target a local simulator.
func WithBaseEndpoint(url string) Option {
	return func(o *options) {
		o.baseEndpoint = url
	}
}

// WithWaitTimeout overrides the readiness wait bound.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.waitTimeout = timeout
		}
	}
}

// Connect loads default AWS configuration for the region and returns a Client.
func Connect(ctx context.Context, region string, opts ...Option) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}

	return New(cfg, opts...), nil
}

// New builds a Client from a prepared aws.Config.
func New(cfg aws.Config, opts ...Option) *Client {
	settings := options{
		waitTimeout: DefaultWaitTimeout,
	}

	for _, opt := range opts {
		opt(&settings)
	}

	return &Client{
		api: lambda.NewFromConfig(cfg, func(o *lambda.Options) {
			if settings.baseEndpoint != "" {
				o.BaseEndpoint = aws.String(settings.baseEndpoint)
			}
		}),
		identity: sts.NewFromConfig(cfg, func(o *sts.Options) {
			if settings.baseEndpoint != "" {
				o.BaseEndpoint = aws.String(settings.baseEndpoint)
			}
		}),
		waitTimeout: settings.waitTimeout,
	}
}

// AccountID resolves the caller's account id via the identity service.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	out, err := c.identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}

	account := aws.ToString(out.Account)
	if account == "" {
		return "", errEmptyAccount
	}

	return account, nil
}

// Probe reports whether the function exists, keeping "absent" and
// "unreachable" distinguishable instead of collapsing both to false.
func (c *Client) Probe(ctx context.Context, functionName string) *Probe {
	_, err := c.api.GetFunction(ctx, &lambda.GetFunctionInput{
		FunctionName: aws.String(functionName),
	})

	switch {
	case err == nil:
		return &Probe{State: StateFound}
	case isNotFound(err):
		return &Probe{State: StateAbsent}
	default:
		return &Probe{State: StateUnreachable, Err: err}
	}
}

// Environment fetches the function's current environment variables.
// A function with no variables yields an empty, non-nil map.
func (c *Client) Environment(ctx context.Context, functionName string) (map[string]string, error) {
	out, err := c.api.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
		FunctionName: aws.String(functionName),
	})
	if err != nil {
		return nil, fmt.Errorf("get function configuration: %w", err)
	}

	if out.Environment == nil || out.Environment.Variables == nil {
		return map[string]string{}, nil
	}

	return out.Environment.Variables, nil
}

// UpdateCode uploads the archive as the function's new code and publishes a
// new immutable version. Returns the published version label.
func (c *Client) UpdateCode(ctx context.Context, functionName, archivePath string) (string, error) {
	archive, err := os.ReadFile(filepath.Clean(archivePath))
	if err != nil {
		return "", fmt.Errorf("read archive: %w", err)
	}

	logger.InfoKV(ctx, "Updating function code",
		"function", functionName, "archive", archivePath, "bytes", len(archive))

	out, err := c.api.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(functionName),
		ZipFile:      archive,
		Publish:      true,
	})
	if err != nil {
		return "", fmt.Errorf("update function code: %w", err)
	}

	return aws.ToString(out.Version), nil
}

// UpdateConfiguration applies the configuration document. When the platform
// rejects the update because a prior update is still applying, the error is a
// *ConflictError so callers can branch on the kind rather than the message.
func (c *Client) UpdateConfiguration(ctx context.Context, functionName string, settings FunctionSettings) error {
	logger.InfoKV(ctx, "Updating function configuration",
		"function", functionName, "variables", len(settings.Variables))

	_, err := c.api.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(functionName),
		Handler:      aws.String(settings.Handler),
		Runtime:      lambdatypes.Runtime(settings.Runtime),
		Timeout:      aws.Int32(settings.TimeoutSeconds),
		MemorySize:   aws.Int32(settings.MemorySizeMB),
		Environment: &lambdatypes.Environment{
			Variables: settings.Variables,
		},
	})

	switch {
	case err == nil:
		return nil
	case isConflict(err):
		return &ConflictError{Cause: err}
	default:
		return fmt.Errorf("update function configuration: %w", err)
	}
}

// WaitUntilUpdated blocks until the platform reports the function finished
// applying its last update, bounded by the configured wait timeout.
func (c *Client) WaitUntilUpdated(ctx context.Context, functionName string) error {
	waiter := lambda.NewFunctionUpdatedV2Waiter(c.api)

	err := waiter.Wait(ctx, &lambda.GetFunctionInput{
		FunctionName: aws.String(functionName),
	}, c.waitTimeout)
	if err != nil {
		return fmt.Errorf("wait for function update: %w", err)
	}

	return nil
}

// Describe fetches the final configuration projection reported after a run.
func (c *Client) Describe(ctx context.Context, functionName string) (*Summary, error) {
	out, err := c.api.GetFunction(ctx, &lambda.GetFunctionInput{
		FunctionName: aws.String(functionName),
	})
	if err != nil {
		return nil, fmt.Errorf("get function: %w", err)
	}

	cfg := out.Configuration
	if cfg == nil {
		return &Summary{FunctionName: functionName}, nil
	}

	return &Summary{
		FunctionName:   aws.ToString(cfg.FunctionName),
		Runtime:        string(cfg.Runtime),
		Handler:        aws.ToString(cfg.Handler),
		LastModified:   aws.ToString(cfg.LastModified),
		MemorySizeMB:   aws.ToInt32(cfg.MemorySize),
		TimeoutSeconds: aws.ToInt32(cfg.Timeout),
	}, nil
}
