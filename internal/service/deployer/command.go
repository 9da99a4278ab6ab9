package deployer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/oshokin/skill-deployer/internal/build"
	"github.com/oshokin/skill-deployer/internal/bundle"
	"github.com/oshokin/skill-deployer/internal/config"
	"github.com/oshokin/skill-deployer/internal/logger"
	"github.com/oshokin/skill-deployer/internal/platform"
)

// BuildRunner executes the project's build step.
type BuildRunner interface {
	Run(ctx context.Context) error
}

// Packager produces the deployment archive and returns its path.
type Packager interface {
	Build(ctx context.Context) (string, error)
}

// Platform is the surface of the cloud compute platform the orchestrator
// touches. The production implementation lives in internal/platform.
type Platform interface {
	AccountID(ctx context.Context) (string, error)
	Probe(ctx context.Context, functionName string) *platform.Probe
	Environment(ctx context.Context, functionName string) (map[string]string, error)
	UpdateCode(ctx context.Context, functionName, archivePath string) (string, error)
	UpdateConfiguration(ctx context.Context, functionName string, settings platform.FunctionSettings) error
	WaitUntilUpdated(ctx context.Context, functionName string) error
	Describe(ctx context.Context, functionName string) (*platform.Summary, error)
}

// Options contains inputs for the deployment entry point.
type Options struct {
	// Config is the fully resolved configuration. Required.
	Config *config.Config
	// ProjectRoot is the directory holding the skill sources (defaults to ".").
	ProjectRoot string
	// Builder, Packager and Platform override the production wiring in tests.
	Builder  BuildRunner
	Packager Packager
	Platform Platform
}

var (
	// ErrFunctionAbsent means the platform positively reported the target
	// function missing. This tool updates functions, it never creates them.
	ErrFunctionAbsent = errors.New("target function does not exist")

	// ErrFunctionUnverified means the existence check itself failed, so the
	// function may well exist but could not be confirmed.
	ErrFunctionUnverified = errors.New("target function could not be verified")

	// errConfigRequired is returned when no configuration is provided.
	errConfigRequired = errors.New("configuration is required")
)

// deployer holds the wiring for a single deployment run.
// It is unexported—callers should use Run, which encapsulates setup.
type deployer struct {
	// cfg holds the resolved deployment configuration.
	cfg *config.Config
	// builder runs the external build step.
	builder BuildRunner
	// packager produces the deployment archive.
	packager Packager
	// platform talks to the cloud compute platform.
	platform Platform
}

// Run executes the deployment workflow.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "skill-deploy")

	d, err := newDeployer(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialize deployer: %w", err)
	}

	if err = d.Run(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Deployment completed successfully")

	return nil
}

// newDeployer wires the production components unless overrides are provided.
func newDeployer(ctx context.Context, opts *Options) (*deployer, error) {
	if opts == nil || opts.Config == nil {
		return nil, errConfigRequired
	}

	root := opts.ProjectRoot
	if root == "" {
		root = "."
	}

	d := &deployer{
		cfg:      opts.Config,
		builder:  opts.Builder,
		packager: opts.Packager,
		platform: opts.Platform,
	}

	if d.builder == nil {
		d.builder = build.NewRunner(root)
	}

	if d.packager == nil {
		d.packager = bundle.NewBuilder(root, filepath.Join(root, build.OutputDirectory))
	}

	if d.platform == nil {
		client, err := platform.Connect(ctx, opts.Config.Region)
		if err != nil {
			return nil, err
		}

		d.platform = client
	}

	return d, nil
}

// Run drives the linear deployment lifecycle: build, package, existence gate,
// code update, readiness wait, configuration reconciliation (with the single
// bounded conflict retry), readiness wait, final report.
func (d *deployer) Run(ctx context.Context) error {
	logger.InfoKV(ctx, "Starting deployment",
		"function", d.cfg.FunctionName, "region", d.cfg.Region)

	account, err := d.platform.AccountID(ctx)
	if err != nil {
		return fmt.Errorf("resolve account (are credentials configured?): %w", err)
	}

	logger.InfoKV(ctx, "Resolved cloud account", "account", account)

	if err = d.builder.Run(ctx); err != nil {
		return fmt.Errorf("build: %w", err)
	}

	archivePath, err := d.packager.Build(ctx)
	if err != nil {
		return fmt.Errorf("package: %w", err)
	}

	if err = d.checkFunctionExists(ctx); err != nil {
		return err
	}

	version, err := d.platform.UpdateCode(ctx, d.cfg.FunctionName, archivePath)
	if err != nil {
		return fmt.Errorf("upload code: %w", err)
	}

	logger.InfoKV(ctx, "Published new function version", "version", version)

	// Let the code update settle before touching configuration. Waiting is a
	// convenience, not a correctness gate: the platform rejects conflicting
	// updates on its own, and that rejection is handled below.
	d.waitUntilReady(ctx)

	if err = d.reconcileConfiguration(ctx); err != nil {
		return err
	}

	d.waitUntilReady(ctx)

	d.report(ctx)

	return nil
}

// checkFunctionExists enforces the existence gate: updates only, never
// creation. Absent and unreachable outcomes stay distinguishable in the logs
// even though both abort the run the same way.
func (d *deployer) checkFunctionExists(ctx context.Context) error {
	probe := d.platform.Probe(ctx, d.cfg.FunctionName)

	switch probe.State {
	case platform.StateFound:
		return nil
	case platform.StateAbsent:
		logger.Errorf(ctx,
			"Function %q does not exist in region %s. Create it once out-of-band (e.g. with SAM or the console), then re-run this tool.",
			d.cfg.FunctionName, d.cfg.Region)

		return fmt.Errorf("%w: %s", ErrFunctionAbsent, d.cfg.FunctionName)
	default:
		logger.ErrorKV(ctx, "Existence check failed; the function may exist but was not reachable",
			"function", d.cfg.FunctionName, "error", probe.Err)

		return fmt.Errorf("%w: %s", ErrFunctionUnverified, d.cfg.FunctionName)
	}
}

// reconcileConfiguration merges the desired defaults with the live
// environment (remote wins per key) and applies the configuration document.
// Exactly one recovery attempt is made when the platform reports an
// in-progress update conflict; anything else propagates unmodified.
func (d *deployer) reconcileConfiguration(ctx context.Context) error {
	remote, err := d.platform.Environment(ctx, d.cfg.FunctionName)
	if err != nil {
		// Reconciliation still needs a base to merge onto; losing the remote
		// values here only means defaults are offered for every key, and the
		// cause stays visible in the log.
		logger.WarnKV(ctx, "Could not fetch live environment, merging onto an empty set", "error", err)

		remote = map[string]string{}
	}

	settings := platform.FunctionSettings{
		Handler:        d.cfg.Handler,
		Runtime:        d.cfg.Runtime,
		TimeoutSeconds: d.cfg.TimeoutSeconds,
		MemorySizeMB:   d.cfg.MemorySizeMB,
		Variables:      mergeVariables(d.cfg.DesiredVariables(), remote),
	}

	err = d.platform.UpdateConfiguration(ctx, d.cfg.FunctionName, settings)

	var conflict *platform.ConflictError
	if errors.As(err, &conflict) {
		logger.Warn(ctx, "Configuration update conflicted with an in-progress update. Waiting and retrying once...")

		d.waitUntilReady(ctx)

		err = d.platform.UpdateConfiguration(ctx, d.cfg.FunctionName, settings)
	}

	if err != nil {
		return fmt.Errorf("apply configuration: %w", err)
	}

	return nil
}

// waitUntilReady blocks until the function finished applying its last update.
// Failures are logged and tolerated.
func (d *deployer) waitUntilReady(ctx context.Context) {
	logger.Info(ctx, "Waiting for function to finish updating...")

	if err := d.platform.WaitUntilUpdated(ctx, d.cfg.FunctionName); err != nil {
		logger.WarnKV(ctx, "Readiness wait failed, proceeding anyway", "error", err)
	}
}

// report prints the final configuration projection. The deployment already
// completed at this point, so a failed query does not fail the run.
func (d *deployer) report(ctx context.Context) {
	summary, err := d.platform.Describe(ctx, d.cfg.FunctionName)
	if err != nil {
		logger.WarnKV(ctx, "Could not fetch final function summary", "error", err)
		return
	}

	logger.Infof(ctx,
		"Deployment complete. Current function info:\n"+
			"  Name:          %s\n"+
			"  Runtime:       %s\n"+
			"  Handler:       %s\n"+
			"  Last modified: %s\n"+
			"  Memory:        %d MB\n"+
			"  Timeout:       %d s",
		summary.FunctionName, summary.Runtime, summary.Handler,
		summary.LastModified, summary.MemorySizeMB, summary.TimeoutSeconds)
}

// mergeVariables merges desired defaults with the live variable set. Remote
// values win on key collision, so operator-configured variables are never
// clobbered; only keys absent remotely receive a default.
func mergeVariables(defaults, remote map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(remote))

	for name, value := range defaults {
		merged[name] = value
	}

	for name, value := range remote {
		merged[name] = value
	}

	return merged
}
