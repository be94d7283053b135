// Package executor builds and runs bosh CLI invocations.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tyemirov/boshpulse/internal/failure"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	DefaultBinaryName       = "bosh"
	AvailabilityTimeout     = 5 * time.Second
	connectionProbeCommand  = "deployments"
	outcomeSuccess          = "success"
	outcomeUnclassified     = "unclassified"
	operationBuild          = "build invocation"
	logMessageStarted       = "bosh command started"
	logMessageFinished      = "bosh command finished"
	logMessageFailed        = "bosh command failed"
	logMessageUnavailable   = "bosh cli unavailable"
	logMessageNoConnection  = "director connection test failed"
	logMessageCertSkipped   = "ca certificate unreadable, continuing without BOSH_CA_CERT"
	logMessageFollowStopped = "bosh follow window elapsed"
	logFieldInvocationID    = "invocation_id"
	logFieldCommand         = "command"
	logFieldExecutable      = "executable"
	logFieldExitCode        = "exit_code"
	logFieldDuration        = "duration"
	logFieldOutcome         = "outcome"
	logFieldCertificatePath = "ca_certificate_path"
)

// Configuration is the effective configuration consumed by the executor.
type Configuration interface {
	Director() string
	Client() string
	ClientSecret() string
	CACertificatePath() string
	BinaryPath() string
	Timeout() time.Duration
}

// PathResolver publishes the binary path chosen at startup.
type PathResolver interface {
	ResolvedPath() string
}

// Observer receives one notification per finished invocation.
type Observer interface {
	ObserveExecution(outcome string, duration time.Duration)
}

// Executor turns logical bosh commands into processes.
type Executor struct {
	configuration  Configuration
	runner         ProcessRunner
	loggingService *logging.Service
	observer       Observer

	resolverMutex sync.RWMutex
	pathResolver  PathResolver
}

// New constructs an Executor. The path resolver is attached later with UsePathResolver.
func New(configuration Configuration, runner ProcessRunner, loggingService *logging.Service, observer Observer) *Executor {
	if runner == nil {
		runner = NewOperatingSystemRunner()
	}
	return &Executor{
		configuration:  configuration,
		runner:         runner,
		loggingService: loggingService,
		observer:       observer,
	}
}

// UsePathResolver attaches the installer once both components exist.
func (executor *Executor) UsePathResolver(pathResolver PathResolver) {
	executor.resolverMutex.Lock()
	defer executor.resolverMutex.Unlock()
	executor.pathResolver = pathResolver
}

// BinaryPath returns the installer's resolved path when it names something
// other than the bare default, otherwise the configured path.
func (executor *Executor) BinaryPath() string {
	executor.resolverMutex.RLock()
	pathResolver := executor.pathResolver
	executor.resolverMutex.RUnlock()
	if pathResolver != nil {
		resolved := strings.TrimSpace(pathResolver.ResolvedPath())
		if resolved != "" && resolved != DefaultBinaryName {
			return resolved
		}
	}
	configured := strings.TrimSpace(executor.configuration.BinaryPath())
	if configured == "" {
		return DefaultBinaryName
	}
	return configured
}

// BuildInvocation assembles the argument vector and environment overlay for command.
// The CA certificate path is checked on every call.
func (executor *Executor) BuildInvocation(command string) (Invocation, error) {
	return executor.BuildArgumentInvocation(strings.Fields(command))
}

// BuildArgumentInvocation is BuildInvocation for a command that is already split
// into arguments. Arguments are passed through unchanged, so a single argument
// may contain spaces.
func (executor *Executor) BuildArgumentInvocation(tokens []string) (Invocation, error) {
	if len(tokens) == 0 || strings.TrimSpace(tokens[0]) == "" {
		return Invocation{}, failure.New(failure.KindValidation, operationBuild, "command must not be blank")
	}
	arguments := []string{executor.BinaryPath()}
	environment := make([]string, 0, 4)

	director := executor.configuration.Director()
	if director != "" {
		arguments = append(arguments, FlagEnvironment, director)
		environment = append(environment, EnvironmentDirector+"="+director)
	}
	if client := executor.configuration.Client(); client != "" {
		environment = append(environment, EnvironmentClient+"="+client)
	}
	if clientSecret := executor.configuration.ClientSecret(); clientSecret != "" {
		environment = append(environment, EnvironmentClientSecret+"="+clientSecret)
	}
	if certificatePath := executor.configuration.CACertificatePath(); certificatePath != "" && fileExists(certificatePath) {
		arguments = append(arguments, FlagCACertificate, certificatePath)
		content, readErr := os.ReadFile(certificatePath)
		if readErr != nil {
			executor.warn(logMessageCertSkipped, logging.String(logFieldCertificatePath, certificatePath), logging.ErrorField(readErr))
		} else {
			environment = append(environment, EnvironmentCACert+"="+strings.TrimSpace(string(content)))
		}
	}
	arguments = append(arguments, tokens...)

	return Invocation{
		ID:          uuid.NewString(),
		Command:     strings.Join(tokens, " "),
		Arguments:   arguments,
		Environment: environment,
		Timeout:     executor.configuration.Timeout(),
	}, nil
}

// Execute runs command and returns its trimmed stdout.
func (executor *Executor) Execute(ctx context.Context, command string) (string, error) {
	invocation, err := executor.BuildInvocation(command)
	if err != nil {
		return "", err
	}
	result, err := executor.run(ctx, invocation)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

// ExecuteArguments runs a pre-split command and returns its trimmed stdout.
func (executor *Executor) ExecuteArguments(ctx context.Context, tokens []string) (string, error) {
	invocation, err := executor.BuildArgumentInvocation(tokens)
	if err != nil {
		return "", err
	}
	result, err := executor.run(ctx, invocation)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

// ExecuteFollow runs a streaming command such as `logs --follow` until it exits
// or the invocation timeout elapses, and returns the trimmed stdout collected so far.
// The timeout is the normal end of a follow and is not reported as a failure.
func (executor *Executor) ExecuteFollow(ctx context.Context, tokens []string) (string, error) {
	invocation, err := executor.BuildArgumentInvocation(tokens)
	if err != nil {
		return "", err
	}
	invocation.Follow = true
	result, err := executor.run(ctx, invocation)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

// ExecuteStructured runs command with --json and decodes the response.
// Empty or malformed output is a parse failure even when the process exits zero.
func (executor *Executor) ExecuteStructured(ctx context.Context, command string) (*Output, error) {
	invocation, err := executor.BuildInvocation(WithJSONFlag(command))
	if err != nil {
		return nil, err
	}
	result, err := executor.run(ctx, invocation)
	if err != nil {
		return nil, err
	}
	output, decodeErr := decodeOutput(result.Stdout)
	if decodeErr != nil {
		return nil, failure.Wrap(failure.KindParse, invocation.Command, "unreadable structured output", decodeErr)
	}
	return output, nil
}

// IsAvailable reports whether `<bosh> --version` exits zero within AvailabilityTimeout.
func (executor *Executor) IsAvailable(ctx context.Context) bool {
	binaryPath := executor.BinaryPath()
	invocation := Invocation{
		ID:        uuid.NewString(),
		Command:   FlagVersion,
		Arguments: []string{binaryPath, FlagVersion},
		Timeout:   AvailabilityTimeout,
	}
	result, err := executor.runner.Run(ctx, invocation)
	if err != nil || result.ExitCode != 0 {
		fields := []logging.Field{logging.String(logFieldExecutable, binaryPath), logging.Int(logFieldExitCode, result.ExitCode)}
		if err != nil {
			fields = append(fields, logging.ErrorField(err))
		}
		executor.warn(logMessageUnavailable, fields...)
		return false
	}
	return true
}

// TestConnection issues a lightweight structured listing against the director.
func (executor *Executor) TestConnection(ctx context.Context) bool {
	if _, err := executor.ExecuteStructured(ctx, connectionProbeCommand); err != nil {
		executor.warn(logMessageNoConnection, logging.ErrorField(err))
		return false
	}
	return true
}

func (executor *Executor) run(ctx context.Context, invocation Invocation) (Result, error) {
	executor.debug(logMessageStarted,
		logging.String(logFieldInvocationID, invocation.ID),
		logging.String(logFieldCommand, invocation.Command),
		logging.String(logFieldExecutable, invocation.Executable()),
	)
	startTime := time.Now()
	result, err := executor.runner.Run(ctx, invocation)
	duration := time.Since(startTime)
	if kind, found := failure.KindOf(err); invocation.Follow && found && kind == failure.KindTimeout {
		executor.debug(logMessageFollowStopped,
			logging.String(logFieldInvocationID, invocation.ID),
			logging.String(logFieldCommand, invocation.Command),
			logging.Duration(logFieldDuration, duration),
		)
		err = nil
		result.ExitCode = 0
	}
	if err == nil && result.ExitCode != 0 {
		err = nonZeroExitError(invocation, result)
	}
	if err != nil {
		var classified *failure.Error
		if !errors.As(err, &classified) {
			err = failure.Wrap(failure.KindSpawn, invocation.Command, "run process", err)
		}
		outcome := outcomeOf(err)
		executor.observe(outcome, duration)
		if executor.loggingService != nil {
			executor.loggingService.Error(logMessageFailed, err,
				logging.String(logFieldInvocationID, invocation.ID),
				logging.String(logFieldCommand, invocation.Command),
				logging.String(logFieldOutcome, outcome),
				logging.Duration(logFieldDuration, duration),
			)
		}
		return result, err
	}
	executor.observe(outcomeSuccess, duration)
	executor.debug(logMessageFinished,
		logging.String(logFieldInvocationID, invocation.ID),
		logging.String(logFieldCommand, invocation.Command),
		logging.Duration(logFieldDuration, duration),
	)
	return result, nil
}

func nonZeroExitError(invocation Invocation, result Result) error {
	diagnostic := strings.TrimSpace(string(result.Stderr))
	if diagnostic == "" {
		diagnostic = strings.TrimSpace(string(result.Stdout))
	}
	return &failure.Error{
		Kind:       failure.KindNonZeroExit,
		Message:    fmt.Sprintf("bosh exited with status %d", result.ExitCode),
		Diagnostic: diagnostic,
		Transient:  transientCategory(diagnostic),
	}
}

// transientCategory recognises network failures reported by the CLI on stderr.
func transientCategory(diagnostic string) failure.Kind {
	lowered := strings.ToLower(diagnostic)
	switch {
	case strings.Contains(lowered, "connection refused"),
		strings.Contains(lowered, "no such host"),
		strings.Contains(lowered, "network is unreachable"),
		strings.Contains(lowered, "connection reset"):
		return failure.KindConnection
	case strings.Contains(lowered, "i/o timeout"),
		strings.Contains(lowered, "tls handshake timeout"):
		return failure.KindTimeout
	default:
		return ""
	}
}

func outcomeOf(err error) string {
	kind, found := failure.KindOf(err)
	if !found {
		return outcomeUnclassified
	}
	return string(kind)
}

// WithJSONFlag appends --json unless command already carries it.
func WithJSONFlag(command string) string {
	if strings.TrimSpace(command) == "" {
		return command
	}
	for _, token := range strings.Fields(command) {
		if token == FlagJSON {
			return command
		}
	}
	return strings.TrimSpace(command) + " " + FlagJSON
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (executor *Executor) observe(outcome string, duration time.Duration) {
	if executor.observer != nil {
		executor.observer.ObserveExecution(outcome, duration)
	}
}

func (executor *Executor) debug(message string, fields ...logging.Field) {
	if executor.loggingService != nil {
		executor.loggingService.Debug(message, fields...)
	}
}

func (executor *Executor) warn(message string, fields ...logging.Field) {
	if executor.loggingService != nil {
		executor.loggingService.Warn(message, fields...)
	}
}
