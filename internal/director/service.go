// Package director exposes the BOSH director operations offered to agents.
// Every operation validates its parameters before any process is spawned and
// runs the CLI call under the retry policy.
package director

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/tyemirov/boshpulse/internal/executor"
	"github.com/tyemirov/boshpulse/internal/failure"
	"github.com/tyemirov/boshpulse/internal/retry"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	logMessageStarted   = "director operation started"
	logMessageSucceeded = "director operation finished"
	logMessageFailed    = "director operation failed"
	logFieldOperation   = "operation"
	logFieldCommand     = "command"

	flagDeployment = "-d"
	flagForce      = "--force"
)

// Commander runs bosh commands. *executor.Executor satisfies it.
type Commander interface {
	ExecuteArguments(ctx context.Context, tokens []string) (string, error)
	ExecuteFollow(ctx context.Context, tokens []string) (string, error)
	ExecuteStructured(ctx context.Context, command string) (*executor.Output, error)
}

// Service implements the director operations.
type Service struct {
	commander      Commander
	policy         retry.Policy
	loggingService *logging.Service
}

// NewService constructs a Service.
func NewService(commander Commander, policy retry.Policy, loggingService *logging.Service) *Service {
	if policy.LoggingService == nil {
		policy.LoggingService = loggingService
	}
	return &Service{commander: commander, policy: policy, loggingService: loggingService}
}

func (service *Service) run(ctx context.Context, operation string, tokens []string) (string, error) {
	command := strings.Join(tokens, " ")
	service.logStarted(operation, command)
	output, err := retry.Do(ctx, service.policy, operation, func(attemptContext context.Context) (string, error) {
		return service.commander.ExecuteArguments(attemptContext, tokens)
	})
	service.logFinished(operation, command, err)
	return output, err
}

// runFollow is attempted once; the end of the follow window is a normal result.
func (service *Service) runFollow(ctx context.Context, operation string, tokens []string) (string, error) {
	command := strings.Join(tokens, " ")
	service.logStarted(operation, command)
	output, err := service.commander.ExecuteFollow(ctx, tokens)
	service.logFinished(operation, command, err)
	return output, err
}

func (service *Service) runStructured(ctx context.Context, operation string, tokens []string) (*executor.Output, error) {
	command := strings.Join(tokens, " ")
	service.logStarted(operation, command)
	output, err := retry.Do(ctx, service.policy, operation, func(attemptContext context.Context) (*executor.Output, error) {
		return service.commander.ExecuteStructured(attemptContext, command)
	})
	service.logFinished(operation, command, err)
	return output, err
}

func (service *Service) logStarted(operation string, command string) {
	if service.loggingService == nil {
		return
	}
	service.loggingService.Info(logMessageStarted, logging.String(logFieldOperation, operation), logging.String(logFieldCommand, command))
}

func (service *Service) logFinished(operation string, command string, err error) {
	if service.loggingService == nil {
		return
	}
	if err != nil {
		service.loggingService.Error(logMessageFailed, err, logging.String(logFieldOperation, operation), logging.String(logFieldCommand, command))
		return
	}
	service.loggingService.Info(logMessageSucceeded, logging.String(logFieldOperation, operation), logging.String(logFieldCommand, command))
}

// requireValue rejects a blank parameter.
func requireValue(operation string, label string, value string) error {
	if strings.TrimSpace(value) == "" {
		return failure.Validationf(operation, "%s is required", label)
	}
	return nil
}

// requireName rejects a blank parameter or one that would split into several arguments.
func requireName(operation string, label string, value string) error {
	if err := requireValue(operation, label, value); err != nil {
		return err
	}
	if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return failure.Validationf(operation, "%s must not contain whitespace", label)
	}
	return nil
}

// optionalName accepts a blank value but otherwise applies requireName.
func optionalName(operation string, label string, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return requireName(operation, label, value)
}

// requireYAMLFile checks that path names a readable file holding a YAML document.
func requireYAMLFile(operation string, label string, path string) error {
	if err := requireValue(operation, label, path); err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return failure.Validationf(operation, "%s %s does not exist", label, path)
		}
		return failure.Wrap(failure.KindValidation, operation, fmt.Sprintf("%s %s is not readable", label, path), err)
	}
	var document yaml.Node
	if err := yaml.Unmarshal(content, &document); err != nil {
		return failure.Wrap(failure.KindValidation, operation, fmt.Sprintf("%s %s is not valid YAML", label, path), err)
	}
	if len(document.Content) == 0 {
		return failure.Validationf(operation, "%s %s is empty", label, path)
	}
	return nil
}

// requireArtifact accepts an http(s) URL or a path to an existing regular file.
func requireArtifact(operation string, label string, path string) error {
	if err := requireValue(operation, label, path); err != nil {
		return err
	}
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return failure.Validationf(operation, "%s %s does not exist", label, path)
		}
		return failure.Wrap(failure.KindValidation, operation, fmt.Sprintf("%s %s is not accessible", label, path), err)
	}
	if info.IsDir() {
		return failure.Validationf(operation, "%s %s is a directory", label, path)
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// instanceTarget renders group or group/id.
func instanceTarget(instanceGroup string, instanceID string) string {
	if strings.TrimSpace(instanceID) == "" {
		return instanceGroup
	}
	return instanceGroup + "/" + instanceID
}

// versionedName renders name or name/version.
func versionedName(name string, version string) string {
	if strings.TrimSpace(version) == "" {
		return name
	}
	return name + "/" + version
}
