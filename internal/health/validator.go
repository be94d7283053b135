// Package health validates the resolved configuration at startup and probes
// the director on demand.
package health

import (
	"context"
	"errors"
	"strings"

	"github.com/tyemirov/boshpulse/internal/failure"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	operationValidate = "validate configuration"

	logMessageCertificateMissing = "no CA certificate configured, relying on system trust store"
	logMessageConnectionWarning  = "director connection test failed, continuing startup"
	logMessageValidated          = "bosh configuration validated"
	logFieldDirector             = "director"
)

var (
	errDirectorMissing     = errors.New("director endpoint is not configured (BOSH_DIRECTOR or BOSH_ENVIRONMENT in the secret folder)")
	errClientMissing       = errors.New("client identity is not configured (BOSH_CLIENT)")
	errClientSecretMissing = errors.New("client secret is not configured (BOSH_CLIENT_SECRET)")
	errCLIUnavailable      = errors.New("bosh cli is not available")
)

// Settings is the part of the effective configuration that validation inspects.
type Settings interface {
	Director() string
	Client() string
	ClientSecret() string
	CACertificatePath() string
}

// Checker performs the live checks, normally the command executor.
type Checker interface {
	IsAvailable(ctx context.Context) bool
	TestConnection(ctx context.Context) bool
}

// Validator runs the startup checks.
type Validator struct {
	settings       Settings
	checker        Checker
	loggingService *logging.Service
}

// NewValidator constructs a Validator.
func NewValidator(settings Settings, checker Checker, loggingService *logging.Service) Validator {
	return Validator{settings: settings, checker: checker, loggingService: loggingService}
}

// Validate returns a configuration failure listing every missing mandatory
// field and an unavailable CLI. A missing CA certificate and a failed
// connection test only produce warnings.
func (validator Validator) Validate(ctx context.Context) error {
	var problems []error
	if strings.TrimSpace(validator.settings.Director()) == "" {
		problems = append(problems, errDirectorMissing)
	}
	if strings.TrimSpace(validator.settings.Client()) == "" {
		problems = append(problems, errClientMissing)
	}
	if strings.TrimSpace(validator.settings.ClientSecret()) == "" {
		problems = append(problems, errClientSecretMissing)
	}
	if strings.TrimSpace(validator.settings.CACertificatePath()) == "" {
		validator.warn(logMessageCertificateMissing)
	}
	if !validator.checker.IsAvailable(ctx) {
		problems = append(problems, errCLIUnavailable)
	}
	if len(problems) > 0 {
		return failure.Wrap(failure.KindConfiguration, operationValidate, "configuration incomplete", errors.Join(problems...))
	}
	if !validator.checker.TestConnection(ctx) {
		validator.warn(logMessageConnectionWarning, logging.String(logFieldDirector, validator.settings.Director()))
		return nil
	}
	if validator.loggingService != nil {
		validator.loggingService.Info(logMessageValidated, logging.String(logFieldDirector, validator.settings.Director()))
	}
	return nil
}

func (validator Validator) warn(message string, fields ...logging.Field) {
	if validator.loggingService != nil {
		validator.loggingService.Warn(message, fields...)
	}
}
