// Package boshconfig merges explicit settings with secret-folder fallbacks
// into the effective configuration used to invoke the bosh CLI.
package boshconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/boshpulse/internal/failure"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	DefaultBinaryPath = "bosh"
	DefaultTimeout    = 60 * time.Second

	certificateFilePattern    = "bosh-ca-cert-*.pem"
	certificateFileMode       = 0o600
	pemContentMarker          = "-----BEGIN"
	operationResolve          = "resolve configuration"
	logMessageResolved        = "bosh configuration resolved"
	logMessageCleanupFailed   = "failed to remove materialized ca certificate"
	logMessageCertNotPEM      = "inline ca certificate does not look like PEM content"
	logFieldDirector          = "director"
	logFieldClient            = "client"
	logFieldSecretPresent     = "client_secret_present"
	logFieldCertificateSource = "ca_certificate_source"
	logFieldCertificatePath   = "ca_certificate_path"
	logFieldBinaryPath        = "cli_path"
	logFieldTimeout           = "timeout"
)

// CertificateSource records where the effective CA certificate came from.
type CertificateSource string

const (
	CertificateSourceNone          CertificateSource = "none"
	CertificateSourceInline        CertificateSource = "inline"
	CertificateSourcePath          CertificateSource = "path"
	CertificateSourceFolderFile    CertificateSource = "secret-folder-file"
	CertificateSourceFolderPointer CertificateSource = "secret-folder-pointer"
)

// SecretSource supplies fallback values when explicit parameters are blank.
type SecretSource interface {
	Director() string
	Client() string
	ClientSecret() string
	CertificateContent() string
	CertificatePointer() string
}

// Parameters are the explicit inputs, usually populated from flags and environment.
type Parameters struct {
	Director          string
	Client            string
	ClientSecret      string
	CACertificate     string
	CACertificatePath string
	BinaryPath        string
	Timeout           time.Duration
}

// EffectiveConfig is the immutable result of resolution.
type EffectiveConfig struct {
	director          string
	client            string
	clientSecret      string
	caCertificatePath string
	certificateSource CertificateSource
	binaryPath        string
	timeout           time.Duration

	materializedPath string
	closeOnce        sync.Once
	closeErr         error
}

// Director returns the director endpoint.
func (config *EffectiveConfig) Director() string { return config.director }

// Client returns the client identity.
func (config *EffectiveConfig) Client() string { return config.client }

// ClientSecret returns the client secret.
func (config *EffectiveConfig) ClientSecret() string { return config.clientSecret }

// CACertificatePath returns the CA certificate file path, or "" when none was resolved.
func (config *EffectiveConfig) CACertificatePath() string { return config.caCertificatePath }

// CertificateSource returns where the CA certificate came from.
func (config *EffectiveConfig) CertificateSource() CertificateSource { return config.certificateSource }

// BinaryPath returns the statically configured CLI path.
func (config *EffectiveConfig) BinaryPath() string { return config.binaryPath }

// Timeout returns the per-call timeout.
func (config *EffectiveConfig) Timeout() time.Duration { return config.timeout }

// Close removes a materialized certificate file. It is safe to call repeatedly.
func (config *EffectiveConfig) Close() error {
	if config == nil {
		return nil
	}
	config.closeOnce.Do(func() {
		if config.materializedPath == "" {
			return
		}
		removeErr := os.Remove(config.materializedPath)
		if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			config.closeErr = fmt.Errorf("remove %s: %w", config.materializedPath, removeErr)
		}
	})
	return config.closeErr
}

// Resolver builds EffectiveConfig values.
type Resolver struct {
	loggingService *logging.Service
	temporaryDir   string
}

// NewResolver constructs a Resolver that materializes certificates in the default temporary directory.
func NewResolver(loggingService *logging.Service) Resolver {
	return Resolver{loggingService: loggingService}
}

// WithTemporaryDirectory returns a copy that materializes certificates inside directory.
func (resolver Resolver) WithTemporaryDirectory(directory string) Resolver {
	resolver.temporaryDir = directory
	return resolver
}

// Resolve merges parameters with source field by field. A nil source behaves
// like an empty secret folder. Failing to materialize certificate content is fatal.
func (resolver Resolver) Resolve(parameters Parameters, source SecretSource) (*EffectiveConfig, error) {
	if source == nil {
		source = emptySource{}
	}
	config := &EffectiveConfig{
		director:     firstNonBlank(parameters.Director, source.Director()),
		client:       firstNonBlank(parameters.Client, source.Client()),
		clientSecret: firstNonBlank(parameters.ClientSecret, source.ClientSecret()),
		binaryPath:   firstNonBlank(parameters.BinaryPath, DefaultBinaryPath),
		timeout:      parameters.Timeout,
	}
	if config.timeout <= 0 {
		config.timeout = DefaultTimeout
	}

	certificateContent, certificatePath, certificateSource := selectCertificate(parameters, source)
	config.certificateSource = certificateSource
	if certificateSource == CertificateSourceInline && certificateContent != "" && !strings.Contains(certificateContent, pemContentMarker) && resolver.loggingService != nil {
		resolver.loggingService.Warn(logMessageCertNotPEM, logging.String(logFieldCertificateSource, string(certificateSource)))
	}
	switch {
	case certificateContent != "":
		materializedPath, err := resolver.materialize(certificateContent)
		if err != nil {
			return nil, failure.Wrap(failure.KindConfiguration, operationResolve, "materialize ca certificate", err)
		}
		config.caCertificatePath = materializedPath
		config.materializedPath = materializedPath
	case certificatePath != "":
		config.caCertificatePath = certificatePath
	}

	if resolver.loggingService != nil {
		resolver.loggingService.Info(
			logMessageResolved,
			logging.String(logFieldDirector, config.director),
			logging.String(logFieldClient, config.client),
			logging.Bool(logFieldSecretPresent, config.clientSecret != ""),
			logging.String(logFieldCertificateSource, string(config.certificateSource)),
			logging.String(logFieldCertificatePath, config.caCertificatePath),
			logging.String(logFieldBinaryPath, config.binaryPath),
			logging.Duration(logFieldTimeout, config.timeout),
		)
	}
	return config, nil
}

// selectCertificate applies the precedence inline content, explicit path,
// secret-folder bosh.pem, then the secret-folder BOSH_CA_CERT pointer.
// Inline content without a PEM header that names an existing file is used as a path.
func selectCertificate(parameters Parameters, source SecretSource) (string, string, CertificateSource) {
	if content := strings.TrimSpace(parameters.CACertificate); content != "" {
		if !strings.Contains(content, pemContentMarker) && isRegularFile(content) {
			return "", content, CertificateSourceInline
		}
		return content, "", CertificateSourceInline
	}
	if path := strings.TrimSpace(parameters.CACertificatePath); path != "" {
		return "", path, CertificateSourcePath
	}
	if content := strings.TrimSpace(source.CertificateContent()); content != "" {
		return content, "", CertificateSourceFolderFile
	}
	pointer := strings.TrimSpace(source.CertificatePointer())
	if pointer == "" {
		return "", "", CertificateSourceNone
	}
	if strings.Contains(pointer, pemContentMarker) {
		return pointer, "", CertificateSourceFolderPointer
	}
	return "", pointer, CertificateSourceFolderPointer
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (resolver Resolver) materialize(content string) (string, error) {
	file, err := os.CreateTemp(resolver.temporaryDir, certificateFilePattern)
	if err != nil {
		return "", fmt.Errorf("create temporary certificate: %w", err)
	}
	path := file.Name()
	if _, writeErr := file.WriteString(content + "\n"); writeErr != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write temporary certificate: %w", writeErr)
	}
	if closeErr := file.Close(); closeErr != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close temporary certificate: %w", closeErr)
	}
	if chmodErr := os.Chmod(path, certificateFileMode); chmodErr != nil && resolver.loggingService != nil {
		resolver.loggingService.Debug("chmod temporary certificate failed", logging.String(logFieldCertificatePath, path), logging.ErrorField(chmodErr))
	}
	return path, nil
}

// CloseLogged closes config and reports a removal failure through the logger.
func (resolver Resolver) CloseLogged(config *EffectiveConfig) {
	if err := config.Close(); err != nil && resolver.loggingService != nil {
		resolver.loggingService.Warn(logMessageCleanupFailed, logging.ErrorField(err))
	}
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type emptySource struct{}

func (emptySource) Director() string           { return "" }
func (emptySource) Client() string             { return "" }
func (emptySource) ClientSecret() string       { return "" }
func (emptySource) CertificateContent() string { return "" }
func (emptySource) CertificatePointer() string { return "" }
