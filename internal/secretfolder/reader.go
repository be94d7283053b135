// Package secretfolder reads fallback bosh credentials from a local directory.
package secretfolder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	DefaultDirectory       = ".env"
	EnvironmentFileName    = "bosh-env.ini"
	CertificateFileName    = "bosh.pem"
	KeyDirector            = "BOSH_ENVIRONMENT"
	KeyClient              = "BOSH_CLIENT"
	KeyClientSecret        = "BOSH_CLIENT_SECRET"
	KeyCertificate         = "BOSH_CA_CERT"
	exportPrefix           = "export "
	commentPrefix          = "#"
	certificatePointerPath = "/" + CertificateFileName

	logMessageSecretFolderLoaded  = "secret folder loaded"
	logMessageSecretFolderMissing = "secret folder file unavailable"
	logFieldPath                  = "path"
	logFieldKeys                  = "keys"
	logFieldCertificatePresent    = "ca_certificate_present"
)

// Reader lazily loads bosh-env.ini and bosh.pem from a directory. Loading
// happens at most once; later calls reuse the first result.
type Reader struct {
	directory      string
	loggingService *logging.Service

	loadOnce    sync.Once
	values      map[string]string
	certificate string
}

// NewReader constructs a Reader for the provided directory.
func NewReader(directory string, loggingService *logging.Service) *Reader {
	trimmed := strings.TrimSpace(directory)
	if trimmed == "" {
		trimmed = DefaultDirectory
	}
	return &Reader{directory: trimmed, loggingService: loggingService, values: map[string]string{}}
}

// Directory returns the folder consulted by the reader.
func (reader *Reader) Directory() string {
	return reader.directory
}

// Load reads both files once. Missing or unreadable files leave the reader empty.
func (reader *Reader) Load() {
	reader.loadOnce.Do(func() {
		environmentPath := filepath.Join(reader.directory, EnvironmentFileName)
		values, err := readEnvironmentFile(environmentPath)
		if err != nil {
			reader.logUnavailable(environmentPath, err)
		} else {
			reader.values = values
		}
		certificatePath := filepath.Join(reader.directory, CertificateFileName)
		certificateContent, err := os.ReadFile(certificatePath)
		if err != nil {
			reader.logUnavailable(certificatePath, err)
		} else {
			reader.certificate = strings.TrimSpace(string(certificateContent))
		}
		if reader.loggingService != nil {
			keys := make([]string, 0, len(reader.values))
			for key := range reader.values {
				keys = append(keys, key)
			}
			reader.loggingService.Debug(
				logMessageSecretFolderLoaded,
				logging.String(logFieldPath, reader.directory),
				logging.Strings(logFieldKeys, keys),
				logging.Bool(logFieldCertificatePresent, reader.certificate != ""),
			)
		}
	})
}

// Value returns a key from bosh-env.ini.
func (reader *Reader) Value(key string) (string, bool) {
	reader.Load()
	value, found := reader.values[key]
	return value, found
}

// Director returns BOSH_ENVIRONMENT.
func (reader *Reader) Director() string {
	value, _ := reader.Value(KeyDirector)
	return value
}

// Client returns BOSH_CLIENT.
func (reader *Reader) Client() string {
	value, _ := reader.Value(KeyClient)
	return value
}

// ClientSecret returns BOSH_CLIENT_SECRET.
func (reader *Reader) ClientSecret() string {
	value, _ := reader.Value(KeyClientSecret)
	return value
}

// CertificateContent returns the trimmed content of bosh.pem.
func (reader *Reader) CertificateContent() string {
	reader.Load()
	return reader.certificate
}

// CertificatePointer resolves BOSH_CA_CERT when it names the bundled bosh.pem.
// Any other value is returned unchanged.
func (reader *Reader) CertificatePointer() string {
	pointer, found := reader.Value(KeyCertificate)
	if !found || strings.TrimSpace(pointer) == "" {
		return ""
	}
	if pointer == CertificateFileName || strings.HasSuffix(pointer, certificatePointerPath) {
		return reader.CertificateContent()
	}
	return pointer
}

// Available reports whether either file yielded data.
func (reader *Reader) Available() bool {
	reader.Load()
	return len(reader.values) > 0 || reader.certificate != ""
}

func (reader *Reader) logUnavailable(path string, err error) {
	if reader.loggingService == nil {
		return
	}
	if errors.Is(err, fs.ErrNotExist) {
		reader.loggingService.Debug(logMessageSecretFolderMissing, logging.String(logFieldPath, path))
		return
	}
	reader.loggingService.Warn(logMessageSecretFolderMissing, logging.String(logFieldPath, path), logging.ErrorField(err))
}

func readEnvironmentFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	values, parseErr := ParseEnvironment(file)
	if parseErr != nil {
		return nil, fmt.Errorf("parse %s: %w", path, parseErr)
	}
	return values, nil
}

// ParseEnvironment parses `export KEY=value` lines. Blank lines, comments and
// lines without the export prefix are skipped; one pair of matching quotes is stripped.
func ParseEnvironment(source io.Reader) (map[string]string, error) {
	values := map[string]string{}
	scanner := bufio.NewScanner(source)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, commentPrefix) || !strings.HasPrefix(line, exportPrefix) {
			continue
		}
		assignment := strings.TrimSpace(strings.TrimPrefix(line, exportPrefix))
		key, value, found := strings.Cut(assignment, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = stripQuotes(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func stripQuotes(value string) string {
	if len(value) < 2 {
		return value
	}
	first := value[0]
	last := value[len(value)-1]
	if (first == '"' || first == '\'') && first == last {
		return value[1 : len(value)-1]
	}
	return value
}
