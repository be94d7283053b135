// Package installer locates or downloads the bosh CLI at startup.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/tyemirov/boshpulse/internal/failure"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	DefaultBinaryName      = "bosh"
	PinnedVersion          = "7.9.5"
	DefaultDirectoryName   = "bosh-cli"
	downloadURLTemplate    = "https://github.com/cloudfoundry/bosh-cli/releases/download/v%[1]s/bosh-cli-%[1]s-%[2]s-%[3]s%[4]s"
	partialDownloadSuffix  = ".download"
	installDirectoryMode   = 0o755
	executableMode         = 0o755
	executableBits         = 0o111
	windowsOperatingSystem = "windows"
	windowsSuffix          = ".exe"
	operationInstall       = "install bosh cli"

	logMessageUsingConfigured   = "using configured bosh cli"
	logMessageConfiguredMissing = "configured bosh cli is not executable"
	logMessageFoundInPath       = "bosh cli found in PATH"
	logMessageInstallDisabled   = "bosh cli not found and installation disabled"
	logMessageReusingInstalled  = "reusing previously installed bosh cli"
	logMessageDownloading       = "downloading bosh cli"
	logMessageInstalled         = "bosh cli installed"
	logMessageInstallFailed     = "bosh cli installation failed, falling back to PATH lookup"
	logMessageChmodFallback     = "could not mark bosh cli executable"
	logMessageProbeFailed       = "installed bosh cli did not answer --version"
	logFieldPath                = "path"
	logFieldURL                 = "url"
	logFieldVersion             = "version"
	logFieldState               = "state"
)

// InstallState is the installer's progress through resolution.
type InstallState string

const (
	StateNotChecked          InstallState = "not-checked"
	StateUsingConfiguredPath InstallState = "using-configured-path"
	StateFoundInPath         InstallState = "found-in-path"
	StateDownloading         InstallState = "downloading"
	StateInstalled           InstallState = "installed"
	StateFallbackUnresolved  InstallState = "fallback-unresolved"
)

// VersionProber reports whether `<binary> --version` succeeds.
type VersionProber interface {
	Probe(ctx context.Context, binaryPath string) bool
}

// Settings configure an Installer.
type Settings struct {
	ConfiguredPath   string
	Enabled          bool
	InstallDirectory string
	Version          string
	OperatingSystem  string
	Architecture     string
}

// Installer resolves a usable bosh binary once per process.
type Installer struct {
	settings       Settings
	prober         VersionProber
	downloader     Downloader
	loggingService *logging.Service

	resolveOnce  sync.Once
	stateMutex   sync.RWMutex
	state        InstallState
	resolvedPath string
}

// New constructs an Installer. Blank settings fall back to the pinned version,
// the running platform and a bosh-cli directory under the system temp dir.
func New(settings Settings, prober VersionProber, downloader Downloader, loggingService *logging.Service) *Installer {
	if strings.TrimSpace(settings.Version) == "" {
		settings.Version = PinnedVersion
	}
	if strings.TrimSpace(settings.OperatingSystem) == "" {
		settings.OperatingSystem = runtime.GOOS
	}
	if strings.TrimSpace(settings.Architecture) == "" {
		settings.Architecture = runtime.GOARCH
	}
	if strings.TrimSpace(settings.InstallDirectory) == "" {
		settings.InstallDirectory = filepath.Join(os.TempDir(), DefaultDirectoryName)
	}
	settings.ConfiguredPath = strings.TrimSpace(settings.ConfiguredPath)
	return &Installer{
		settings:       settings,
		prober:         prober,
		downloader:     downloader,
		loggingService: loggingService,
		state:          StateNotChecked,
	}
}

// DownloadURL renders the release artifact URL for a version and platform.
func DownloadURL(version string, operatingSystem string, architecture string) string {
	suffix := ""
	if operatingSystem == windowsOperatingSystem {
		suffix = windowsSuffix
	}
	return fmt.Sprintf(downloadURLTemplate, version, operatingSystem, architecture, suffix)
}

// Resolve runs the resolution state machine at most once and returns the published path.
// It never fails: every error degrades to the bare binary name.
func (installer *Installer) Resolve(ctx context.Context) string {
	installer.resolveOnce.Do(func() {
		resolvedPath, finalState := installer.resolve(ctx)
		installer.publish(resolvedPath, finalState)
		installer.info("bosh cli resolution finished", logging.String(logFieldPath, resolvedPath), logging.String(logFieldState, string(finalState)))
	})
	return installer.ResolvedPath()
}

// ResolvedPath returns the published path, or the configured path before resolution.
func (installer *Installer) ResolvedPath() string {
	installer.stateMutex.RLock()
	defer installer.stateMutex.RUnlock()
	if installer.resolvedPath != "" {
		return installer.resolvedPath
	}
	if installer.settings.ConfiguredPath != "" {
		return installer.settings.ConfiguredPath
	}
	return DefaultBinaryName
}

// State returns the current state.
func (installer *Installer) State() InstallState {
	installer.stateMutex.RLock()
	defer installer.stateMutex.RUnlock()
	return installer.state
}

func (installer *Installer) resolve(ctx context.Context) (string, InstallState) {
	configuredPath := installer.settings.ConfiguredPath
	if configuredPath != "" && configuredPath != DefaultBinaryName {
		if isExecutableFile(configuredPath, installer.settings.OperatingSystem) {
			installer.info(logMessageUsingConfigured, logging.String(logFieldPath, configuredPath))
			return configuredPath, StateUsingConfiguredPath
		}
		installer.warn(logMessageConfiguredMissing, logging.String(logFieldPath, configuredPath))
	}

	if installer.prober != nil && installer.prober.Probe(ctx, DefaultBinaryName) {
		installer.info(logMessageFoundInPath)
		return DefaultBinaryName, StateFoundInPath
	}

	if !installer.settings.Enabled {
		installer.warn(logMessageInstallDisabled)
		return DefaultBinaryName, StateFallbackUnresolved
	}

	installer.setState(StateDownloading)
	installedPath, err := installer.install(ctx)
	if err != nil {
		if installer.loggingService != nil {
			installer.loggingService.Error(logMessageInstallFailed, err)
		}
		return DefaultBinaryName, StateFallbackUnresolved
	}
	return installedPath, StateInstalled
}

func (installer *Installer) install(ctx context.Context) (string, error) {
	if installer.downloader == nil {
		return "", failure.New(failure.KindInstaller, operationInstall, "no downloader configured")
	}
	directory := installer.settings.InstallDirectory
	if err := os.MkdirAll(directory, installDirectoryMode); err != nil {
		return "", failure.Wrap(failure.KindInstaller, operationInstall, "create install directory", err)
	}
	targetPath := filepath.Join(directory, installer.binaryFileName())
	if isExecutableFile(targetPath, installer.settings.OperatingSystem) {
		installer.info(logMessageReusingInstalled, logging.String(logFieldPath, targetPath))
		return targetPath, nil
	}

	downloadURL := DownloadURL(installer.settings.Version, installer.settings.OperatingSystem, installer.settings.Architecture)
	installer.info(logMessageDownloading, logging.String(logFieldURL, downloadURL), logging.String(logFieldVersion, installer.settings.Version))
	if err := installer.downloadTo(ctx, downloadURL, targetPath); err != nil {
		return "", failure.Wrap(failure.KindInstaller, operationInstall, "download "+downloadURL, err)
	}
	installer.makeExecutable(targetPath)

	if installer.prober != nil && !installer.prober.Probe(ctx, targetPath) {
		installer.warn(logMessageProbeFailed, logging.String(logFieldPath, targetPath))
	}
	installer.info(logMessageInstalled, logging.String(logFieldPath, targetPath), logging.String(logFieldVersion, installer.settings.Version))
	return targetPath, nil
}

// downloadTo streams into a sibling partial file and renames it into place,
// so an interrupted download never looks installed.
func (installer *Installer) downloadTo(ctx context.Context, downloadURL string, targetPath string) error {
	partialPath := targetPath + partialDownloadSuffix
	partialFile, err := os.OpenFile(partialPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", partialPath, err)
	}
	downloadErr := installer.downloader.Download(ctx, downloadURL, partialFile)
	closeErr := partialFile.Close()
	if downloadErr == nil {
		downloadErr = closeErr
	}
	if downloadErr != nil {
		_ = os.Remove(partialPath)
		return downloadErr
	}
	if err := os.Rename(partialPath, targetPath); err != nil {
		_ = os.Remove(partialPath)
		return fmt.Errorf("rename %s: %w", partialPath, err)
	}
	return nil
}

func (installer *Installer) makeExecutable(path string) {
	chmodErr := os.Chmod(path, executableMode)
	if chmodErr == nil {
		return
	}
	info, statErr := os.Stat(path)
	if statErr == nil {
		chmodErr = os.Chmod(path, info.Mode().Perm()|executableBits)
		if chmodErr == nil {
			return
		}
	} else {
		chmodErr = errors.Join(chmodErr, statErr)
	}
	installer.warn(logMessageChmodFallback, logging.String(logFieldPath, path), logging.ErrorField(chmodErr))
}

func (installer *Installer) binaryFileName() string {
	if installer.settings.OperatingSystem == windowsOperatingSystem {
		return DefaultBinaryName + windowsSuffix
	}
	return DefaultBinaryName
}

func (installer *Installer) publish(resolvedPath string, state InstallState) {
	installer.stateMutex.Lock()
	defer installer.stateMutex.Unlock()
	installer.resolvedPath = resolvedPath
	installer.state = state
}

func (installer *Installer) setState(state InstallState) {
	installer.stateMutex.Lock()
	defer installer.stateMutex.Unlock()
	installer.state = state
}

func isExecutableFile(path string, operatingSystem string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if operatingSystem == windowsOperatingSystem {
		return true
	}
	return info.Mode().Perm()&executableBits != 0
}

func (installer *Installer) info(message string, fields ...logging.Field) {
	if installer.loggingService != nil {
		installer.loggingService.Info(message, fields...)
	}
}

func (installer *Installer) warn(message string, fields ...logging.Field) {
	if installer.loggingService != nil {
		installer.loggingService.Warn(message, fields...)
	}
}
