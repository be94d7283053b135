package installer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tyemirov/boshpulse/internal/executor"
)

const (
	ConnectTimeout  = 30 * time.Second
	ReadTimeout     = 60 * time.Second
	ProbeTimeout    = 5 * time.Second
	userAgentHeader = "User-Agent"
	userAgentValue  = "boshpulse-installer"
)

// Downloader copies the body at url into destination.
type Downloader interface {
	Download(ctx context.Context, url string, destination io.Writer) error
}

// HTTPDownloader fetches release artifacts over HTTP(S). The read timeout
// applies to every stalled read, not to the whole transfer.
type HTTPDownloader struct {
	client      *http.Client
	readTimeout time.Duration
}

// NewHTTPDownloader constructs an HTTPDownloader with the installer's connect and read timeouts.
func NewHTTPDownloader() HTTPDownloader {
	return NewHTTPDownloaderWithTimeouts(ConnectTimeout, ReadTimeout)
}

// NewHTTPDownloaderWithTimeouts constructs an HTTPDownloader with explicit timeouts.
func NewHTTPDownloaderWithTimeouts(connectTimeout time.Duration, readTimeout time.Duration) HTTPDownloader {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
	}
	return HTTPDownloader{client: &http.Client{Transport: transport}, readTimeout: readTimeout}
}

// Download streams the response body of a GET request into destination.
func (downloader HTTPDownloader) Download(ctx context.Context, url string, destination io.Writer) error {
	requestContext, cancel := context.WithCancel(ctx)
	defer cancel()
	request, err := http.NewRequestWithContext(requestContext, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set(userAgentHeader, userAgentValue)
	response, err := downloader.client.Do(request)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %s", url, response.Status)
	}

	stallTimer := time.AfterFunc(downloader.readTimeout, cancel)
	defer stallTimer.Stop()
	body := &stallGuardReader{reader: response.Body, timer: stallTimer, timeout: downloader.readTimeout}
	if _, err := io.Copy(destination, body); err != nil {
		if requestContext.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("read %s: no data for %s: %w", url, downloader.readTimeout, err)
		}
		return fmt.Errorf("read %s: %w", url, err)
	}
	return nil
}

type stallGuardReader struct {
	reader  io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (guard *stallGuardReader) Read(buffer []byte) (int, error) {
	count, err := guard.reader.Read(buffer)
	if count > 0 {
		guard.timer.Reset(guard.timeout)
	}
	return count, err
}

// ProcessVersionProber runs `<binary> --version` through a ProcessRunner.
type ProcessVersionProber struct {
	runner  executor.ProcessRunner
	timeout time.Duration
}

// NewProcessVersionProber constructs a prober over runner.
func NewProcessVersionProber(runner executor.ProcessRunner) ProcessVersionProber {
	return ProcessVersionProber{runner: runner, timeout: ProbeTimeout}
}

// Probe reports whether the version command starts and exits zero within the probe timeout.
func (prober ProcessVersionProber) Probe(ctx context.Context, binaryPath string) bool {
	result, err := prober.runner.Run(ctx, executor.Invocation{
		Command:   executor.FlagVersion,
		Arguments: []string{binaryPath, executor.FlagVersion},
		Timeout:   prober.timeout,
	})
	return err == nil && result.ExitCode == 0
}
