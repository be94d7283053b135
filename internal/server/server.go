// Package server hosts the websocket MCP endpoint together with metrics,
// health and tool documentation over HTTP.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tyemirov/boshpulse/internal/serverdetails"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	PathMCP     = "/mcp"
	PathMetrics = "/metrics"
	PathHealth  = "/healthz"
	PathTools   = "/tools"

	serverHeaderName            = "Server"
	serverHeaderValue           = "boshpulse"
	contentTypeHeaderName       = "Content-Type"
	contentTypeHTML             = "text/html; charset=utf-8"
	contentTypeText             = "text/plain; charset=utf-8"
	consoleRequestTimeLayout    = "02/Jan/2006 15:04:05"
	logFieldProtocol            = "protocol"
	logFieldURL                 = "url"
	logFieldMethod              = "method"
	logFieldPath                = "path"
	logFieldRemote              = "remote"
	logFieldDuration            = "duration"
	logFieldStatus              = "status"
	logMessageServing           = "serving mcp over websocket"
	logMessageShutdownInitiated = "shutdown initiated"
	logMessageShutdownCompleted = "shutdown completed"
	logMessageShutdownFailed    = "shutdown failed"
	logMessageServerError       = "server error"
	logMessageRequestStarted    = "request started"
	logMessageRequestCompleted  = "request completed"
	logMessageCatalogFailed     = "tool catalog rendering failed"
	shutdownGracePeriod         = 3 * time.Second
	readHeaderTimeout           = 15 * time.Second
)

// HealthReporter runs a probe on demand and describes its history.
type HealthReporter interface {
	Check(ctx context.Context) bool
	Report() string
}

// CatalogPage renders the tool documentation.
type CatalogPage interface {
	HTML() ([]byte, error)
}

// Endpoints are the handlers mounted by the server. Nil endpoints are not mounted.
type Endpoints struct {
	MCP     http.Handler
	Metrics http.Handler
	Health  HealthReporter
	Catalog CatalogPage
}

// Configuration describes where to listen.
type Configuration struct {
	BindAddress string
	Port        string
	LoggingType string
}

// Server serves Endpoints over HTTP.
type Server struct {
	loggingService          *logging.Service
	servingAddressFormatter serverdetails.ServingAddressFormatter
	endpoints               Endpoints
}

// New constructs a Server.
func New(loggingService *logging.Service, servingAddressFormatter serverdetails.ServingAddressFormatter, endpoints Endpoints) Server {
	return Server{loggingService: loggingService, servingAddressFormatter: servingAddressFormatter, endpoints: endpoints}
}

// Serve runs the HTTP server until the context is cancelled or an error occurs.
func (server Server) Serve(ctx context.Context, configuration Configuration) error {
	if server.loggingService == nil {
		return errors.New("logging service not configured")
	}
	loggingType := server.loggingService.Type()
	if configuration.LoggingType != "" {
		loggingType = configuration.LoggingType
	}
	normalizedLoggingType, normalizeErr := logging.NormalizeType(loggingType)
	if normalizeErr != nil {
		return fmt.Errorf("normalize logging type: %w", normalizeErr)
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(configuration.BindAddress, configuration.Port),
		Handler:           server.Handler(normalizedLoggingType),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	mcpURL := server.servingAddressFormatter.FormatURLForLogging("ws", configuration.BindAddress, configuration.Port) + PathMCP
	if normalizedLoggingType == logging.TypeConsole {
		server.loggingService.Info(formatConsoleStartMessage(configuration, mcpURL))
	} else {
		server.loggingService.Info(logMessageServing, logging.String(logFieldURL, mcpURL))
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		server.loggingService.Info(logMessageShutdownInitiated)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.loggingService.Error(logMessageShutdownFailed, shutdownErr)
			return fmt.Errorf("shutdown server: %w", shutdownErr)
		}
		server.loggingService.Info(logMessageShutdownCompleted)
		return nil
	case serveErr := <-serverErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			if isAddressInUse(serveErr) {
				friendlyMessage := formatAddressInUseMessage(configuration)
				server.loggingService.Error(friendlyMessage, serveErr)
				return fmt.Errorf("address in use: %s", friendlyMessage)
			}
			server.loggingService.Error(logMessageServerError, serveErr)
			return fmt.Errorf("serve http: %w", serveErr)
		}
		return nil
	}
}

// Handler returns the routed and logged handler tree.
func (server Server) Handler(loggingType string) http.Handler {
	mux := http.NewServeMux()
	if server.endpoints.MCP != nil {
		mux.Handle(PathMCP, server.endpoints.MCP)
	}
	if server.endpoints.Metrics != nil {
		mux.Handle(PathMetrics, server.endpoints.Metrics)
	}
	if server.endpoints.Health != nil {
		mux.HandleFunc(PathHealth, server.serveHealth)
	}
	if server.endpoints.Catalog != nil {
		mux.HandleFunc(PathTools, server.serveCatalog)
	}
	return server.wrapWithLogging(wrapWithHeaders(mux), loggingType)
}

func (server Server) serveHealth(responseWriter http.ResponseWriter, request *http.Request) {
	healthy := server.endpoints.Health.Check(request.Context())
	responseWriter.Header().Set(contentTypeHeaderName, contentTypeText)
	if !healthy {
		responseWriter.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = responseWriter.Write([]byte(server.endpoints.Health.Report()))
}

func (server Server) serveCatalog(responseWriter http.ResponseWriter, request *http.Request) {
	page, err := server.endpoints.Catalog.HTML()
	if err != nil {
		server.loggingService.Error(logMessageCatalogFailed, err)
		http.Error(responseWriter, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	responseWriter.Header().Set(contentTypeHeaderName, contentTypeHTML)
	_, _ = responseWriter.Write(page)
}

func wrapWithHeaders(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.Header().Set(serverHeaderName, serverHeaderValue)
		handler.ServeHTTP(responseWriter, request)
	})
}

func (server Server) wrapWithLogging(handler http.Handler, loggingType string) http.Handler {
	if server.loggingService == nil {
		return handler
	}
	switch loggingType {
	case logging.TypeConsole:
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			recordedWriter := newStatusRecorder(responseWriter)
			startTime := time.Now()
			handler.ServeHTTP(recordedWriter, request)
			server.loggingService.Info(formatConsoleRequestLog(request, recordedWriter.statusCode, recordedWriter.bytesWritten, startTime))
		})
	default:
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			recordedWriter := newStatusRecorder(responseWriter)
			startTime := time.Now()
			server.loggingService.Debug(
				logMessageRequestStarted,
				logging.String(logFieldMethod, request.Method),
				logging.String(logFieldPath, request.URL.Path),
				logging.String(logFieldProtocol, request.Proto),
				logging.String(logFieldRemote, request.RemoteAddr),
			)
			handler.ServeHTTP(recordedWriter, request)
			server.loggingService.Info(
				logMessageRequestCompleted,
				logging.String(logFieldMethod, request.Method),
				logging.String(logFieldPath, request.URL.Path),
				logging.Int(logFieldStatus, recordedWriter.statusCode),
				logging.Duration(logFieldDuration, time.Since(startTime)),
				logging.String(logFieldRemote, request.RemoteAddr),
			)
		})
	}
}

func formatConsoleStartMessage(configuration Configuration, mcpURL string) string {
	bindAddress := configuration.BindAddress
	if strings.TrimSpace(bindAddress) == "" {
		bindAddress = "0.0.0.0"
	}
	return fmt.Sprintf("Serving MCP on %s port %s (%s) ...", bindAddress, configuration.Port, mcpURL)
}

func formatConsoleRequestLog(request *http.Request, statusCode int, bytesWritten int, startTime time.Time) string {
	clientAddress := request.RemoteAddr
	if host, _, err := net.SplitHostPort(clientAddress); err == nil {
		clientAddress = host
	}
	requestTarget := request.URL.RequestURI()
	if requestTarget == "" {
		requestTarget = request.URL.Path
	}
	sizeField := "-"
	if bytesWritten > 0 {
		sizeField = strconv.Itoa(bytesWritten)
	}
	return fmt.Sprintf("%s - - [%s] \"%s %s %s\" %d %s", clientAddress, startTime.Format(consoleRequestTimeLayout), request.Method, requestTarget, request.Proto, statusCode, sizeField)
}

// statusRecorder remembers the status and size of a response. It forwards
// Hijack so that websocket upgrades pass through the logging middleware.
type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func newStatusRecorder(responseWriter http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: responseWriter, statusCode: http.StatusOK}
}

func (recorder *statusRecorder) WriteHeader(statusCode int) {
	recorder.statusCode = statusCode
	recorder.ResponseWriter.WriteHeader(statusCode)
}

func (recorder *statusRecorder) Write(content []byte) (int, error) {
	written, err := recorder.ResponseWriter.Write(content)
	recorder.bytesWritten += written
	return written, err
}

func (recorder *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := recorder.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	recorder.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (recorder *statusRecorder) Flush() {
	if flusher, ok := recorder.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func formatAddressInUseMessage(configuration Configuration) string {
	bindAddress := configuration.BindAddress
	if strings.TrimSpace(bindAddress) == "" {
		bindAddress = "0.0.0.0"
	}
	return fmt.Sprintf("Address already in use: %s:%s", bindAddress, configuration.Port)
}

func isAddressInUse(err error) bool {
	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		return errors.Is(syscallErr.Err, syscall.EADDRINUSE)
	}
	return errors.Is(err, syscall.EADDRINUSE)
}
