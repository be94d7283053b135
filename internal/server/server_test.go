package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tyemirov/boshpulse/internal/serverdetails"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

type stubHealth struct {
	healthy bool
	checks  int
}

func (health *stubHealth) Check(ctx context.Context) bool {
	health.checks++
	return health.healthy
}

func (health *stubHealth) Report() string {
	if health.healthy {
		return "status: HEALTHY\n"
	}
	return "status: UNHEALTHY\n"
}

type stubCatalog struct {
	err error
}

func (catalog stubCatalog) HTML() ([]byte, error) {
	if catalog.err != nil {
		return nil, catalog.err
	}
	return []byte("<h2>listVms</h2>"), nil
}

func echoWebSocket(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		connection, err := upgrader.Upgrade(responseWriter, request, nil)
		if err != nil {
			t.Errorf("upgrade through middleware failed: %v", err)
			return
		}
		defer connection.Close()
		messageType, payload, err := connection.ReadMessage()
		if err != nil {
			return
		}
		_ = connection.WriteMessage(messageType, append([]byte("echo: "), payload...))
	})
}

func newTestServer(health *stubHealth, catalog CatalogPage, mcpHandler http.Handler) Server {
	return New(logging.NewTestService(logging.TypeConsole), serverdetails.NewServingAddressFormatter(), Endpoints{
		MCP:     mcpHandler,
		Metrics: http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) { io.WriteString(responseWriter, "boshpulse_up 1\n") }),
		Health:  health,
		Catalog: catalog,
	})
}

func TestHandlerRoutes(t *testing.T) {
	testCases := []struct {
		name                string
		path                string
		health              *stubHealth
		catalog             CatalogPage
		expectedStatus      int
		expectedBody        string
		expectedContentType string
	}{
		{name: "healthy", path: PathHealth, health: &stubHealth{healthy: true}, catalog: stubCatalog{}, expectedStatus: http.StatusOK, expectedBody: "status: HEALTHY", expectedContentType: "text/plain"},
		{name: "unhealthy", path: PathHealth, health: &stubHealth{}, catalog: stubCatalog{}, expectedStatus: http.StatusServiceUnavailable, expectedBody: "status: UNHEALTHY", expectedContentType: "text/plain"},
		{name: "metrics", path: PathMetrics, health: &stubHealth{}, catalog: stubCatalog{}, expectedStatus: http.StatusOK, expectedBody: "boshpulse_up 1"},
		{name: "catalog", path: PathTools, health: &stubHealth{}, catalog: stubCatalog{}, expectedStatus: http.StatusOK, expectedBody: "<h2>listVms</h2>", expectedContentType: "text/html"},
		{name: "catalog failure", path: PathTools, health: &stubHealth{}, catalog: stubCatalog{err: errors.New("render")}, expectedStatus: http.StatusInternalServerError},
		{name: "unknown path", path: "/index.html", health: &stubHealth{}, catalog: stubCatalog{}, expectedStatus: http.StatusNotFound},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			handler := newTestServer(testCase.health, testCase.catalog, nil).Handler(logging.TypeJSON)
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, testCase.path, nil))
			if recorder.Code != testCase.expectedStatus {
				t.Fatalf("expected status %d, got %d", testCase.expectedStatus, recorder.Code)
			}
			if recorder.Header().Get(serverHeaderName) != serverHeaderValue {
				t.Fatalf("expected server header, got %q", recorder.Header().Get(serverHeaderName))
			}
			if !strings.Contains(recorder.Body.String(), testCase.expectedBody) {
				t.Fatalf("expected body to contain %q, got %q", testCase.expectedBody, recorder.Body.String())
			}
			if !strings.Contains(recorder.Header().Get(contentTypeHeaderName), testCase.expectedContentType) {
				t.Fatalf("expected content type %q, got %q", testCase.expectedContentType, recorder.Header().Get(contentTypeHeaderName))
			}
		})
	}
}

func TestHandlerRunsHealthProbeOnEveryRequest(t *testing.T) {
	health := &stubHealth{healthy: true}
	handler := newTestServer(health, stubCatalog{}, nil).Handler(logging.TypeConsole)
	for index := 0; index < 2; index++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, PathHealth, nil))
	}
	if health.checks != 2 {
		t.Fatalf("expected two probes, got %d", health.checks)
	}
}

func TestWebSocketUpgradeThroughLoggingMiddleware(t *testing.T) {
	for _, loggingType := range []string{logging.TypeConsole, logging.TypeJSON} {
		loggingType := loggingType
		t.Run(loggingType, func(t *testing.T) {
			httpServer := httptest.NewServer(newTestServer(&stubHealth{}, stubCatalog{}, echoWebSocket(t)).Handler(loggingType))
			defer httpServer.Close()

			connection, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http")+PathMCP, nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer connection.Close()
			if err := connection.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				t.Fatalf("write: %v", err)
			}
			connection.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, payload, err := connection.ReadMessage()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(payload) != "echo: ping" {
				t.Fatalf("expected echo, got %q", payload)
			}
		})
	}
}

func TestServeStopsWhenContextIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	serveResult := make(chan error, 1)
	go func() {
		serveResult <- newTestServer(&stubHealth{}, stubCatalog{}, nil).Serve(ctx, Configuration{BindAddress: "127.0.0.1", Port: "0", LoggingType: logging.TypeConsole})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-serveResult:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop after cancellation")
	}
}

func TestServeReportsAddressInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	port := strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = newTestServer(&stubHealth{}, stubCatalog{}, nil).Serve(ctx, Configuration{BindAddress: "127.0.0.1", Port: port})
	if err == nil || !strings.Contains(err.Error(), "address in use") {
		t.Fatalf("expected address in use error, got %v", err)
	}
}

func TestServeRejectsUnknownLoggingType(t *testing.T) {
	err := newTestServer(&stubHealth{}, stubCatalog{}, nil).Serve(context.Background(), Configuration{Port: "0", LoggingType: "xml"})
	if err == nil || !strings.Contains(err.Error(), "normalize logging type") {
		t.Fatalf("expected logging type error, got %v", err)
	}
}

func TestFormatConsoleRequestLog(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/healthz?verbose=1", nil)
	request.RemoteAddr = "192.0.2.10:51234"
	startTime := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	expected := `192.0.2.10 - - [04/Mar/2026 05:06:07] "GET /healthz?verbose=1 HTTP/1.1" 503 17`
	if actual := formatConsoleRequestLog(request, http.StatusServiceUnavailable, 17, startTime); actual != expected {
		t.Fatalf("expected %q, got %q", expected, actual)
	}
}
