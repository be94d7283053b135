package mcp

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	websocketBufferSize        = 4096
	logMessageUpgradeFailed    = "websocket upgrade failed"
	logMessageSessionOpened    = "mcp websocket session opened"
	logMessageSessionClosed    = "mcp websocket session closed"
	logMessageUnexpectedClose  = "mcp websocket closed unexpectedly"
	logMessageBinaryFrameSkips = "ignoring non-text websocket frame"
	logFieldRemoteAddress      = "remote_address"
)

// WebSocketHandler upgrades requests and serves one MCP session per connection.
type WebSocketHandler struct {
	server   *Server
	upgrader websocket.Upgrader
	baseCtx  context.Context
}

// NewWebSocketHandler constructs a handler. Sessions end when baseCtx is cancelled
// or the peer disconnects.
func NewWebSocketHandler(baseCtx context.Context, server *Server) *WebSocketHandler {
	return &WebSocketHandler{
		server:  server,
		baseCtx: baseCtx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  websocketBufferSize,
			WriteBufferSize: websocketBufferSize,
		},
	}
}

func (handler *WebSocketHandler) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	connection, err := handler.upgrader.Upgrade(responseWriter, request, nil)
	if err != nil {
		if handler.server.loggingService != nil {
			handler.server.loggingService.Error(logMessageUpgradeFailed, err, logging.String(logFieldRemoteAddress, request.RemoteAddr))
		}
		return
	}
	defer connection.Close()

	sessionContext, cancel := context.WithCancel(handler.baseCtx)
	defer cancel()
	go func() {
		<-sessionContext.Done()
		connection.Close()
	}()

	handler.server.debug(logMessageSessionOpened, logging.String(logFieldRemoteAddress, request.RemoteAddr))
	for {
		messageType, payload, readErr := connection.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) && sessionContext.Err() == nil && handler.server.loggingService != nil {
				handler.server.loggingService.Warn(logMessageUnexpectedClose, logging.String(logFieldRemoteAddress, request.RemoteAddr), logging.ErrorField(readErr))
			}
			handler.server.debug(logMessageSessionClosed, logging.String(logFieldRemoteAddress, request.RemoteAddr))
			return
		}
		if messageType != websocket.TextMessage {
			handler.server.debug(logMessageBinaryFrameSkips, logging.String(logFieldRemoteAddress, request.RemoteAddr))
			continue
		}
		response, respond := handler.server.HandleMessage(sessionContext, payload)
		if !respond {
			continue
		}
		if writeErr := connection.WriteMessage(websocket.TextMessage, response); writeErr != nil {
			handler.server.debug(logMessageSessionClosed, logging.String(logFieldRemoteAddress, request.RemoteAddr), logging.ErrorField(writeErr))
			return
		}
	}
}
