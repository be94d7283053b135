package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tyemirov/boshpulse/internal/failure"
	"github.com/tyemirov/boshpulse/internal/tools"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	outcomeSuccess = "success"
	outcomeUnknown = "unclassified"

	logMessageRequest       = "mcp request received"
	logMessageMalformed     = "mcp message rejected"
	logMessageToolFailed    = "tool call failed"
	logMessageToolSucceeded = "tool call finished"
	logMessageStreamClosed  = "mcp stream closed"
	logFieldMethod          = "method"
	logFieldTool            = "tool"
	logFieldDuration        = "duration"
	logFieldCode            = "code"
	logFieldReason          = "reason"
)

// Catalog lists and runs tools. *tools.Registry satisfies it.
type Catalog interface {
	Tools() []tools.Tool
	Call(ctx context.Context, name string, arguments tools.Arguments) (string, error)
}

// Observer is notified after every tool call.
type Observer interface {
	ObserveToolCall(tool string, outcome string, duration time.Duration)
}

// Server answers MCP requests one at a time per connection.
type Server struct {
	catalog        Catalog
	info           ServerInfo
	loggingService *logging.Service
	observer       Observer
}

// NewServer constructs a Server.
func NewServer(catalog Catalog, info ServerInfo, loggingService *logging.Service, observer Observer) *Server {
	return &Server{catalog: catalog, info: info, loggingService: loggingService, observer: observer}
}

// HandleMessage processes one encoded message. The boolean is false when the
// message was a notification and nothing must be written back.
func (server *Server) HandleMessage(ctx context.Context, payload []byte) ([]byte, bool) {
	response, respond := server.handle(ctx, payload)
	if !respond {
		return nil, false
	}
	encoded, err := json.Marshal(response)
	if err != nil {
		fallback := Response{JSONRPC: jsonRPCVersion, ID: response.ID, Error: &ErrorResponse{Code: CodeInternalError, Message: err.Error()}}
		encoded, _ = json.Marshal(fallback)
	}
	return encoded, true
}

func (server *Server) handle(ctx context.Context, payload []byte) (Response, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return server.protocolError(nullID, CodeInvalidRequest, "batch requests are not supported"), true
	}
	var request Request
	if err := json.Unmarshal(trimmed, &request); err != nil {
		return server.protocolError(nullID, CodeParseError, "parse error: "+err.Error()), true
	}
	if request.JSONRPC != jsonRPCVersion || request.Method == "" {
		return server.protocolError(idOrNull(request.ID), CodeInvalidRequest, "invalid request"), true
	}
	server.debug(logMessageRequest, logging.String(logFieldMethod, request.Method))
	if request.IsNotification() {
		return Response{}, false
	}

	switch request.Method {
	case MethodInitialize:
		return server.result(request.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
			ServerInfo:      server.info,
		}), true
	case MethodPing:
		return server.result(request.ID, map[string]any{}), true
	case MethodToolsList:
		return server.result(request.ID, server.listTools()), true
	case MethodToolsCall:
		return server.callTool(ctx, request), true
	default:
		return server.protocolError(request.ID, CodeMethodNotFound, "method not found: "+request.Method), true
	}
}

func (server *Server) listTools() ToolsListResult {
	registered := server.catalog.Tools()
	definitions := make([]ToolDefinition, 0, len(registered))
	for _, tool := range registered {
		definitions = append(definitions, ToolDefinition{Name: tool.Name, Description: tool.Description, InputSchema: tool.InputSchema()})
	}
	return ToolsListResult{Tools: definitions}
}

func (server *Server) callTool(ctx context.Context, request Request) Response {
	var params ToolCallParams
	if len(request.Params) == 0 {
		return server.protocolError(request.ID, CodeInvalidParams, "tools/call requires params")
	}
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return server.protocolError(request.ID, CodeInvalidParams, "invalid tools/call params: "+err.Error())
	}
	if params.Name == "" {
		return server.protocolError(request.ID, CodeInvalidParams, "tools/call requires a tool name")
	}

	startedAt := time.Now()
	text, err := server.catalog.Call(ctx, params.Name, tools.Arguments(params.Arguments))
	duration := time.Since(startedAt)
	if errors.Is(err, tools.ErrUnknownTool) {
		return server.protocolError(request.ID, CodeInvalidParams, err.Error())
	}
	server.observe(params.Name, err, duration)
	if err != nil {
		if server.loggingService != nil {
			server.loggingService.Error(logMessageToolFailed, err, logging.String(logFieldTool, params.Name), logging.Duration(logFieldDuration, duration))
		}
		return server.result(request.ID, ToolCallResult{Content: []ContentBlock{{Type: contentTypeText, Text: err.Error()}}, IsError: true})
	}
	if server.loggingService != nil {
		server.loggingService.Info(logMessageToolSucceeded, logging.String(logFieldTool, params.Name), logging.Duration(logFieldDuration, duration))
	}
	return server.result(request.ID, ToolCallResult{Content: []ContentBlock{{Type: contentTypeText, Text: text}}})
}

// ServeStream reads newline-delimited messages from reader and writes one
// response line per request to writer until EOF or cancellation.
func (server *Server) ServeStream(ctx context.Context, reader io.Reader, writer io.Writer) error {
	bufferedReader := bufio.NewReader(reader)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := bufferedReader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if response, respond := server.HandleMessage(ctx, line); respond {
				if _, err := writer.Write(append(response, '\n')); err != nil {
					return fmt.Errorf("write mcp response: %w", err)
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				server.debug(logMessageStreamClosed)
				return nil
			}
			return fmt.Errorf("read mcp request: %w", readErr)
		}
	}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

func (server *Server) result(id json.RawMessage, result any) Response {
	return Response{JSONRPC: jsonRPCVersion, ID: id, Result: result}
}

func (server *Server) protocolError(id json.RawMessage, code int, message string) Response {
	if server.loggingService != nil {
		server.loggingService.Warn(logMessageMalformed, logging.Int(logFieldCode, code), logging.String(logFieldReason, message))
	}
	return Response{JSONRPC: jsonRPCVersion, ID: id, Error: &ErrorResponse{Code: code, Message: message}}
}

func (server *Server) observe(tool string, err error, duration time.Duration) {
	if server.observer == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeUnknown
		if kind, found := failure.KindOf(err); found {
			outcome = string(kind)
		}
	}
	server.observer.ObserveToolCall(tool, outcome, duration)
}

func (server *Server) debug(message string, fields ...logging.Field) {
	if server.loggingService != nil {
		server.loggingService.Debug(message, fields...)
	}
}
