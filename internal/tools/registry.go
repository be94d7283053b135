// Package tools describes the director operations as named, self-describing
// tools and dispatches calls to them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tyemirov/boshpulse/internal/failure"
	"github.com/tyemirov/boshpulse/internal/markdown"
)

const (
	schemaTypeObject = "object"
	schemaTypeString = "string"
	catalogTitle     = "boshpulse tools"
)

// ErrUnknownTool is returned by Call for a name that was never registered.
var ErrUnknownTool = errors.New("unknown tool")

// Parameter is one named string argument of a tool.
type Parameter struct {
	Name        string
	Description string
	Required    bool
}

// Arguments are the caller supplied values keyed by parameter name.
type Arguments map[string]any

// String returns the argument as text. Integral numbers are rendered without a
// fractional part so that task ids sent as JSON numbers still work.
func (arguments Arguments) String(name string) string {
	value, found := arguments[name]
	if !found || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		if typed == math.Trunc(typed) {
			return strconv.FormatFloat(typed, 'f', 0, 64)
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

// Handler executes a tool and returns its textual result.
type Handler func(ctx context.Context, arguments Arguments) (string, error)

// Tool is a registered operation.
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

// InputSchema returns the JSON schema describing the tool's arguments.
func (tool Tool) InputSchema() map[string]any {
	properties := make(map[string]any, len(tool.Parameters))
	required := make([]string, 0, len(tool.Parameters))
	for _, parameter := range tool.Parameters {
		properties[parameter.Name] = map[string]any{
			"type":        schemaTypeString,
			"description": parameter.Description,
		}
		if parameter.Required {
			required = append(required, parameter.Name)
		}
	}
	return map[string]any{
		"type":       schemaTypeObject,
		"properties": properties,
		"required":   required,
	}
}

// Registry holds tools in registration order.
type Registry struct {
	tools []Tool
	index map[string]int
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds tool. Names must be unique and every tool needs a handler.
func (registry *Registry) Register(tool Tool) error {
	if strings.TrimSpace(tool.Name) == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("register tool %s: handler is required", tool.Name)
	}
	if _, exists := registry.index[tool.Name]; exists {
		return fmt.Errorf("register tool %s: already registered", tool.Name)
	}
	registry.index[tool.Name] = len(registry.tools)
	registry.tools = append(registry.tools, tool)
	return nil
}

// Tools returns every registered tool.
func (registry *Registry) Tools() []Tool {
	return append([]Tool(nil), registry.tools...)
}

// Lookup finds a tool by name.
func (registry *Registry) Lookup(name string) (Tool, bool) {
	position, found := registry.index[name]
	if !found {
		return Tool{}, false
	}
	return registry.tools[position], true
}

// Call checks required arguments and runs the named tool.
func (registry *Registry) Call(ctx context.Context, name string, arguments Arguments) (string, error) {
	tool, found := registry.Lookup(name)
	if !found {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if arguments == nil {
		arguments = Arguments{}
	}
	for _, parameter := range tool.Parameters {
		if parameter.Required && arguments.String(parameter.Name) == "" {
			return "", failure.Validationf(tool.Name, "argument %s is required", parameter.Name)
		}
	}
	return tool.Handler(ctx, arguments)
}

// Markdown documents every tool with its parameters.
func (registry *Registry) Markdown() string {
	var builder strings.Builder
	builder.WriteString("# " + catalogTitle + "\n\n")
	for _, tool := range registry.tools {
		fmt.Fprintf(&builder, "## %s\n\n%s\n\n", tool.Name, tool.Description)
		if len(tool.Parameters) == 0 {
			builder.WriteString("No parameters.\n\n")
			continue
		}
		builder.WriteString("| Parameter | Required | Description |\n| --- | --- | --- |\n")
		for _, parameter := range tool.Parameters {
			requirement := "no"
			if parameter.Required {
				requirement = "yes"
			}
			fmt.Fprintf(&builder, "| %s | %s | %s |\n", parameter.Name, requirement, parameter.Description)
		}
		builder.WriteString("\n")
	}
	return builder.String()
}

// HTML renders Markdown as a standalone page.
func (registry *Registry) HTML() ([]byte, error) {
	return markdown.Document(catalogTitle, []byte(registry.Markdown()))
}
