// Package tools holds the MCP tool registry and the providers that implement
// the HubSpot tool set: CRM reads and writes, semantic search, and the
// administrative tools for the cache and the embedding indices. Arguments are
// validated against each tool's JSON schema before its handler runs.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/developer-mesh/hubspot-mcp/internal/format"
	"github.com/developer-mesh/hubspot-mcp/internal/metrics"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// Result is the hybrid payload every tool returns: a Markdown summary and a
// fenced JSON block with the raw records. Results are immutable once built,
// which is what lets the cache hand the same *Result to concurrent callers.
type Result struct {
	Markdown string `json:"markdown"`
	JSON     string `json:"json"`
}

// Handler executes one tool call. Arguments arrive already validated against
// the tool's input schema.
type Handler func(ctx context.Context, args json.RawMessage) (*Result, error)

// ToolDefinition describes one tool: its wire name, the human description
// shown by tools/list, the JSON schema its arguments must satisfy, and the
// handler that runs it.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
	Handler     Handler                `json:"-"`
}

// Descriptor is the wire shape of one tool in a tools/list response.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Provider is a group of related tools registered together.
type Provider interface {
	GetDefinitions() []ToolDefinition
}

type registeredTool struct {
	def    ToolDefinition
	schema *gojsonschema.Schema
}

// Registry holds the tool set. Registration happens once at startup;
// execution is concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool

	logger  observability.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewRegistry builds an empty registry.
func NewRegistry(logger observability.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Registry{
		tools:   make(map[string]*registeredTool),
		logger:  logger.WithPrefix("tools"),
		metrics: m,
		tracer:  otel.Tracer("hubspot-mcp/tools"),
	}
}

// Register compiles the tool's input schema and adds it to the set. The
// compiled schema is reused for every call.
func (r *Registry) Register(def ToolDefinition) error {
	if def.Name == "" {
		return pkgerrors.New(pkgerrors.KindInternal, "tool definition has no name")
	}
	if def.Handler == nil {
		return pkgerrors.Newf(pkgerrors.KindInternal, "tool %q has no handler", def.Name)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.KindInternal, "compile input schema for %q", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return pkgerrors.Newf(pkgerrors.KindInternal, "tool %q registered twice", def.Name)
	}
	r.tools[def.Name] = &registeredTool{def: def, schema: schema}
	return nil
}

// RegisterProvider registers every definition a provider exposes.
func (r *Registry) RegisterProvider(p Provider) error {
	for _, def := range p.GetDefinitions() {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Descriptors returns the tool descriptors sorted by name, ready for a
// tools/list response.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, rt := range r.tools {
		out = append(out, Descriptor{
			Name:        rt.def.Name,
			Description: rt.def.Description,
			InputSchema: rt.def.InputSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute validates the arguments and runs the named tool. Empty arguments
// are treated as an empty object so tools without required fields work with
// an absent arguments member.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.metrics.RecordToolExecutionError(name, pkgerrors.KindClient.String())
		return nil, pkgerrors.Newf(pkgerrors.KindClient, "unknown tool %q", name).
			WithUserMarkdown(format.ErrorMessage("Unknown Tool", "No tool named `"+name+"` is registered. Call tools/list for the available set."))
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := validateArgs(rt.schema, args); err != nil {
		r.metrics.RecordToolExecutionError(name, pkgerrors.KindOf(err).String())
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "tools/call "+name,
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	done := r.metrics.StartToolExecutionTimer(name)
	result, err := rt.def.Handler(ctx, args)
	done(err)
	if err != nil {
		kind := pkgerrors.KindOf(err)
		r.metrics.RecordToolExecutionError(name, kind.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		r.logger.Warn("Tool execution failed", map[string]interface{}{
			"tool":  name,
			"kind":  kind.String(),
			"error": err.Error(),
		})
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// validateArgs runs the compiled schema over the raw arguments. The first
// violation becomes the client-visible message.
func validateArgs(schema *gojsonschema.Schema, args json.RawMessage) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.KindClient, "arguments are not valid JSON").
			WithUserMarkdown(format.ErrorMessage("Invalid Arguments", "The tool arguments could not be parsed as JSON."))
	}
	if res.Valid() {
		return nil
	}
	first := res.Errors()[0]
	detail := first.Field() + ": " + first.Description()
	return pkgerrors.Newf(pkgerrors.KindClient, "invalid arguments: %s", detail).
		WithUserMarkdown(format.ErrorMessage("Invalid Arguments", detail))
}
