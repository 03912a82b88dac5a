// Package mcp implements the JSON-RPC 2.0 core shared by both transports:
// the message types, the dispatcher that routes tools/list and tools/call
// into the tool registry, and the newline-delimited stdio transport. The
// dispatcher is the single place where classified errors become JSON-RPC
// error objects.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/developer-mesh/hubspot-mcp/internal/format"
	"github.com/developer-mesh/hubspot-mcp/internal/metrics"
	"github.com/developer-mesh/hubspot-mcp/internal/tools"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

const jsonRPCVersion = "2.0"

// DefaultToolTimeout bounds the wall-clock time of a single tools/call.
const DefaultToolTimeout = 60 * time.Second

// JSON-RPC error codes. The standard codes cover protocol failures; the
// -320xx range carries the server's own error kinds.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeAuth      = -32001
	CodeTransient = -32002
	CodeNotFound  = -32003
	CodeNotReady  = -32004
	CodeDisabled  = -32005
	CodeTimeout   = -32006
	CodeCanceled  = -32007
)

// MCPMessage is a JSON-RPC 2.0 message: request, notification, or response.
// The ID is kept raw so responses echo it byte for byte.
type MCPMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

// MCPError is the JSON-RPC error object. Data carries {kind, markdown} and,
// for rate-limit transients, retryAfter in seconds.
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ContentItem is one element of a tools/call result. Both items are text:
// the Markdown summary first, the fenced JSON block second.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Dispatcher routes decoded JSON-RPC messages into the tool registry. It is
// safe for concurrent use; both transports share one instance.
type Dispatcher struct {
	registry    *tools.Registry
	toolTimeout time.Duration
	logger      observability.Logger
	metrics     *metrics.Metrics
}

// NewDispatcher builds a dispatcher over the given registry. A non-positive
// toolTimeout falls back to DefaultToolTimeout.
func NewDispatcher(registry *tools.Registry, toolTimeout time.Duration, logger observability.Logger, m *metrics.Metrics) *Dispatcher {
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Dispatcher{
		registry:    registry,
		toolTimeout: toolTimeout,
		logger:      logger.WithPrefix("mcp"),
		metrics:     m,
	}
}

// HandleMessage decodes one raw JSON-RPC message and returns the response,
// or nil when none is owed (notifications). Malformed JSON yields a parse
// error response with a null id.
func (d *Dispatcher) HandleMessage(ctx context.Context, raw []byte) *MCPMessage {
	var msg MCPMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.metrics.RecordMessageReceived("malformed")
		d.metrics.RecordMessageSent("error")
		return &MCPMessage{
			JSONRPC: jsonRPCVersion,
			ID:      json.RawMessage("null"),
			Error:   &MCPError{Code: CodeParseError, Message: "parse error: invalid JSON"},
		}
	}
	d.metrics.RecordMessageReceived(msg.Method)
	d.logger.Debug("Dispatching message", map[string]interface{}{
		"method": msg.Method,
		"id":     string(msg.ID),
	})

	// Notifications are processed for their side effects but never answered.
	result, rpcErr := d.dispatch(ctx, &msg)
	if len(msg.ID) == 0 {
		return nil
	}

	resp := &MCPMessage{JSONRPC: jsonRPCVersion, ID: msg.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
		d.metrics.RecordMessageSent("error")
	} else {
		resp.Result = result
		d.metrics.RecordMessageSent("result")
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *MCPMessage) (interface{}, *MCPError) {
	switch msg.Method {
	case "tools/list":
		return map[string]interface{}{"tools": d.registry.Descriptors()}, nil
	case "tools/call":
		return d.callTool(ctx, msg.Params)
	default:
		return nil, &MCPError{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %q", msg.Method),
		}
	}
}

// callTool runs one tool under the execution budget. A budget overrun is
// reported as a timeout even when the handler returned some other error
// after the deadline passed.
func (d *Dispatcher) callTool(ctx context.Context, params json.RawMessage) (interface{}, *MCPError) {
	var p callParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, d.errorFor(pkgerrors.Wrap(err, pkgerrors.KindClient, "tools/call params are not valid JSON").
				WithUserMarkdown(format.ErrorMessage("Invalid Request", "`tools/call` params must be an object with `name` and `arguments`.")))
		}
	}
	if p.Name == "" {
		return nil, d.errorFor(pkgerrors.New(pkgerrors.KindClient, "tools/call params carry no tool name").
			WithUserMarkdown(format.ErrorMessage("Invalid Request", "`tools/call` params must name the tool to run.")))
	}

	ctx, cancel := context.WithTimeout(ctx, d.toolTimeout)
	defer cancel()

	result, err := d.registry.Execute(ctx, p.Name, p.Arguments)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = pkgerrors.Wrapf(err, pkgerrors.KindTimeout, "tool %q exceeded the %s execution budget", p.Name, d.toolTimeout).
				WithUserMarkdown(format.ErrorMessage("Tool Timed Out", fmt.Sprintf("`%s` did not finish within %s.", p.Name, d.toolTimeout)))
		}
		return nil, d.errorFor(err)
	}
	return []ContentItem{
		{Type: "text", Text: result.Markdown},
		{Type: "text", Text: result.JSON},
	}, nil
}

// errorFor converts a classified error into the wire error object. The ❌
// Markdown travels in data alongside the structured fields so clients can
// render either representation.
func (d *Dispatcher) errorFor(err error) *MCPError {
	kind := pkgerrors.KindOf(err)
	message := err.Error()
	if kind == pkgerrors.KindInternal {
		d.logger.Error("Unclassified dispatch failure", map[string]interface{}{"error": err.Error()})
		message = "internal error"
	}

	markdown := pkgerrors.UserMarkdownOf(err)
	if markdown == "" {
		markdown = fallbackMarkdown(kind, message)
	}
	data := map[string]interface{}{
		"kind":     kind.String(),
		"markdown": markdown,
	}
	if ra := pkgerrors.RetryAfterOf(err); ra > 0 {
		data["retryAfter"] = int((ra + time.Second - 1) / time.Second)
	}
	return &MCPError{Code: codeForKind(kind), Message: message, Data: data}
}

func codeForKind(kind pkgerrors.Kind) int {
	switch kind {
	case pkgerrors.KindClient:
		return CodeInvalidParams
	case pkgerrors.KindAuth:
		return CodeAuth
	case pkgerrors.KindTransient:
		return CodeTransient
	case pkgerrors.KindNotFound:
		return CodeNotFound
	case pkgerrors.KindNotReady:
		return CodeNotReady
	case pkgerrors.KindDisabled:
		return CodeDisabled
	case pkgerrors.KindTimeout:
		return CodeTimeout
	case pkgerrors.KindCanceled:
		return CodeCanceled
	default:
		return CodeInternalError
	}
}

// fallbackMarkdown composes the ❌ rendering for errors whose producer did
// not attach one.
func fallbackMarkdown(kind pkgerrors.Kind, message string) string {
	switch kind {
	case pkgerrors.KindAuth:
		return format.ErrorMessage("Authentication Failed", message)
	case pkgerrors.KindClient:
		return format.ErrorMessage("Invalid Request", message)
	case pkgerrors.KindTransient:
		return format.ErrorMessage("Temporary Failure", message)
	case pkgerrors.KindNotFound:
		return format.ErrorMessage("Not Found", message)
	case pkgerrors.KindNotReady:
		return format.ErrorMessage("Not Ready", message)
	case pkgerrors.KindDisabled:
		return format.ErrorMessage("Feature Disabled", message)
	case pkgerrors.KindTimeout:
		return format.ErrorMessage("Tool Timed Out", message)
	case pkgerrors.KindCanceled:
		return format.ErrorMessage("Request Canceled", message)
	default:
		return format.ErrorMessage("Internal Error", "An unexpected error occurred. Check the server logs for details.")
	}
}
