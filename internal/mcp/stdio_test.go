package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/hubspot-mcp/internal/tools"
)

func sleepTool(d time.Duration) tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "sleep_tool",
		Description: "Sleeps before answering.",
		InputSchema: map[string]interface{}{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
			time.Sleep(d)
			return &tools.Result{Markdown: "slept", JSON: "```json\n{}\n```"}, nil
		},
	}
}

// decodeLines parses every newline-delimited response in the buffer.
func decodeLines(t *testing.T, buf *bytes.Buffer) map[string]*MCPMessage {
	t.Helper()
	byID := make(map[string]*MCPMessage)
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var msg MCPMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &msg))
		assert.Equal(t, "2.0", msg.JSONRPC)
		byID[string(msg.ID)] = &msg
	}
	require.NoError(t, sc.Err())
	return byID
}

func TestStdioDispatchesUntilEOF(t *testing.T) {
	d := newTestDispatcher(t, 0, echoTool())
	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo_tool","arguments":{"message":"over stdio"}}}`,
		`{"jsonrpc":`,
	}, "\n") + "\n")
	var out bytes.Buffer

	srv := NewStdioServer(d, in, &out, nil)
	require.NoError(t, srv.Run(context.Background()))

	byID := decodeLines(t, &out)
	require.Len(t, byID, 3)

	list := byID["1"]
	require.NotNil(t, list)
	assert.Nil(t, list.Error)
	listJSON, err := json.Marshal(list.Result)
	require.NoError(t, err)
	assert.Contains(t, string(listJSON), `"name":"echo_tool"`)

	call := byID["2"]
	require.NotNil(t, call)
	require.Nil(t, call.Error)
	content, ok := call.Result.([]interface{})
	require.True(t, ok)
	require.Len(t, content, 2)
	first := content[0].(map[string]interface{})
	assert.Equal(t, "text", first["type"])
	assert.Contains(t, first["text"], "over stdio")

	parse := byID["null"]
	require.NotNil(t, parse, "parse errors respond with a null id")
	require.NotNil(t, parse.Error)
	assert.Equal(t, CodeParseError, parse.Error.Code)
}

func TestStdioSkipsBlankLines(t *testing.T) {
	d := newTestDispatcher(t, 0)
	in := strings.NewReader("\n  \n" + `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n\n")
	var out bytes.Buffer

	srv := NewStdioServer(d, in, &out, nil)
	require.NoError(t, srv.Run(context.Background()))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Len(t, lines, 1)
}

func TestStdioNotificationProducesNoOutput(t *testing.T) {
	var calls atomic.Int64
	d := newTestDispatcher(t, 0, pingTool(&calls))
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"ping_tool"}}` + "\n")
	var out bytes.Buffer

	srv := NewStdioServer(d, in, &out, nil)
	require.NoError(t, srv.Run(context.Background()))

	assert.Zero(t, out.Len())
	assert.Equal(t, int64(1), calls.Load())
}

func TestStdioResponsesFollowCompletionOrder(t *testing.T) {
	d := newTestDispatcher(t, 0, sleepTool(150*time.Millisecond), pingTool(nil))
	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":"slow","method":"tools/call","params":{"name":"sleep_tool"}}`,
		`{"jsonrpc":"2.0","id":"fast","method":"tools/call","params":{"name":"ping_tool"}}`,
	}, "\n") + "\n")
	var out bytes.Buffer

	srv := NewStdioServer(d, in, &out, nil)
	require.NoError(t, srv.Run(context.Background()))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"fast"`)
	assert.Contains(t, lines[1], `"id":"slow"`)
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestStdioStopsOnWriteError(t *testing.T) {
	d := newTestDispatcher(t, 0)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")

	srv := NewStdioServer(d, in, failWriter{}, nil)
	err := srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdout write failed")
}
