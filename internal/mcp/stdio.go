package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// maxLineBytes bounds one newline-delimited JSON-RPC message. Bulk tool
// arguments stay far below this; anything larger aborts the read loop.
const maxLineBytes = 10 * 1024 * 1024

// StdioServer reads newline-delimited JSON-RPC messages from in and writes
// responses to out. Each line is dispatched on its own goroutine, so
// responses are emitted in completion order; a single writer goroutine owns
// out so concurrent completions never interleave bytes. Logs must go to
// stderr, never to out.
type StdioServer struct {
	dispatcher *Dispatcher
	in         io.Reader
	out        io.Writer
	logger     observability.Logger
}

// NewStdioServer builds a stdio transport over the dispatcher. in and out
// are os.Stdin and os.Stdout in production, buffers in tests.
func NewStdioServer(d *Dispatcher, in io.Reader, out io.Writer, logger observability.Logger) *StdioServer {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &StdioServer{
		dispatcher: d,
		in:         in,
		out:        out,
		logger:     logger.WithPrefix("stdio"),
	}
}

// Run consumes in until EOF or a failed write, whichever comes first, and
// returns after every in-flight dispatch has finished. Cancelling ctx stops
// new dispatches and aborts running ones, but the read itself only unblocks
// when in delivers data or closes.
func (s *StdioServer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	responses := make(chan *MCPMessage, 16)
	writerDone := make(chan struct{})
	writeErr := make(chan error, 1)
	go func() {
		defer close(writerDone)
		enc := json.NewEncoder(s.out)
		for msg := range responses {
			if err := enc.Encode(msg); err != nil {
				writeErr <- err
				cancel()
				return
			}
		}
	}()

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var wg sync.WaitGroup
scan:
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			break scan
		default:
		}
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		// Scanner reuses its buffer across Scan calls.
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.dispatcher.HandleMessage(ctx, line)
			if resp == nil {
				return
			}
			select {
			case responses <- resp:
			case <-writerDone:
			}
		}()
	}
	readErr := scanner.Err()

	wg.Wait()
	close(responses)
	<-writerDone

	select {
	case err := <-writeErr:
		s.logger.Error("Stdout write failed, stopping", map[string]interface{}{"error": err.Error()})
		return pkgerrors.Wrap(err, pkgerrors.KindInternal, "stdout write failed")
	default:
	}
	if readErr != nil {
		s.logger.Error("Stdin read failed, stopping", map[string]interface{}{"error": readErr.Error()})
		return pkgerrors.Wrap(readErr, pkgerrors.KindInternal, "stdin read failed")
	}
	s.logger.Info("Standard input closed, stopping", nil)
	return nil
}
