package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxMessageBytes caps a single POSTed JSON-RPC message, mirroring the stdio
// transport's line limit.
const maxMessageBytes = 10 * 1024 * 1024

// handleSSE opens an event stream. The first frame names the session's
// message endpoint; afterwards the stream carries JSON-RPC responses as
// "message" events and comment pings to keep intermediaries from idling
// the connection out.
func (s *Server) handleSSE(c *gin.Context) {
	sess := s.sessions.Open(s.rootCtx)
	defer s.sessions.Remove(sess.ID)

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := fmt.Fprintf(c.Writer, "event: endpoint\ndata: /messages/%s\n\n", sess.ID); err != nil {
		return
	}
	c.Writer.Flush()

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case <-sess.Done():
			return
		case <-ping.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case msg := <-sess.out:
			if _, err := fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", msg); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// handleMessage accepts one JSON-RPC message for a session and dispatches it
// asynchronously; the response, if any, arrives on the session's SSE stream.
func (s *Server) handleMessage(c *gin.Context) {
	sess, ok := s.sessions.Get(c.Param("session"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "Unknown session",
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "request body could not be read",
		})
		return
	}

	requestID := uuid.NewString()
	s.logger.Info("Accepted JSON-RPC message", map[string]interface{}{
		"session":    sess.ID,
		"request_id": requestID,
		"bytes":      len(body),
	})

	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		s.dispatch(sess, requestID, body)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "accepted",
		"request_id": requestID,
	})
}

// dispatch runs one message and delivers the response over the session
// stream. Notifications produce no response.
func (s *Server) dispatch(sess *Session, requestID string, body []byte) {
	resp := s.deps.Dispatcher.HandleMessage(sess.Context(), body)
	if resp == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{
			"session":    sess.ID,
			"request_id": requestID,
			"error":      err.Error(),
		})
		return
	}
	if err := sess.Send(payload); err != nil {
		s.logger.Warn("Dropped response", map[string]interface{}{
			"session":    sess.ID,
			"request_id": requestID,
			"reason":     err.Error(),
		})
	}
}
