// Package auth guards the HTTP transport with a single shared secret.
// Operational endpoints stay reachable without credentials; the two data
// endpoints opt out of protection only through explicit configuration.
package auth

import (
	"crypto/subtle"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// Settings is one immutable snapshot of the auth configuration. Config
// reloads swap whole snapshots, so a request never observes a half-applied
// update.
type Settings struct {
	// Key is the shared secret. Empty disables auth entirely.
	Key string
	// Header is the request header carrying the secret.
	Header string
	// FaissDataSecure keeps /faiss-data behind the secret.
	FaissDataSecure bool
	// DataProtectionDisabled opens /force-reindex without the secret.
	DataProtectionDisabled bool
}

var alwaysExempt = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

// Exempt reports whether path bypasses the shared secret under these
// settings.
func (s Settings) Exempt(path string) bool {
	if _, ok := alwaysExempt[path]; ok {
		return true
	}
	switch path {
	case "/faiss-data":
		return !s.FaissDataSecure
	case "/force-reindex":
		return s.DataProtectionDisabled
	}
	return false
}

// Middleware rejects requests that do not present the shared secret.
type Middleware struct {
	settings atomic.Pointer[Settings]
	logger   observability.Logger
}

// NewMiddleware builds the middleware with an initial settings snapshot.
func NewMiddleware(s Settings, logger observability.Logger) *Middleware {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	m := &Middleware{logger: logger.WithPrefix("auth")}
	m.settings.Store(&s)
	return m
}

// Update swaps in a new settings snapshot. Called from the config reload
// path while requests are in flight.
func (m *Middleware) Update(s Settings) {
	m.settings.Store(&s)
	m.logger.Info("Auth settings updated", map[string]interface{}{
		"auth_enabled": s.Key != "",
		"auth_header":  s.Header,
	})
}

// Current returns the active settings snapshot.
func (m *Middleware) Current() Settings {
	return *m.settings.Load()
}

// Handler returns the gin middleware enforcing the shared secret.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := m.settings.Load()
		if s.Key == "" || s.Exempt(c.Request.URL.Path) {
			c.Next()
			return
		}
		// Header lookup is case-insensitive through canonicalization.
		provided := c.GetHeader(s.Header)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.Key)) != 1 {
			m.logger.Warn("Rejected request with invalid credentials", map[string]interface{}{
				"path":   c.Request.URL.Path,
				"remote": c.ClientIP(),
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "Invalid API key",
			})
			return
		}
		c.Next()
	}
}

// ClientKey identifies the caller for rate limiting: the presented
// credential when there is one, else the client IP.
func (m *Middleware) ClientKey(c *gin.Context) string {
	s := m.settings.Load()
	if v := c.GetHeader(s.Header); v != "" {
		return v
	}
	return c.ClientIP()
}
