package middleware

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// InFlight counts playground requests that have not finished yet. The
// websocket log stream stays in flight for as long as a browser tab
// watches it.
type InFlight struct {
	n atomic.Int64
}

// Begin marks a request as started.
func (f *InFlight) Begin() { f.n.Add(1) }

// Done marks a request as finished.
func (f *InFlight) Done() { f.n.Add(-1) }

// Count is reported as active_connections by /healthz.
func (f *InFlight) Count() int64 { return f.n.Load() }

// ActiveConnections is shared by the server and its health check.
var ActiveConnections = &InFlight{}

// ConnectionTrackerMiddleware keeps ActiveConnections current.
func ConnectionTrackerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ActiveConnections.Begin()
		defer ActiveConnections.Done()
		c.Next()
	}
}
