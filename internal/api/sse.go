package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const eventSnapshot = "snapshot"

// handleEvents streams a snapshot event for the current state and for every
// change of the session. The stream ends when the view is closed or the
// server shuts down.
func (s *Server) handleEvents(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	snapshots, unsubscribe := view.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	c.Stream(
		func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-s.streams.Done():
				return false
			case snap, ok := <-snapshots:
				if !ok {
					return false
				}
				c.SSEvent(eventSnapshot, toSnapshotResponse(snap))
				return true
			}
		},
	)
}
