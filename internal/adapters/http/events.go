package http

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Signal/internal/app"
)

const eventBuffer = 32

// streamEvents relays engine notifications as server-sent events until the
// client goes away. A slow client loses events rather than stalling the
// session loop.
func streamEvents(c *gin.Context, ctrl Controller) {
	ch := make(chan app.Notification, eventBuffer)
	unsubscribe := ctrl.Subscribe(func(n app.Notification) {
		select {
		case ch <- n:
		default:
			log.Warn().Str("module", "adapters.http").Str("kind", n.Kind()).Msg("event stream full, dropping")
		}
	})
	defer unsubscribe()

	ctx := c.Request.Context()
	c.SSEvent("state", gin.H{"state": ctrl.State(), "session_id": ctrl.SessionID()})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case n := <-ch:
			c.SSEvent(n.Kind(), payload(n))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func payload(n app.Notification) any {
	if f, ok := n.(app.NegotiationFailed); ok {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		return gin.H{"stage": f.Stage, "error": msg}
	}
	return n
}
