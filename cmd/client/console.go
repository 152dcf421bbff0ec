package main

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/dkeye/Signal/internal/app"
	"github.com/dkeye/Signal/internal/domain"
)

// console prints session notifications for a human at the terminal.
type console struct {
	ended chan<- struct{}
}

func newConsole(ended chan<- struct{}) *console {
	return &console{ended: ended}
}

func (c *console) observe(n app.Notification) {
	switch n := n.(type) {
	case app.StateChanged:
		if n.New == domain.StateConnected {
			pterm.Success.Println(fmt.Sprintf("state %s → %s", n.Old, n.New))
			return
		}
		pterm.Info.Println(fmt.Sprintf("state %s → %s", n.Old, n.New))
	case app.TrackAdded:
		pterm.Info.Println(fmt.Sprintf("remote %s track %s (stream %s)", n.Track.Kind, n.Track.ID, n.Track.StreamID))
	case app.TrackRemoved:
		pterm.Info.Println(fmt.Sprintf("remote track %s gone", n.TrackID))
	case app.NegotiationFailed:
		pterm.Error.Println(fmt.Sprintf("negotiation failed at %s: %v", n.Stage, n.Err))
	case app.Disconnected:
		pterm.Warning.Println(fmt.Sprintf("disconnected: %s", n.Reason))
		select {
		case c.ended <- struct{}{}:
		default:
		}
	}
}
