package core

import (
	"context"
	"errors"
)

var (
	ErrNotOpen      = errors.New("signal connection not open")
	ErrClosed       = errors.New("signal connection closed")
	ErrBackpressure = errors.New("backpressure")
)

// Frame is a raw text payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the engine; the engine must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalHandler receives transport events. Calls for one connection never
// overlap and arrive in socket order.
type SignalHandler interface {
	OnOpen()
	OnMessage(Frame)
	OnClose(err error)
	OnError(err error)
}

// SignalDialer opens a connection without blocking; the outcome is reported
// through the handler.
type SignalDialer interface {
	Open(ctx context.Context, url string, h SignalHandler) SignalConnection
}
