package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Signal/internal/core"
)

type Config struct {
	ReadLimit        int64
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
}

func DefaultConfig() Config {
	return Config{
		ReadLimit:        1 << 20,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		SendBuffer:       32,
	}
}

// Dialer implements core.SignalDialer over gorilla/websocket.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewDialer(cfg Config) *Dialer {
	def := DefaultConfig()
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Open starts dialing in the background and returns the connection handle
// at once. Every handler call is made from the connection's read goroutine.
func (d *Dialer) Open(ctx context.Context, url string, h core.SignalHandler) core.SignalConnection {
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		cfg:    d.cfg,
		h:      h,
		cancel: cancel,
		send:   make(chan core.Frame, d.cfg.SendBuffer),
	}
	go c.run(ctx, d.dialer, url)
	return c
}

type Conn struct {
	cfg    Config
	h      core.SignalHandler
	cancel context.CancelFunc
	send   chan core.Frame

	mu     sync.RWMutex
	conn   *websocket.Conn
	open   bool
	closed bool
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	if !c.open {
		return core.ErrNotOpen
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	close(c.send)
	ws := c.conn
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if err := ws.Close(); err != nil {
			log.Debug().Err(err).Str("module", "ws").Msg("close")
		}
	}
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Conn) run(ctx context.Context, dialer *websocket.Dialer, url string) {
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if c.isClosed() {
			return
		}
		log.Error().Err(err).Str("module", "ws").Str("url", url).Msg("dial")
		c.h.OnError(fmt.Errorf("dial %s: %w", url, err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.conn = ws
	c.open = true
	c.mu.Unlock()

	ws.SetReadLimit(c.cfg.ReadLimit)
	log.Info().Str("module", "ws").Str("url", url).Msg("connected")
	c.h.OnOpen()

	go c.writePump(ctx, ws)
	c.readPump(ws)
}

func (c *Conn) writePump(ctx context.Context, ws *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				_ = ws.Close()
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				// Closing the socket fails the read side, which reports it.
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Conn) readPump(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.isClosed() {
				log.Debug().Str("module", "ws").Msg("readPump closing")
				return
			}
			log.Warn().Err(err).Str("module", "ws").Msg("readPump read error")
			c.h.OnClose(err)
			return
		}
		c.h.OnMessage(data)
	}
}
