package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Signal/internal/core"
	"github.com/dkeye/Signal/internal/domain"
	"github.com/dkeye/Signal/internal/message"
)

// signaling side

type fakeConn struct {
	sent chan core.Frame

	mu     sync.Mutex
	closed int
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return core.ErrClosed
	}
	c.sent <- f
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu      sync.Mutex
	url     string
	handler core.SignalHandler
	conn    *fakeConn
}

func (d *fakeDialer) Open(_ context.Context, url string, h core.SignalHandler) core.SignalConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	d.handler = h
	d.conn = &fakeConn{sent: make(chan core.Frame, 64)}
	return d.conn
}

// media side

type fakePC struct {
	id int

	mu           sync.Mutex
	local        *webrtc.SessionDescription
	remote       []webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	tracks       []webrtc.TrackLocal
	configs      []webrtc.Configuration
	simulcast    map[string][]core.Encoding
	offers       int
	closed       int
	failRemote   error
	offerGate    chan struct{}
	offerEntered chan struct{}

	onICE         func(webrtc.ICECandidateInit)
	onTrack       func(domain.Track)
	onTrackEnded  func(string)
	onState       func(webrtc.PeerConnectionState)
	onNegotiation func()
}

func (p *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.offers++
	n := p.offers
	gate, entered := p.offerGate, p.offerEntered
	p.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", p.id, n)}, nil
}

func (p *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.id)}, nil
}

func (p *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &d
	return nil
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRemote != nil {
		return p.failRemote
	}
	p.remote = append(p.remote, d)
	return nil
}

func (p *fakePC) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePC) SetConfiguration(c webrtc.Configuration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs = append(p.configs, c)
	return nil
}

func (p *fakePC) AddLocalTrack(t webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return nil
}

func (p *fakePC) ApplySimulcast(trackID string, layers []core.Encoding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.simulcast == nil {
		p.simulcast = make(map[string][]core.Encoding)
	}
	p.simulcast[trackID] = layers
	return nil
}

func (p *fakePC) Transceivers() []core.TransceiverInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.TransceiverInfo, 0, len(p.tracks))
	for i, t := range p.tracks {
		out = append(out, core.TransceiverInfo{
			Mid:       fmt.Sprint(i),
			Kind:      domain.TrackKind(t.Kind().String()),
			TrackID:   t.ID(),
			Committed: len(p.remote) > 0,
		})
	}
	return out
}

func (p *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePC) OnTrack(fn func(domain.Track)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePC) OnTrackEnded(fn func(string)) {
	p.mu.Lock()
	p.onTrackEnded = fn
	p.mu.Unlock()
}

func (p *fakePC) OnNegotiationNeeded(fn func()) {
	p.mu.Lock()
	p.onNegotiation = fn
	p.mu.Unlock()
}

func (p *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePC) fireNegotiationNeeded() {
	p.mu.Lock()
	fn := p.onNegotiation
	p.mu.Unlock()
	fn()
}

func (p *fakePC) fireTrack(t domain.Track) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(t)
}

func (p *fakePC) fireTrackEnded(id string) {
	p.mu.Lock()
	fn := p.onTrackEnded
	p.mu.Unlock()
	fn(id)
}

func (p *fakePC) fireState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePC) fireCandidate(c string) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: c})
}

func (p *fakePC) snapshot() fakePCState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fakePCState{
		remote:     append([]webrtc.SessionDescription(nil), p.remote...),
		candidates: len(p.candidates),
		tracks:     len(p.tracks),
		configs:    append([]webrtc.Configuration(nil), p.configs...),
		simulcast:  p.simulcast,
		offers:     p.offers,
		closed:     p.closed,
		hasLocal:   p.local != nil,
	}
}

type fakePCState struct {
	remote     []webrtc.SessionDescription
	candidates int
	tracks     int
	configs    []webrtc.Configuration
	simulcast  map[string][]core.Encoding
	offers     int
	closed     int
	hasLocal   bool
}

type fakeFactory struct {
	mu         sync.Mutex
	pcs        []*fakePC
	failRemote error
}

func (f *fakeFactory) NewConnection(webrtc.Configuration) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePC{id: len(f.pcs) + 1, failRemote: f.failRemote}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) created() []*fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePC(nil), f.pcs...)
}

// harness

type harness struct {
	t       *testing.T
	engine  *Engine
	dialer  *fakeDialer
	factory *fakeFactory
	notes   chan Notification
}

func newHarness(t *testing.T, v Variant, source core.MediaSource) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		dialer:  &fakeDialer{},
		factory: &fakeFactory{},
		notes:   make(chan Notification, 64),
	}
	h.engine = NewEngine(v, h.dialer, h.factory, source)
	unsubscribe := h.engine.Subscribe(func(n Notification) { h.notes <- n })
	t.Cleanup(func() {
		h.engine.Disconnect()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.engine.Wait(ctx)
		unsubscribe()
	})
	return h
}

func testConfig() domain.SessionConfig {
	return domain.SessionConfig{
		SignalingURL: "wss://signal.example/ws",
		SessionID:    "room-1",
		ClientID:     "abc",
	}
}

func (h *harness) connect(cfg domain.SessionConfig) {
	h.t.Helper()
	if err := h.engine.Connect(context.Background(), cfg); err != nil {
		h.t.Fatalf("connect: %v", err)
	}
}

func (h *harness) handler() core.SignalHandler {
	h.dialer.mu.Lock()
	defer h.dialer.mu.Unlock()
	return h.dialer.handler
}

func (h *harness) conn() *fakeConn {
	h.dialer.mu.Lock()
	defer h.dialer.mu.Unlock()
	return h.dialer.conn
}

// open fires the transport open and consumes the register/connect message.
func (h *harness) open() message.Message {
	h.t.Helper()
	h.handler().OnOpen()
	return h.next()
}

func (h *harness) deliver(frame string) {
	h.handler().OnMessage(core.Frame(frame))
}

func (h *harness) deliverMsg(m message.Message) {
	h.t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		h.t.Fatalf("marshal: %v", err)
	}
	h.handler().OnMessage(b)
}

func (h *harness) nextRaw() core.Frame {
	h.t.Helper()
	select {
	case f := <-h.conn().sent:
		return f
	case <-time.After(2 * time.Second):
		h.t.Fatalf("timeout waiting for outbound message")
	}
	return nil
}

func (h *harness) next() message.Message {
	h.t.Helper()
	f := h.nextRaw()
	m, err := message.Decode(f)
	if err != nil {
		h.t.Fatalf("outbound %s: %v", f, err)
	}
	return m
}

func (h *harness) expect(typ message.Type) message.Message {
	h.t.Helper()
	m := h.next()
	if m.Type != typ {
		h.t.Fatalf("outbound type=%s, want %s", m.Type, typ)
	}
	return m
}

// sync round-trips a ping so every event posted before it has been handled.
func (h *harness) sync() {
	h.t.Helper()
	h.deliver(`{"type":"ping"}`)
	h.expect(message.TypePong)
}

func (h *harness) noMoreSent() {
	h.t.Helper()
	select {
	case f := <-h.conn().sent:
		h.t.Fatalf("unexpected outbound %s", f)
	default:
	}
}

func waitNote[T Notification](h *harness) T {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-h.notes:
			if v, ok := n.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			h.t.Fatalf("timeout waiting for %s", zero.Kind())
			return zero
		}
	}
}

func (h *harness) pc(i int) *fakePC {
	h.t.Helper()
	pcs := h.factory.created()
	if len(pcs) <= i {
		h.t.Fatalf("peer connections=%d, want > %d", len(pcs), i)
	}
	return pcs[i]
}
