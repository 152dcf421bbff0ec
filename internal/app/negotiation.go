package app

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Signal/internal/message"
)

// negotiationGuard admits one local offer per handle at a time.
type negotiationGuard struct {
	busy atomic.Bool
}

// tryAcquire returns a release func when the guard was free. release is
// safe to call more than once.
func (g *negotiationGuard) tryAcquire() (release func(), ok bool) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { g.busy.Store(false) }) }, true
}

func (g *negotiationGuard) held() bool { return g.busy.Load() }

// startOffer creates an offer off the loop and posts the result back. The
// guard is released on every path: by the loop once the offer is applied, or
// here when the session is already gone.
func (s *session) startOffer(p *peer, typ message.Type) {
	release, ok := p.guard.tryAcquire()
	if !ok {
		s.logger.Debug().Str("peer", p.name).Msg("negotiation in flight, skipping")
		return
	}
	if s.policy.SimulcastLocal && !p.receiver {
		s.applySimulcast(p, DefaultLayers)
	}
	s.wg.Go(func() {
		posted := false
		defer func() {
			if !posted {
				release()
			}
		}()
		desc, err := p.conn.CreateOffer()
		posted = s.post(evOfferCreated{p: p, typ: typ, desc: desc, err: err, release: release})
	})
}

func (s *session) onOfferCreated(ev evOfferCreated) {
	defer ev.release()
	if !s.current(ev.p) {
		return
	}
	if ev.err != nil {
		s.fail("create-offer", ev.err)
		return
	}
	if err := ev.p.conn.SetLocalDescription(ev.desc); err != nil {
		s.fail("set-local", err)
		return
	}
	s.offerOutstanding = true
	s.send(message.Message{Type: ev.typ, SDP: localSDP(ev.p, ev.desc)})
}

func localSDP(p *peer, fallback webrtc.SessionDescription) string {
	if d := p.conn.LocalDescription(); d != nil && d.SDP != "" {
		return d.SDP
	}
	return fallback.SDP
}
