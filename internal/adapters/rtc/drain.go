package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// TrackStats counts what a remote track delivered.
type TrackStats struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

func (s *TrackStats) Packets() uint64 { return s.packets.Load() }
func (s *TrackStats) Bytes() uint64   { return s.bytes.Load() }
func (s *TrackStats) LastSeq() uint16 { return uint16(s.lastSeq.Load()) }

func (s *TrackStats) observe(pkt *rtp.Packet) {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
	s.lastSeq.Store(uint32(pkt.SequenceNumber))
}

// drain reads a remote track until it ends. Nothing is rendered; the packets
// only keep the receiver's interceptors fed.
func drain(ctx context.Context, src rtpReader, stats *TrackStats, logger *zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Uint64("packets", stats.Packets()).Msg("remote track read stopped")
			return err
		}
		stats.observe(pkt)
	}
}
