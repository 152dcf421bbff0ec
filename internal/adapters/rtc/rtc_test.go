package rtc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Signal/internal/core"
)

const sampleSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=sendrecv\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:1\r\n" +
	"a=sendonly\r\n" +
	"a=rid:r0 send\r\n" +
	"a=rid:r1 send\r\n"

func TestInspect(t *testing.T) {
	got, err := Inspect(sampleSDP)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("sections=%d, want 2", len(got))
	}
	if got[0].Kind != "audio" || got[0].Mid != "0" || got[0].Direction != "sendrecv" {
		t.Fatalf("audio section=%+v", got[0])
	}
	if got[1].Kind != "video" || got[1].Direction != "sendonly" || !slices.Equal(got[1].RIDs, []string{"r0", "r1"}) {
		t.Fatalf("video section=%+v", got[1])
	}
}

func TestInspect_Invalid(t *testing.T) {
	if _, err := Inspect("not an sdp"); !errors.Is(err, ErrInvalidSDP) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidSDP)
	}
}

type fakeReader struct {
	pkts []*rtp.Packet
}

func (f *fakeReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(f.pkts) == 0 {
		return nil, nil, io.EOF
	}
	p := f.pkts[0]
	f.pkts = f.pkts[1:]
	return p, nil, nil
}

func TestDrain_CountsUntilEOF(t *testing.T) {
	src := &fakeReader{pkts: []*rtp.Packet{
		{Header: rtp.Header{SequenceNumber: 7}, Payload: []byte{1, 2, 3}},
		{Header: rtp.Header{SequenceNumber: 8}, Payload: []byte{4, 5}},
	}}
	var stats TrackStats
	logger := zerolog.Nop()
	if err := drain(context.Background(), src, &stats, &logger); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v, want EOF", err)
	}
	if stats.Packets() != 2 || stats.Bytes() != 5 || stats.LastSeq() != 8 {
		t.Fatalf("stats packets=%d bytes=%d seq=%d", stats.Packets(), stats.Bytes(), stats.LastSeq())
	}
}

func TestDrain_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stats TrackStats
	logger := zerolog.Nop()
	if err := drain(ctx, &fakeReader{}, &stats, &logger); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want canceled", err)
	}
}

func TestLoggerFactory_WritesScope(t *testing.T) {
	var buf bytes.Buffer
	f := LoggerFactory{Base: zerolog.New(&buf)}
	f.NewLogger("ice").Warnf("lost %d", 3)
	out := buf.String()
	if !strings.Contains(out, `"scope":"ice"`) || !strings.Contains(out, "lost 3") {
		t.Fatalf("log=%s", out)
	}
}

func TestStaticSource_AcquireRelease(t *testing.T) {
	s := NewStaticSource("stream", true, true, "vp9")
	tracks, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(tracks) != 2 || tracks[0].Kind() != webrtc.RTPCodecTypeAudio || tracks[1].Kind() != webrtc.RTPCodecTypeVideo {
		t.Fatalf("tracks=%v", tracks)
	}
	again, _ := s.Acquire(context.Background())
	if again[0] != tracks[0] {
		t.Fatalf("second acquire should reuse tracks")
	}
	if got := s.Tracks()[1].Codec().MimeType; got != webrtc.MimeTypeVP9 {
		t.Fatalf("video mime=%s", got)
	}
	s.Release()
	if len(s.Tracks()) != 0 {
		t.Fatalf("tracks survive release")
	}
}

func newPair(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	f, err := NewFactory(zerolog.Nop())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	a, err := f.NewConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("pc a: %v", err)
	}
	b, err := f.NewConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("pc b: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a.(*Connection), b.(*Connection)
}

func TestConnection_OfferAnswerCommitsTransceivers(t *testing.T) {
	a, b := newPair(t)
	src := NewStaticSource("s", true, false, "")
	tracks, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := a.AddLocalTrack(tracks[0]); err != nil {
		t.Fatalf("add track: %v", err)
	}
	if trs := a.Transceivers(); len(trs) != 1 || trs[0].Committed || trs[0].TrackID != "audio" {
		t.Fatalf("before negotiation: %+v", trs)
	}

	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if err := a.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}
	if err := b.SetRemoteDescription(offer); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	answer, err := b.CreateAnswer()
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := b.SetLocalDescription(answer); err != nil {
		t.Fatalf("set local answer: %v", err)
	}
	if err := a.SetRemoteDescription(answer); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}

	trs := a.Transceivers()
	if len(trs) != 1 || !trs[0].Committed || trs[0].Kind != "audio" {
		t.Fatalf("after negotiation: %+v", trs)
	}
}

func TestConnection_RejectsInvalidRemoteSDP(t *testing.T) {
	a, _ := newPair(t)
	err := a.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"})
	if !errors.Is(err, ErrInvalidSDP) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidSDP)
	}
	if a.negotiated.Load() {
		t.Fatalf("failed description marked negotiated")
	}
}

func TestConnection_ApplySimulcast(t *testing.T) {
	a, _ := newPair(t)
	src := NewStaticSource("s", false, true, "vp8")
	tracks, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := a.AddLocalTrack(tracks[0]); err != nil {
		t.Fatalf("add track: %v", err)
	}
	layers := []core.Encoding{
		{RID: "r0", Active: true, ScaleResolutionDownBy: 4},
		{RID: "r1", Active: true, ScaleResolutionDownBy: 2},
		{RID: "r2", Active: true},
	}
	if err := a.ApplySimulcast("video", layers); err != nil {
		t.Fatalf("simulcast: %v", err)
	}
	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	sections, err := Inspect(offer.SDP)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var rids []string
	for _, s := range sections {
		if s.Kind == "video" && s.Direction == "sendonly" {
			rids = s.RIDs
		}
	}
	if !slices.Equal(rids, []string{"r0", "r1", "r2"}) {
		t.Fatalf("rids=%v\n%s", rids, offer.SDP)
	}
}

func TestConnection_ApplySimulcastUnknownTrack(t *testing.T) {
	a, _ := newPair(t)
	if err := a.ApplySimulcast("nope", []core.Encoding{{RID: "r0"}}); !errors.Is(err, ErrTrackNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrTrackNotFound)
	}
}
