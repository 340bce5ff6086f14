// Package capture implements a WebRTC WHEP capture pipeline: it pulls
// a live VP8/VP9 video track and an Opus audio track from a WHEP
// server, depacketizes RTP into encoded frames, and hands them to a
// webm.MuxSession so the stream lands on disk as a WebM file. It
// adapts the teacher client's WHEP signaling and RTP processing to
// write against the core muxer instead of the old ad-hoc MKV writer.
package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/webmforge/webmforge/internal/xlog"
	"github.com/webmforge/webmforge/webm"
)

// Options configures a capture Session.
type Options struct {
	// WHEPURL is the WHEP resource endpoint to POST the SDP offer to.
	WHEPURL string
	// VideoCodec selects the codec to negotiate: "vp8" or "vp9".
	VideoCodec string
	// ReadTimeout bounds how long a single RTP read may block before
	// Run gives up and returns. Zero disables the timeout.
	ReadTimeout time.Duration
}

// Session drives one WHEP capture into a webm.MuxSession.
type Session struct {
	opts Options
	pc   *webrtc.PeerConnection
	mux  *webm.MuxSession

	videoCodecID string

	trackMu    sync.Mutex
	videoTrack *webrtc.TrackRemote
	audioTrack *webrtc.TrackRemote

	videoReady chan struct{}
	audioReady chan struct{}
}

// Connect negotiates a recvonly video+audio WHEP session and returns a
// Session ready to Run. mux must already have its tracks registered
// via AddVideoTrack/AddAudioTrack with the handles the caller intends
// to pass to Run.
func Connect(ctx context.Context, opts Options, mux *webm.MuxSession) (*Session, error) {
	codecID, err := normalizeVideoCodec(opts.VideoCodec)
	if err != nil {
		return nil, err
	}

	mediaEngine, err := newMediaEngine(opts.VideoCodec)
	if err != nil {
		return nil, fmt.Errorf("capture: building media engine: %w", err)
	}

	s := &Session{
		opts:         opts,
		mux:          mux,
		videoCodecID: codecID,
		videoReady:   make(chan struct{}),
		audioReady:   make(chan struct{}),
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("capture: registering interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return nil, fmt.Errorf("capture: creating peer connection: %w", err)
	}
	s.pc = pc

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("capture: adding video transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("capture: adding audio transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		xlog.Debugf("capture: track received kind=%s codec=%s", track.Kind(), track.Codec().MimeType)
		s.trackMu.Lock()
		switch track.Kind() {
		case webrtc.RTPCodecTypeVideo:
			s.videoTrack = track
			close(s.videoReady)
		case webrtc.RTPCodecTypeAudio:
			s.audioTrack = track
			close(s.audioReady)
		}
		s.trackMu.Unlock()
	})

	if err := exchangeSDP(ctx, pc, opts.WHEPURL); err != nil {
		pc.Close()
		return nil, err
	}

	return s, nil
}

func normalizeVideoCodec(codec string) (string, error) {
	switch strings.ToLower(codec) {
	case "vp8":
		return webm.CodecVP8, nil
	case "vp9":
		return webm.CodecVP9, nil
	default:
		return "", fmt.Errorf("capture: unsupported video codec %q (supported: vp8, vp9)", codec)
	}
}

func newMediaEngine(codec string) (*webrtc.MediaEngine, error) {
	me := &webrtc.MediaEngine{}

	switch strings.ToLower(codec) {
	case "vp8":
		if err := me.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        97,
		}, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, err
		}
	case "vp9":
		if err := me.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000},
			PayloadType:        98,
		}, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported video codec: %s", codec)
	}

	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	return me, nil
}

// exchangeSDP performs the WHEP offer/answer handshake over HTTP: it
// creates a local offer, waits for ICE gathering to complete so the
// offer carries host/srflx candidates, POSTs it as application/sdp,
// and applies the returned answer.
func exchangeSDP(ctx context.Context, pc *webrtc.PeerConnection, whepURL string) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("capture: creating offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("capture: setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, whepURL, strings.NewReader(pc.LocalDescription().SDP))
	if err != nil {
		return fmt.Errorf("capture: building WHEP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("capture: WHEP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("capture: WHEP server returned status %d", resp.StatusCode)
	}

	answerBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("capture: reading WHEP answer: %w", err)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: string(answerBody)}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("capture: setting remote description: %w", err)
	}

	return nil
}

// Close tears down the underlying peer connection.
func (s *Session) Close() error {
	if s.pc == nil {
		return nil
	}
	return s.pc.Close()
}

// Run reads RTP from the negotiated tracks, depacketizes frames, and
// writes them to mux via the given track handles until ctx is
// canceled or a track ends. It blocks until both the video and audio
// pipelines have stopped.
func (s *Session) Run(ctx context.Context, videoHandle, audioHandle webm.TrackHandle) error {
	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.runVideo(ctx, videoHandle); err != nil {
			errCh <- fmt.Errorf("capture: video pipeline: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.runAudio(ctx, audioHandle); err != nil {
			errCh <- fmt.Errorf("capture: audio pipeline: %w", err)
		}
	}()

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) waitForTrack(ctx context.Context, ready <-chan struct{}) (*webrtc.TrackRemote, error) {
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	return s.videoTrackOrAudioTrack(ready), nil
}

func (s *Session) videoTrackOrAudioTrack(ready <-chan struct{}) *webrtc.TrackRemote {
	if ready == s.videoReady {
		return s.videoTrack
	}
	return s.audioTrack
}

func (s *Session) runVideo(ctx context.Context, handle webm.TrackHandle) error {
	track, err := s.waitForTrack(ctx, s.videoReady)
	if err != nil {
		return err
	}

	dep := &vpxDepacketizer{codec: s.videoCodecID}

	for {
		if ctx.Err() != nil {
			return nil
		}
		packet, err := readRTPTimeout(ctx, track, s.opts.ReadTimeout)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		frame, keyframe, ok := dep.accumulate(packet)
		if !ok {
			continue
		}

		tsNs := dep.timestampNs(packet.Timestamp)
		if err := s.mux.WriteVideoFrame(handle, frame, tsNs, keyframe); err != nil {
			return err
		}
	}
}

func (s *Session) runAudio(ctx context.Context, handle webm.TrackHandle) error {
	track, err := s.waitForTrack(ctx, s.audioReady)
	if err != nil {
		return err
	}

	var firstTimestamp uint32
	haveFirst := false

	for {
		if ctx.Err() != nil {
			return nil
		}
		packet, err := readRTPTimeout(ctx, track, s.opts.ReadTimeout)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if len(packet.Payload) == 0 {
			continue
		}
		if !haveFirst {
			firstTimestamp = packet.Timestamp
			haveFirst = true
		}

		tsNs := int64(packet.Timestamp-firstTimestamp) * 1_000_000_000 / 48000
		payload := append([]byte(nil), packet.Payload...)
		if err := s.mux.WriteAudioFrame(handle, payload, tsNs); err != nil {
			return err
		}
	}
}

type rtpReadResult struct {
	packet *rtp.Packet
	err    error
}

// readRTPTimeout reads one RTP packet, bounding the wait by timeout
// (when positive) and by ctx cancellation, mirroring the teacher's
// escalating read-timeout loop without the backoff bookkeeping a
// one-shot capture run doesn't need.
func readRTPTimeout(ctx context.Context, track *webrtc.TrackRemote, timeout time.Duration) (*rtp.Packet, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = time.After(timeout)
	}

	resultCh := make(chan rtpReadResult, 1)
	go func() {
		packet, _, err := track.ReadRTP()
		resultCh <- rtpReadResult{packet: packet, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.packet, r.err
	case <-timeoutCh:
		return nil, fmt.Errorf("RTP read timeout after %v", timeout)
	}
}
