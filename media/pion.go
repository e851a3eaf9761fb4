/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Factory creates pion-backed peers sharing one media engine. Both legs of a
// call share one identity, see identity.
type Factory struct {
	mediaEngine  *webrtc.MediaEngine
	interceptors *interceptor.Registry
	config       *Config
	logger       *zap.Logger

	mu         sync.Mutex
	identities map[string]*identity
}

// NewFactory registers the audio codecs both legs relay without transcoding
// and the default interceptors.
func NewFactory(config *Config) (*Factory, error) {
	if config == nil {
		config = DefaultConfig()
	}

	m := &webrtc.MediaEngine{}
	codecs := []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
			PayloadType:        0,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
			PayloadType:        8,
		},
	}
	for _, codec := range codecs {
		if err := m.RegisterCodec(codec, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", codec.MimeType, err)
		}
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Factory{
		mediaEngine:  m,
		interceptors: i,
		config:       config,
		logger:       logger.Named("media"),
		identities:   make(map[string]*identity),
	}, nil
}

func (f *Factory) newAPI(id *identity) *webrtc.API {
	// The calling service may send RTP before the answer is fully processed.
	settings := webrtc.SettingEngine{}
	settings.SetHandleUndeclaredSSRCWithoutAnswer(true)
	settings.SetICECredentials(id.ufrag, id.pwd)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(f.mediaEngine),
		webrtc.WithSettingEngine(settings),
		webrtc.WithInterceptorRegistry(f.interceptors),
	)
}

// NewPeer creates a peer for one leg of callID with an outbound audio track
// already negotiated as sendrecv.
func (f *Factory) NewPeer(callID string, leg Leg) (Peer, error) {
	id, release, err := f.identityFor(callID, leg)
	if err != nil {
		return nil, err
	}
	if release == nil {
		release = func() {}
	}

	pc, err := f.newAPI(id).NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		Certificates: []webrtc.Certificate{id.certificate},
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	outbound, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"wacall-"+leg.String(),
	)
	if err != nil {
		_ = pc.Close()
		release()
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	transceiver, err := pc.AddTransceiverFromTrack(outbound,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		_ = pc.Close()
		release()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	p := &pionPeer{
		pc:            pc,
		outbound:      outbound,
		identity:      id,
		release:       release,
		gatherTimeout: f.config.GatherTimeout,
		done:          make(chan struct{}),
		logger:        f.logger.With(zap.String("call_id", callID), zap.String("leg", leg.String())),
	}

	// Drain RTCP so the sender's interceptors keep running.
	go func() {
		sender := transceiver.Sender()
		buf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(buf); rtcpErr != nil {
				return
			}
		}
	}()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.mu.Lock()
		handler := p.onICECandidate
		p.mu.Unlock()
		if handler != nil {
			handler(c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info("connection state changed", zap.String("state", s.String()))
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Info("remote track received",
			zap.String("codec", remote.Codec().MimeType),
			zap.Uint32("ssrc", uint32(remote.SSRC())),
		)
		p.mu.Lock()
		handler := p.onTrack
		p.mu.Unlock()
		if handler != nil {
			handler(&remoteTrack{track: remote})
		}
	})

	return p, nil
}

type pionPeer struct {
	mu sync.Mutex

	pc            *webrtc.PeerConnection
	outbound      *webrtc.TrackLocalStaticRTP
	identity      *identity
	release       func()
	gatherTimeout time.Duration

	// mirrored is set when the remote offer is this call's own telephony
	// description. The peer then negotiates as the offerer.
	mirrored          bool
	remoteSet         bool
	pendingCandidates []ICECandidate
	forwarding        bool
	closed            bool
	done              chan struct{}

	onTrack        func(track Track)
	onICECandidate func(candidate ICECandidate)

	logger *zap.Logger
}

// SetRemoteOffer applies sdp as the remote offer. An offer carrying this
// peer's own ICE credentials is the telephony leg's description handed to
// the browser; it is recorded, not applied, and SetLocalAnswer then treats
// the browser's answer as the answer to an offer of our own.
func (p *pionPeer) SetRemoteOffer(sdp string) error {
	if p.isClosed() {
		return ErrPeerClosed
	}
	sdp = NormalizeSDP(sdp)

	if p.identity != nil && iceUfrag(sdp) == p.identity.ufrag {
		if _, err := InspectSDP(sdp); err != nil {
			return fmt.Errorf("failed to set remote offer: %w", err)
		}
		p.mu.Lock()
		p.mirrored = true
		p.mu.Unlock()
		p.logger.Debug("remote offer is this call's own description")
		return nil
	}

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("failed to set remote offer: %w", err)
	}
	p.flushCandidates()
	return nil
}

// flushCandidates marks the remote description as set and applies the
// candidates that arrived before it.
func (p *pionPeer) flushCandidates() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteSet = true
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.logger.Warn("failed to apply queued candidate", zap.Error(err))
		}
	}
	if len(pending) > 0 {
		p.logger.Debug("flushed queued candidates", zap.Int("count", len(pending)))
	}
}

func (p *pionPeer) CreateAnswer() (string, error) {
	if p.isClosed() {
		return "", ErrPeerClosed
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return answer.SDP, nil
}

func (p *pionPeer) SetLocalAnswer(sdp string) error {
	if p.isClosed() {
		return ErrPeerClosed
	}
	p.mu.Lock()
	mirrored := p.mirrored
	p.mu.Unlock()
	if mirrored {
		return p.acceptAnswer(sdp)
	}

	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  NormalizeSDP(sdp),
	}); err != nil {
		return fmt.Errorf("failed to set local answer: %w", err)
	}

	timeout := p.gatherTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().GatherTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		p.logger.Warn("candidate gathering timed out", zap.Duration("timeout", timeout))
	case <-p.done:
		return ErrPeerClosed
	}
	return nil
}

// acceptAnswer negotiates with a peer that answered this call's own
// description: a local offer under the shared identity, then sdp as the
// remote answer. Candidates trickle through OnICECandidate.
func (p *pionPeer) acceptAnswer(sdp string) error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local offer: %w", err)
	}

	answer, err := alignMids(NormalizeSDP(sdp), offer.SDP)
	if err != nil {
		return fmt.Errorf("failed to read answer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	p.flushCandidates()
	return nil
}

func (p *pionPeer) LocalDescription() string {
	desc := p.pc.LocalDescription()
	if desc == nil {
		return ""
	}
	return desc.SDP
}

func (p *pionPeer) AddICECandidate(candidate ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	if !p.remoteSet {
		p.pendingCandidates = append(p.pendingCandidates, candidate)
		return nil
	}
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add candidate: %w", err)
	}
	return nil
}

func (p *pionPeer) AddTrack(track Track) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	if p.forwarding {
		p.mu.Unlock()
		return ErrTrackAttached
	}
	p.forwarding = true
	p.mu.Unlock()

	go relay(track, p.outbound, p.done, p.logger)
	return nil
}

func (p *pionPeer) OnTrack(handler func(track Track)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = handler
}

func (p *pionPeer) OnICECandidate(handler func(candidate ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICECandidate = handler
}

func (p *pionPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	if p.release != nil {
		p.release()
	}
	if p.pc == nil {
		return nil
	}
	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}

func (p *pionPeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// remoteTrack adapts a pion remote track to Track.
type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string    { return t.track.ID() }
func (t *remoteTrack) Kind() string  { return t.track.Kind().String() }
func (t *remoteTrack) Codec() string { return t.track.Codec().MimeType }

func (t *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}
