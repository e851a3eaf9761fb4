/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func testFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(&Config{GatherTimeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return f
}

// remoteOffer produces an audio offer from a plain pion peer, standing in for
// the calling service.
func remoteOffer(t *testing.T) string {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("Unexpected error adding transceiver: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("Unexpected error creating offer: %v", err)
	}
	gather := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("Unexpected error setting local description: %v", err)
	}
	<-gather
	return pc.LocalDescription().SDP
}

func TestFactory(t *testing.T) {
	t.Run("NewFactory with nil config", func(t *testing.T) {
		f, err := NewFactory(nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if f == nil {
			t.Fatal("Expected non-nil Factory")
		}
	})

	t.Run("NewPeer for both legs", func(t *testing.T) {
		f := testFactory(t)
		for _, leg := range []Leg{LegTelephony, LegBrowser} {
			p, err := f.NewPeer("call-1", leg)
			if err != nil {
				t.Fatalf("Unexpected error creating %s peer: %v", leg, err)
			}
			if p.LocalDescription() != "" {
				t.Errorf("Expected empty local description before negotiation, got %q", p.LocalDescription())
			}
			_ = p.Close()
		}
	})
}

func TestPeer_AnswerFlow(t *testing.T) {
	p, err := testFactory(t).NewPeer("call-1", LegTelephony)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer func() { _ = p.Close() }()

	if err := p.SetRemoteOffer(remoteOffer(t)); err != nil {
		t.Fatalf("Unexpected error setting remote offer: %v", err)
	}
	answer, err := p.CreateAnswer()
	if err != nil {
		t.Fatalf("Unexpected error creating answer: %v", err)
	}
	if !strings.Contains(answer, "m=audio") {
		t.Errorf("Expected audio section in answer, got: %s", answer)
	}
	if err := p.SetLocalAnswer(answer); err != nil {
		t.Fatalf("Unexpected error setting local answer: %v", err)
	}

	local := p.LocalDescription()
	if !strings.Contains(local, "a=ice-ufrag") {
		t.Errorf("Expected ICE credentials in local description, got: %s", local)
	}
	if _, err := InspectSDP(local); err != nil {
		t.Errorf("Local description should parse: %v", err)
	}
}

// answerAsBrowser answers offer from a plain pion peer, standing in for the
// operator's browser.
func answerAsBrowser(t *testing.T, offer string) string {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		t.Fatalf("Browser rejected the offer: %v", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("Unexpected error creating answer: %v", err)
	}
	gather := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		t.Fatalf("Unexpected error setting local description: %v", err)
	}
	<-gather
	return pc.LocalDescription().SDP
}

// answeredTelephonyLeg returns a telephony leg for callID that has answered
// a remote offer.
func answeredTelephonyLeg(t *testing.T, f *Factory, callID string) Peer {
	t.Helper()
	tel, err := f.NewPeer(callID, LegTelephony)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = tel.Close() })

	if err := tel.SetRemoteOffer(remoteOffer(t)); err != nil {
		t.Fatalf("Unexpected error setting remote offer: %v", err)
	}
	answer, err := tel.CreateAnswer()
	if err != nil {
		t.Fatalf("Unexpected error creating answer: %v", err)
	}
	if err := tel.SetLocalAnswer(answer); err != nil {
		t.Fatalf("Unexpected error setting local answer: %v", err)
	}
	return tel
}

func TestPeer_BrowserLegAcceptsBrowserAnswer(t *testing.T) {
	f := testFactory(t)
	tel := answeredTelephonyLeg(t, f, "call-1")
	offered := tel.LocalDescription()
	browserAnswer := answerAsBrowser(t, offered)

	leg, err := f.NewPeer("call-1", LegBrowser)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer func() { _ = leg.Close() }()

	var mu sync.Mutex
	var trickled []ICECandidate
	leg.OnICECandidate(func(c ICECandidate) {
		mu.Lock()
		trickled = append(trickled, c)
		mu.Unlock()
	})

	if err := leg.SetRemoteOffer(offered); err != nil {
		t.Fatalf("Unexpected error setting the telephony description: %v", err)
	}
	if err := leg.SetLocalAnswer(browserAnswer); err != nil {
		t.Fatalf("Browser answer should be accepted, got: %v", err)
	}

	local := leg.LocalDescription()
	if local == "" {
		t.Fatal("Expected a local description after accepting the answer")
	}
	if got, want := iceUfrag(local), iceUfrag(offered); got != want {
		t.Errorf("Expected browser leg to present ufrag %q, got %q", want, got)
	}
	if got, want := sdpAttribute(local, "fingerprint"), sdpAttribute(offered, "fingerprint"); got != want {
		t.Errorf("Expected browser leg to present fingerprint %q, got %q", want, got)
	}

	// Candidates from the browser are applied once the answer is in.
	mid := "0"
	if err := leg.AddICECandidate(ICECandidate{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.10 50000 typ host",
		SDPMid:    &mid,
	}); err != nil {
		t.Errorf("Unexpected error adding candidate: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(trickled)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected browser leg candidates to trickle out")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPeer_ForeignAnswerWithoutSharedIdentity(t *testing.T) {
	f := testFactory(t)
	tel := answeredTelephonyLeg(t, f, "call-1")
	offered := tel.LocalDescription()
	browserAnswer := answerAsBrowser(t, offered)

	// A leg of another call does not share the identity, so the offer is
	// applied as a real remote offer and the foreign answer is refused.
	leg, err := f.NewPeer("call-2", LegBrowser)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer func() { _ = leg.Close() }()

	if err := leg.SetRemoteOffer(offered); err != nil {
		t.Fatalf("Unexpected error setting remote offer: %v", err)
	}
	if err := leg.SetLocalAnswer(browserAnswer); err == nil {
		t.Error("Expected an answer not generated by this peer to be refused")
	}
}

func TestFactory_IdentityReleasedOnClose(t *testing.T) {
	f := testFactory(t)
	tel, err := f.NewPeer("call-1", LegTelephony)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	browser, err := f.NewPeer("call-1", LegBrowser)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tel.(*pionPeer).identity != browser.(*pionPeer).identity {
		t.Error("Expected both legs of a call to share one identity")
	}

	_ = browser.Close()
	f.mu.Lock()
	_, held := f.identities["call-1"]
	f.mu.Unlock()
	if !held {
		t.Error("Closing the browser leg must not release the identity")
	}

	_ = tel.Close()
	f.mu.Lock()
	_, held = f.identities["call-1"]
	f.mu.Unlock()
	if held {
		t.Error("Expected identity to be released with the telephony leg")
	}
}

func TestPeer_CandidateBeforeRemoteDescription(t *testing.T) {
	p, err := testFactory(t).NewPeer("call-1", LegBrowser)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer func() { _ = p.Close() }()

	mid := "0"
	candidate := ICECandidate{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.10 50000 typ host",
		SDPMid:    &mid,
	}
	if err := p.AddICECandidate(candidate); err != nil {
		t.Fatalf("Expected early candidate to be queued, got error: %v", err)
	}

	pp := p.(*pionPeer)
	pp.mu.Lock()
	queued := len(pp.pendingCandidates)
	pp.mu.Unlock()
	if queued != 1 {
		t.Fatalf("Expected 1 queued candidate, got %d", queued)
	}

	if err := p.SetRemoteOffer(remoteOffer(t)); err != nil {
		t.Fatalf("Unexpected error setting remote offer: %v", err)
	}
	pp.mu.Lock()
	queued = len(pp.pendingCandidates)
	pp.mu.Unlock()
	if queued != 0 {
		t.Errorf("Expected queue to be flushed, %d left", queued)
	}
}

func TestPeer_Close(t *testing.T) {
	p, err := testFactory(t).NewPeer("call-1", LegTelephony)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Unexpected error closing: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Second close should be a no-op, got: %v", err)
	}

	if err := p.SetRemoteOffer("v=0"); !errors.Is(err, ErrPeerClosed) {
		t.Errorf("Expected ErrPeerClosed, got %v", err)
	}
	if err := p.AddICECandidate(ICECandidate{Candidate: "x"}); !errors.Is(err, ErrPeerClosed) {
		t.Errorf("Expected ErrPeerClosed, got %v", err)
	}
	if err := p.AddTrack(&fakeTrack{}); !errors.Is(err, ErrPeerClosed) {
		t.Errorf("Expected ErrPeerClosed, got %v", err)
	}
}

func TestPeer_CloseZeroValue(t *testing.T) {
	p := &pionPeer{done: make(chan struct{})}
	if err := p.Close(); err != nil {
		t.Fatalf("Closing a partially initialized peer should succeed, got: %v", err)
	}
}

func TestPeer_AddTrackOnce(t *testing.T) {
	p, err := testFactory(t).NewPeer("call-1", LegBrowser)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer func() { _ = p.Close() }()

	if err := p.AddTrack(&fakeTrack{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := p.AddTrack(&fakeTrack{}); !errors.Is(err, ErrTrackAttached) {
		t.Errorf("Expected ErrTrackAttached, got %v", err)
	}
}

func TestRelayICEServers(t *testing.T) {
	if got := RelayICEServers("", ""); len(got) != 1 {
		t.Errorf("Expected STUN only without credentials, got %d servers", len(got))
	}

	got := RelayICEServers("user", "secret")
	if len(got) != 3 {
		t.Fatalf("Expected 3 servers, got %d", len(got))
	}
	if got[2].URLs[0] != "turns:global.relay.metered.ca:443?transport=tcp" {
		t.Errorf("Unexpected TLS relay url %q", got[2].URLs[0])
	}
	if got[1].Username != "user" || got[1].Credential != "secret" {
		t.Errorf("Expected relay credentials to be set, got %+v", got[1])
	}
}

func TestLegString(t *testing.T) {
	if LegTelephony.String() != "telephony" || LegBrowser.String() != "browser" {
		t.Errorf("Unexpected leg names %q %q", LegTelephony, LegBrowser)
	}
	if Leg(9).String() != "unknown" {
		t.Errorf("Expected unknown for out of range leg")
	}
}
