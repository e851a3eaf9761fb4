/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/rtp"

	"github.com/tejzpr/wacall-bridge/graph"
	"github.com/tejzpr/wacall-bridge/media"
	"github.com/tejzpr/wacall-bridge/signaling"
)

type fakeTrack struct {
	id string
}

func (t *fakeTrack) ID() string    { return t.id }
func (t *fakeTrack) Kind() string  { return "audio" }
func (t *fakeTrack) Codec() string { return "audio/opus" }

func (t *fakeTrack) ReadRTP() (*rtp.Packet, error) {
	return nil, errors.New("fake track has no media")
}

type fakePeer struct {
	leg media.Leg

	mu          sync.Mutex
	remote      string
	local       string
	candidates  []media.ICECandidate
	tracks      []media.Track
	onTrack     func(media.Track)
	onCandidate func(media.ICECandidate)
	closeCount  int
	remoteErr   error
}

func (p *fakePeer) SetRemoteOffer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remote = sdp
	return nil
}

func (p *fakePeer) CreateAnswer() (string, error) {
	return "answer-from-" + p.leg.String(), nil
}

func (p *fakePeer) SetLocalAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = sdp
	return nil
}

func (p *fakePeer) LocalDescription() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePeer) AddICECandidate(candidate media.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakePeer) AddTrack(track media.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePeer) OnTrack(handler func(media.Track)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = handler
}

func (p *fakePeer) OnICECandidate(handler func(media.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = handler
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCount++
	return nil
}

func (p *fakePeer) hasTrackHandler() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onTrack != nil
}

func (p *fakePeer) fireTrack(track media.Track) {
	p.mu.Lock()
	handler := p.onTrack
	p.mu.Unlock()
	handler(track)
}

func (p *fakePeer) fireCandidate(candidate media.ICECandidate) {
	p.mu.Lock()
	handler := p.onCandidate
	p.mu.Unlock()
	handler(candidate)
}

func (p *fakePeer) trackCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks)
}

func (p *fakePeer) closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

func (p *fakePeer) remoteSDP() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

type fakeFactory struct {
	mu    sync.Mutex
	peers map[media.Leg][]*fakePeer
	errs  map[media.Leg]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		peers: make(map[media.Leg][]*fakePeer),
		errs:  make(map[media.Leg]error),
	}
}

func (f *fakeFactory) NewPeer(_ string, leg media.Leg) (media.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[leg]; err != nil {
		return nil, err
	}
	p := &fakePeer{leg: leg}
	f.peers[leg] = append(f.peers[leg], p)
	return p, nil
}

func (f *fakeFactory) peer(leg media.Leg) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers[leg]) == 0 {
		return nil
	}
	return f.peers[leg][0]
}

func (f *fakeFactory) count(leg media.Leg) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers[leg])
}

type actionCall struct {
	callID string
	action graph.Action
	sdp    string
}

type fakeActions struct {
	mu      sync.Mutex
	calls   []actionCall
	results map[graph.Action]bool
}

func newFakeActions() *fakeActions {
	return &fakeActions{results: make(map[graph.Action]bool)}
}

func (a *fakeActions) Send(_ context.Context, callID string, action graph.Action, sdp string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, actionCall{callID: callID, action: action, sdp: sdp})
	if ok, set := a.results[action]; set {
		return ok
	}
	return true
}

func (a *fakeActions) fail(action graph.Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[action] = false
}

func (a *fakeActions) sent() []actionCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]actionCall(nil), a.calls...)
}

func (a *fakeActions) actions() []graph.Action {
	var out []graph.Action
	for _, c := range a.sent() {
		out = append(out, c.action)
	}
	return out
}

type sentMessage struct {
	channelID string
	msg       signaling.Message
}

type fakeNotifier struct {
	mu         sync.Mutex
	broadcasts []signaling.Message
	sends      []sentMessage
}

func (n *fakeNotifier) Broadcast(msg signaling.Message) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, msg)
	return 1
}

func (n *fakeNotifier) Send(channelID string, msg signaling.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, sentMessage{channelID: channelID, msg: msg})
	return nil
}

func (n *fakeNotifier) broadcastsOf(typ signaling.Type) []signaling.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []signaling.Message
	for _, m := range n.broadcasts {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (n *fakeNotifier) sendsOf(typ signaling.Type) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, s := range n.sends {
		if s.msg.Type == typ {
			out = append(out, s)
		}
	}
	return out
}
