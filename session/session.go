/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package session holds per-call state for bridged calls and the registry
// that decides which calls are live.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/looplab/fsm"
	"go.uber.org/multierr"

	"github.com/tejzpr/wacall-bridge/media"
)

// State is the lifecycle state of a call session.
type State string

const (
	StateRinging    State = "ringing"
	StateAnswering  State = "answering"
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateTerminated
}

const (
	eventAnswer    = "answer"
	eventActivate  = "activate"
	eventTerminate = "terminate"
)

// Cause records why a session was terminated.
type Cause string

const (
	CauseRemoteTerminate Cause = "remote_terminate"
	CauseBrowserHangup   Cause = "browser_hangup"
	CauseBrowserReject   Cause = "browser_reject"
	CausePreAcceptFailed Cause = "pre_accept_failed"
	CauseAcceptFailed    Cause = "accept_failed"
	CauseMediaFailure    Cause = "media_failure"
	CauseShutdown        Cause = "shutdown"
)

// ErrTerminated is returned when attaching resources to a terminated session.
var ErrTerminated = errors.New("call session is terminated")

// Params describes a call at creation time.
type Params struct {
	CallID     string
	CallerName string
	CallerID   string
	OfferSDP   string
}

// CallSession is the state of one bridged call. It owns both peer
// connections and closes them on Terminate.
type CallSession struct {
	CallID     string
	CallerName string
	CallerID   string
	OfferSDP   string
	CreatedAt  time.Time

	mu            sync.Mutex
	telephony     media.Peer
	browser       media.Peer
	channelID     string
	pendingTracks []media.Track
	answeredAt    time.Time
	endedAt       time.Time
	cause         Cause

	machine  *fsm.FSM
	ctx      context.Context
	cancel   context.CancelFunc
	ended    core.Fuse
	teardown sync.Once
}

// New creates a session in the ringing state.
func New(p Params) *CallSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &CallSession{
		CallID:     p.CallID,
		CallerName: p.CallerName,
		CallerID:   p.CallerID,
		OfferSDP:   p.OfferSDP,
		CreatedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.machine = fsm.NewFSM(
		string(StateRinging),
		fsm.Events{
			{Name: eventAnswer, Src: []string{string(StateRinging)}, Dst: string(StateAnswering)},
			{Name: eventActivate, Src: []string{string(StateAnswering)}, Dst: string(StateActive)},
			{Name: eventTerminate, Src: []string{string(StateRinging), string(StateAnswering), string(StateActive)}, Dst: string(StateTerminated)},
		},
		fsm.Callbacks{
			"enter_" + string(StateActive): func(_ context.Context, _ *fsm.Event) {
				s.mu.Lock()
				s.answeredAt = time.Now()
				s.mu.Unlock()
			},
		},
	)
	return s
}

// State returns the current lifecycle state.
func (s *CallSession) State() State {
	return State(s.machine.Current())
}

// Answer moves a ringing session to answering.
func (s *CallSession) Answer() error {
	return s.transition(eventAnswer)
}

// Activate moves an answering session to active.
func (s *CallSession) Activate() error {
	return s.transition(eventActivate)
}

func (s *CallSession) transition(event string) error {
	if s.ended.IsBroken() {
		return ErrTerminated
	}
	if err := s.machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("cannot %s call in state %s: %w", event, s.machine.Current(), err)
	}
	return nil
}

// Context is cancelled when the session terminates.
func (s *CallSession) Context() context.Context {
	return s.ctx
}

// Done is closed when the session terminates.
func (s *CallSession) Done() <-chan struct{} {
	return s.ended.Watch()
}

// IsTerminated reports whether Terminate has started.
func (s *CallSession) IsTerminated() bool {
	return s.ended.IsBroken()
}

// SetTelephony stores the telephony leg. It returns ErrTerminated if the
// session ended first; the caller then still owns p.
func (s *CallSession) SetTelephony(p media.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended.IsBroken() {
		return ErrTerminated
	}
	s.telephony = p
	return nil
}

// Telephony returns the telephony leg, or nil.
func (s *CallSession) Telephony() media.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephony
}

// AttachBrowser stores the browser leg and forwards any telephony tracks
// that arrived before it. It returns ErrTerminated if the session ended
// first; the caller then still owns p.
func (s *CallSession) AttachBrowser(p media.Peer) error {
	s.mu.Lock()
	if s.ended.IsBroken() {
		s.mu.Unlock()
		return ErrTerminated
	}
	s.browser = p
	pending := s.pendingTracks
	s.pendingTracks = nil
	s.mu.Unlock()

	var err error
	for _, track := range pending {
		err = multierr.Append(err, p.AddTrack(track))
	}
	return err
}

// Browser returns the browser leg, or nil.
func (s *CallSession) Browser() media.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser
}

// ForwardTelephonyTrack sends a telephony track to the browser leg, holding
// it until the browser leg exists.
func (s *CallSession) ForwardTelephonyTrack(track media.Track) error {
	s.mu.Lock()
	if s.ended.IsBroken() {
		s.mu.Unlock()
		return ErrTerminated
	}
	browser := s.browser
	if browser == nil {
		s.pendingTracks = append(s.pendingTracks, track)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return browser.AddTrack(track)
}

// BindChannel binds the browser channel that answered the call. Only the
// first binding sticks; it reports whether id is the bound channel.
func (s *CallSession) BindChannel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelID == "" {
		s.channelID = id
	}
	return s.channelID == id
}

// ChannelID returns the bound browser channel id, or "".
func (s *CallSession) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// AcceptsFrom reports whether messages from channel id may act on this call.
func (s *CallSession) AcceptsFrom(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID == "" || s.channelID == id
}

// Terminate ends the session: it cancels the session context, moves to
// terminated and closes both legs. Concurrent and repeated calls coalesce
// into one teardown; only the call that performed it gets first == true.
func (s *CallSession) Terminate(cause Cause) (first bool, err error) {
	s.teardown.Do(func() {
		first = true
		s.ended.Break()
		s.cancel()

		if fsmErr := s.machine.Event(context.Background(), eventTerminate); fsmErr != nil {
			err = multierr.Append(err, fsmErr)
		}

		s.mu.Lock()
		telephony, browser := s.telephony, s.browser
		s.pendingTracks = nil
		s.endedAt = time.Now()
		s.cause = cause
		s.mu.Unlock()

		if browser != nil {
			err = multierr.Append(err, browser.Close())
		}
		if telephony != nil {
			err = multierr.Append(err, telephony.Close())
		}
	})
	return first, err
}

// Cause returns the termination cause, or "" while live.
func (s *CallSession) Cause() Cause {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	CallID     string    `json:"callId"`
	CallerName string    `json:"callerName"`
	CallerID   string    `json:"callerId"`
	State      State     `json:"state"`
	ChannelID  string    `json:"channelId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	AnsweredAt time.Time `json:"answeredAt,omitzero"`
	EndedAt    time.Time `json:"endedAt,omitzero"`
	Cause      Cause     `json:"cause,omitempty"`
}

// Snapshot returns the current view of the session.
func (s *CallSession) Snapshot() Snapshot {
	state := s.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		CallID:     s.CallID,
		CallerName: s.CallerName,
		CallerID:   s.CallerID,
		State:      state,
		ChannelID:  s.channelID,
		CreatedAt:  s.CreatedAt,
		AnsweredAt: s.answeredAt,
		EndedAt:    s.endedAt,
		Cause:      s.cause,
	}
}
