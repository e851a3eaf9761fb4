/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package bridge drives each inbound call from ringing to teardown, joining
// the telephony leg to the browser operator that answers it.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tejzpr/wacall-bridge/graph"
	"github.com/tejzpr/wacall-bridge/history"
	"github.com/tejzpr/wacall-bridge/media"
	"github.com/tejzpr/wacall-bridge/metrics"
	"github.com/tejzpr/wacall-bridge/session"
	"github.com/tejzpr/wacall-bridge/signaling"
	"github.com/tejzpr/wacall-bridge/webhook"
)

// ErrShuttingDown is returned for connect events received after Close.
var ErrShuttingDown = errors.New("bridge is shutting down")

// ActionSender issues control-plane call actions. It reports success only.
type ActionSender interface {
	Send(ctx context.Context, callID string, action graph.Action, sdp string) bool
}

// PeerFactory creates media legs.
type PeerFactory interface {
	NewPeer(callID string, leg media.Leg) (media.Peer, error)
}

// Notifier delivers signaling messages to browser operators.
type Notifier interface {
	Broadcast(msg signaling.Message) int
	Send(channelID string, msg signaling.Message) error
}

// Config holds configuration for the Orchestrator.
type Config struct {
	// AcceptDelay separates a successful pre_accept from accept.
	AcceptDelay time.Duration

	// ActionTimeout bounds each control-plane request and history write.
	ActionTimeout time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns a Config with a one second accept delay.
func DefaultConfig() *Config {
	return &Config{
		AcceptDelay:   time.Second,
		ActionTimeout: 15 * time.Second,
	}
}

// Deps are the collaborators of an Orchestrator. History and Metrics are
// optional.
type Deps struct {
	Sessions session.Store
	Peers    PeerFactory
	Actions  ActionSender
	Notifier Notifier
	History  history.Store
	Metrics  *metrics.Metrics
}

// Orchestrator handles webhook call events and browser signaling.
type Orchestrator struct {
	config   *Config
	sessions session.Store
	peers    PeerFactory
	actions  ActionSender
	notifier Notifier
	history  history.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var (
	_ webhook.Handler   = (*Orchestrator)(nil)
	_ signaling.Handler = (*Orchestrator)(nil)
)

// New creates an Orchestrator.
func New(config *Config, deps Deps) (*Orchestrator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Sessions == nil || deps.Peers == nil || deps.Actions == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("sessions, peers, actions and notifier are required")
	}
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = DefaultConfig().ActionTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		config:   config,
		sessions: deps.Sessions,
		peers:    deps.Peers,
		actions:  deps.Actions,
		notifier: deps.Notifier,
		history:  deps.History,
		metrics:  deps.Metrics,
		logger:   logger.Named("bridge"),
	}, nil
}

// HandleCallEvent applies a webhook call event.
func (o *Orchestrator) HandleCallEvent(_ context.Context, event *webhook.CallEvent) error {
	switch event.Event {
	case webhook.EventConnect:
		return o.connect(event)
	case webhook.EventTerminate:
		o.remoteTerminate(event.CallID)
		return nil
	default:
		o.logger.Debug("ignoring call event", zap.String("call_id", event.CallID), zap.String("event", event.Event))
		return nil
	}
}

// HandleMessage applies a browser signaling message.
func (o *Orchestrator) HandleMessage(channelID string, msg signaling.Message) {
	if o.isClosed() {
		return
	}
	logger := o.logger.With(zap.String("call_id", msg.CallID), zap.String("channel_id", channelID))

	sess, ok := o.sessions.Get(msg.CallID)
	if !ok || sess.IsTerminated() {
		logger.Info("ignoring message for unknown call", zap.String("type", string(msg.Type)))
		return
	}

	switch msg.Type {
	case signaling.TypeAnswer:
		o.answer(sess, channelID, msg.SDP, logger)
	case signaling.TypeCandidate:
		o.remoteCandidate(sess, channelID, msg.Candidate, logger)
	case signaling.TypeHangup:
		o.browserEnd(sess, channelID, graph.ActionTerminate, session.CauseBrowserHangup, logger)
	case signaling.TypeReject:
		o.browserEnd(sess, channelID, graph.ActionReject, session.CauseBrowserReject, logger)
	default:
		logger.Debug("ignoring message", zap.String("type", string(msg.Type)))
	}
}

// Close tears down every live call with a best-effort terminate action and
// waits for in-flight work until ctx is done. Later connects fail with
// ErrShuttingDown.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	sessions := o.sessions.List()
	o.logger.Info("shutting down bridge", zap.Int("calls", len(sessions)))
	for _, sess := range sessions {
		if !o.teardown(sess, session.CauseShutdown, true) {
			continue
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.endAction(sess.CallID, graph.ActionTerminate)()
		}()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) connect(event *webhook.CallEvent) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	sess, created := o.sessions.Create(session.Params{
		CallID:     event.CallID,
		CallerName: event.CallerName,
		CallerID:   event.CallerID,
		OfferSDP:   media.NormalizeSDP(event.SDP),
	})
	if created {
		o.wg.Add(1)
	}
	o.mu.Unlock()

	logger := o.logger.With(zap.String("call_id", event.CallID))
	if !created {
		logger.Info("ignoring duplicate connect", zap.String("state", string(sess.State())))
		return nil
	}

	logger.Info("incoming call", zap.String("caller", sess.CallerName), zap.String("caller_id", sess.CallerID))
	o.metrics.CallStarted()
	o.notifier.Broadcast(signaling.IncomingCall(sess.CallID, sess.CallerName, sess.CallerID))

	go func() {
		defer o.wg.Done()
		o.ring(sess, logger)
	}()
	return nil
}

// ring negotiates the telephony leg and offers the call to browsers.
func (o *Orchestrator) ring(sess *session.CallSession, logger *zap.Logger) {
	peer, err := o.peers.NewPeer(sess.CallID, media.LegTelephony)
	if err != nil {
		logger.Error("failed to create telephony leg", zap.Error(err))
		o.teardown(sess, session.CauseMediaFailure, false)
		return
	}
	if err := sess.SetTelephony(peer); err != nil {
		_ = peer.Close()
		return
	}

	peer.OnTrack(func(track media.Track) {
		logger.Info("telephony track received", zap.String("codec", track.Codec()))
		if err := sess.ForwardTelephonyTrack(track); err != nil && !errors.Is(err, session.ErrTerminated) {
			logger.Warn("failed to forward telephony track", zap.Error(err))
		}
	})

	if err := answerOffer(peer, sess.OfferSDP); err != nil {
		logger.Error("failed to negotiate telephony leg", zap.Error(err))
		o.teardown(sess, session.CauseMediaFailure, false)
		return
	}
	if sess.IsTerminated() {
		return
	}

	o.notifier.Broadcast(signaling.Offer(sess.CallID, sess.CallerName, peer.LocalDescription()))
	logger.Debug("offered call to browsers")
}

func answerOffer(peer media.Peer, offer string) error {
	if err := peer.SetRemoteOffer(offer); err != nil {
		return err
	}
	answer, err := peer.CreateAnswer()
	if err != nil {
		return err
	}
	return peer.SetLocalAnswer(answer)
}

func (o *Orchestrator) answer(sess *session.CallSession, channelID, sdp string, logger *zap.Logger) {
	if sdp == "" {
		logger.Warn("ignoring answer without sdp")
		return
	}
	telephony := sess.Telephony()
	if telephony == nil || telephony.LocalDescription() == "" {
		logger.Warn("ignoring answer before the call was offered")
		return
	}
	if !sess.BindChannel(channelID) {
		logger.Info("ignoring answer from another browser", zap.String("bound_channel_id", sess.ChannelID()))
		return
	}
	if err := sess.Answer(); err != nil {
		logger.Info("ignoring answer", zap.Error(err))
		return
	}

	logger.Info("call answered by browser")
	o.spawn(func() {
		o.bridgeCall(sess, telephony, channelID, sdp, logger)
	})
}

// bridgeCall joins the browser leg to the telephony leg, then runs the
// pre_accept, delay, accept sequence.
func (o *Orchestrator) bridgeCall(sess *session.CallSession, telephony media.Peer, channelID, answerSDP string, logger *zap.Logger) {
	browser, err := o.peers.NewPeer(sess.CallID, media.LegBrowser)
	if err != nil {
		logger.Error("failed to create browser leg", zap.Error(err))
		o.teardown(sess, session.CauseMediaFailure, false)
		return
	}

	browser.OnTrack(func(track media.Track) {
		logger.Info("browser track received", zap.String("codec", track.Codec()))
		if err := telephony.AddTrack(track); err != nil {
			logger.Warn("failed to forward browser track", zap.Error(err))
		}
	})
	browser.OnICECandidate(func(candidate media.ICECandidate) {
		raw, err := json.Marshal(candidate)
		if err != nil {
			logger.Warn("failed to encode candidate", zap.Error(err))
			return
		}
		if err := o.notifier.Send(channelID, signaling.Candidate(sess.CallID, raw)); err != nil {
			logger.Debug("failed to relay candidate", zap.Error(err))
		}
	})

	if err := sess.AttachBrowser(browser); err != nil {
		if errors.Is(err, session.ErrTerminated) {
			_ = browser.Close()
			return
		}
		logger.Warn("failed to forward pending telephony track", zap.Error(err))
	}

	if err := browser.SetRemoteOffer(telephony.LocalDescription()); err != nil {
		logger.Error("failed to apply offer to browser leg", zap.Error(err))
		o.teardown(sess, session.CauseMediaFailure, false)
		return
	}
	if err := browser.SetLocalAnswer(answerSDP); err != nil {
		logger.Error("failed to apply browser answer", zap.Error(err))
		o.teardown(sess, session.CauseMediaFailure, false)
		return
	}

	localSDP := telephony.LocalDescription()
	if !o.sendAction(sess.Context(), sess.CallID, graph.ActionPreAccept, localSDP) {
		if !sess.IsTerminated() {
			logger.Warn("pre_accept failed, terminating call")
			o.teardown(sess, session.CausePreAcceptFailed, false)
		}
		return
	}

	timer := time.NewTimer(o.config.AcceptDelay)
	defer timer.Stop()
	select {
	case <-sess.Done():
		logger.Debug("call ended before accept")
		return
	case <-timer.C:
	}

	if !o.sendAction(sess.Context(), sess.CallID, graph.ActionAccept, localSDP) {
		if !sess.IsTerminated() {
			logger.Warn("accept failed, terminating call")
			o.teardown(sess, session.CauseAcceptFailed, false)
		}
		return
	}
	if err := sess.Activate(); err != nil {
		logger.Debug("call ended during accept", zap.Error(err))
		return
	}

	o.metrics.CallActivated(time.Since(sess.CreatedAt))
	logger.Info("call active")
	if err := o.notifier.Send(channelID, signaling.Active(sess.CallID)); err != nil {
		logger.Warn("failed to notify browser of active call", zap.Error(err))
	}
}

func (o *Orchestrator) remoteCandidate(sess *session.CallSession, channelID string, raw json.RawMessage, logger *zap.Logger) {
	if !sess.AcceptsFrom(channelID) {
		logger.Debug("ignoring candidate from another browser")
		return
	}
	browser := sess.Browser()
	if browser == nil {
		logger.Debug("dropping candidate before browser leg exists")
		return
	}
	var candidate media.ICECandidate
	if err := json.Unmarshal(raw, &candidate); err != nil {
		logger.Warn("ignoring malformed candidate", zap.Error(err))
		return
	}
	if err := browser.AddICECandidate(candidate); err != nil {
		logger.Warn("failed to add candidate", zap.Error(err))
	}
}

// browserEnd tears the call down first, so a pending accept is cancelled,
// and then tells the calling service. Both run off the signaling read loop.
func (o *Orchestrator) browserEnd(sess *session.CallSession, channelID string, action graph.Action, cause session.Cause, logger *zap.Logger) {
	if !sess.AcceptsFrom(channelID) {
		logger.Info("ignoring end request from another browser", zap.String("action", string(action)))
		return
	}
	end := o.endAction(sess.CallID, action)
	o.spawn(func() {
		if o.teardown(sess, cause, false) {
			end()
		}
	})
}

func (o *Orchestrator) remoteTerminate(callID string) {
	sess, ok := o.sessions.Get(callID)
	if !ok {
		o.logger.Info("ignoring terminate for unknown call", zap.String("call_id", callID))
		return
	}
	o.teardown(sess, session.CauseRemoteTerminate, true)
}

// teardown terminates sess and cleans up after it. Only the first caller
// for a session does the cleanup and gets true.
func (o *Orchestrator) teardown(sess *session.CallSession, cause session.Cause, notify bool) bool {
	prior := sess.State()
	first, err := sess.Terminate(cause)
	if !first {
		return false
	}

	logger := o.logger.With(zap.String("call_id", sess.CallID), zap.String("cause", string(cause)))
	if err != nil {
		logger.Warn("errors while closing call legs", zap.Error(err))
	}
	o.sessions.Remove(sess)
	o.metrics.CallEnded(string(cause), time.Since(sess.CreatedAt))
	o.record(sess, prior, logger)

	if notify {
		msg := signaling.Terminated(sess.CallID)
		if channelID := sess.ChannelID(); channelID != "" {
			if err := o.notifier.Send(channelID, msg); err != nil {
				logger.Debug("failed to notify browser of termination", zap.Error(err))
			}
		} else {
			o.notifier.Broadcast(msg)
		}
	}
	logger.Info("call terminated", zap.String("state", string(prior)))
	return true
}

func (o *Orchestrator) record(sess *session.CallSession, prior session.State, logger *zap.Logger) {
	if o.history == nil {
		return
	}
	snap := sess.Snapshot()
	rec := history.Record{
		CallID:     snap.CallID,
		CallerName: snap.CallerName,
		CallerID:   snap.CallerID,
		CreatedAt:  snap.CreatedAt,
		AnsweredAt: snap.AnsweredAt,
		EndedAt:    snap.EndedAt,
		FinalState: string(prior),
		Cause:      string(snap.Cause),
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.config.ActionTimeout)
	defer cancel()
	if err := o.history.Save(ctx, rec); err != nil {
		logger.Warn("failed to save call record", zap.Error(err))
	}
}

func (o *Orchestrator) sendAction(ctx context.Context, callID string, action graph.Action, sdp string) bool {
	ctx, cancel := context.WithTimeout(ctx, o.config.ActionTimeout)
	defer cancel()
	ok := o.actions.Send(ctx, callID, action, sdp)
	o.metrics.ActionSent(string(action), ok)
	return ok
}

// endAction sends action outside the session context, which is already
// cancelled by the time it runs.
func (o *Orchestrator) endAction(callID string, action graph.Action) func() {
	return func() {
		o.sendAction(context.Background(), callID, action, "")
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// spawn runs fn in the background and tracks it for Close. Once closed, fn
// runs on the calling goroutine instead.
func (o *Orchestrator) spawn(fn func()) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		fn()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()
	go func() {
		defer o.wg.Done()
		fn()
	}()
}
