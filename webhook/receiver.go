/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/tejzpr/wacall-bridge/media"
	"github.com/tejzpr/wacall-bridge/metrics"
)

// Handler consumes decoded call events. A returned error is an internal
// fault and makes the calling service redeliver.
type Handler interface {
	HandleCallEvent(ctx context.Context, event *CallEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *CallEvent) error

func (f HandlerFunc) HandleCallEvent(ctx context.Context, event *CallEvent) error {
	return f(ctx, event)
}

// Config holds configuration for the Receiver.
type Config struct {
	// VerifyToken must match hub.verify_token during subscription setup.
	VerifyToken string

	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret string

	// MaxBodyBytes caps the accepted delivery size.
	MaxBodyBytes int64

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config without a verify token or app secret.
func DefaultConfig() *Config {
	return &Config{
		MaxBodyBytes: 1 << 20,
	}
}

// Receiver serves the webhook endpoint.
type Receiver struct {
	config  *Config
	handler Handler
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewReceiver creates a Receiver delivering events to handler.
func NewReceiver(config *Config, handler Handler) *Receiver {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		config:  config,
		handler: handler,
		logger:  logger.Named("webhook"),
		metrics: config.Metrics,
	}
}

// Verify answers the subscription handshake.
func (rc *Receiver) Verify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode == "subscribe" && rc.config.VerifyToken != "" && token == rc.config.VerifyToken {
		rc.logger.Info("webhook subscription verified")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}

	rc.logger.Warn("webhook verification failed", zap.String("mode", mode))
	http.Error(w, "verification failed", http.StatusForbidden)
}

// Receive handles an event delivery. Anything that is not an internal fault
// is acknowledged with 200 so the calling service does not redeliver it.
func (rc *Receiver) Receive(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			rc.logger.Error("panic while handling webhook", zap.Any("panic", rec), zap.Stack("stack"))
			rc.metrics.WebhookDelivery(metrics.DeliveryFailed)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rc.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rc.logger.Warn("webhook body too large", zap.Int64("limit", tooLarge.Limit))
			rc.ack(w, metrics.DeliveryIgnored)
			return
		}
		rc.logger.Error("failed to read webhook body", zap.Error(err))
		rc.metrics.WebhookDelivery(metrics.DeliveryFailed)
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}

	if rc.config.AppSecret != "" && !VerifySignature(rc.config.AppSecret, body, r.Header.Get(SignatureHeader)) {
		rc.logger.Warn("webhook signature mismatch", zap.String("remote", r.RemoteAddr))
		rc.metrics.WebhookDelivery(metrics.DeliveryRejected)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	event, err := Decode(body)
	if err != nil {
		if errors.Is(err, ErrNotCallEvent) {
			rc.logger.Debug("ignoring non-call webhook", zap.Error(err))
		} else {
			rc.logger.Warn("ignoring malformed webhook", zap.Error(err))
		}
		rc.ack(w, metrics.DeliveryIgnored)
		return
	}

	logger := rc.logger.With(zap.String("call_id", event.CallID), zap.String("event", event.Event))
	if err := validate(event); err != nil {
		logger.Warn("ignoring invalid call event", zap.Error(err))
		rc.ack(w, metrics.DeliveryIgnored)
		return
	}

	logger.Info("call event received", zap.String("caller", event.CallerName), zap.String("from", event.From))
	if err := rc.handler.HandleCallEvent(r.Context(), event); err != nil {
		logger.Error("failed to handle call event", zap.Error(err))
		rc.metrics.WebhookDelivery(metrics.DeliveryFailed)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	rc.ack(w, metrics.DeliveryAccepted)
}

func (rc *Receiver) ack(w http.ResponseWriter, outcome string) {
	rc.metrics.WebhookDelivery(outcome)
	w.WriteHeader(http.StatusOK)
}

// validate rejects a connect without a usable offer.
func validate(event *CallEvent) error {
	if event.Event != EventConnect {
		return nil
	}
	if event.SDP == "" {
		return fmt.Errorf("connect event without offer sdp")
	}
	if _, err := media.InspectSDP(event.SDP); err != nil {
		return fmt.Errorf("unusable offer: %w", err)
	}
	return nil
}
