/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/wacall-bridge/metrics"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*CallEvent
	err    error
	panics bool
}

func (h *recordingHandler) HandleCallEvent(_ context.Context, event *CallEvent) error {
	if h.panics {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func post(t *testing.T, rc *Receiver, body string, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/call-events", strings.NewReader(body))
	if header != "" {
		req.Header.Set(SignatureHeader, header)
	}
	rec := httptest.NewRecorder()
	rc.Receive(rec, req)
	return rec
}

func TestReceiver_Verify(t *testing.T) {
	config := DefaultConfig()
	config.VerifyToken = "tok"
	rc := NewReceiver(config, &recordingHandler{})

	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{name: "valid", query: "hub.mode=subscribe&hub.verify_token=tok&hub.challenge=1158201444", status: http.StatusOK, body: "1158201444"},
		{name: "wrong token", query: "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", status: http.StatusForbidden},
		{name: "wrong mode", query: "hub.mode=unsubscribe&hub.verify_token=tok&hub.challenge=1", status: http.StatusForbidden},
		{name: "missing params", query: "", status: http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/call-events?"+tc.query, nil)
			rec := httptest.NewRecorder()
			rc.Verify(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestReceiver_Verify_NoTokenConfigured(t *testing.T) {
	rc := NewReceiver(nil, &recordingHandler{})
	req := httptest.NewRequest(http.MethodGet, "/call-events?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil)
	rec := httptest.NewRecorder()
	rc.Verify(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceiver_Receive(t *testing.T) {
	handler := &recordingHandler{}
	rc := NewReceiver(nil, handler)

	rec := post(t, rc, connectPayload, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, handler.count())
	assert.Equal(t, "wacid.ABGG", handler.events[0].CallID)

	rec = post(t, rc, terminatePayload, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, handler.count())
}

func TestReceiver_Receive_Dropped(t *testing.T) {
	noAudio := strings.Replace(connectPayload, `m=audio 9 UDP/TLS/RTP/SAVPF 111`, `m=video 9 UDP/TLS/RTP/SAVPF 96`, 1)
	noSession := `{"entry":[{"changes":[{"value":{"calls":[{"id":"c1","event":"connect","from":"1"}]}}]}]}`

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `not json`},
		{name: "status update", body: `{"entry":[{"changes":[{"field":"messages","value":{"statuses":[{"id":"s"}]}}]}]}`},
		{name: "connect without sdp", body: noSession},
		{name: "connect without audio", body: noAudio},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := &recordingHandler{}
			reg := prometheus.NewRegistry()
			config := DefaultConfig()
			config.Metrics = metrics.New(reg)
			rc := NewReceiver(config, handler)

			rec := post(t, rc, tc.body, "")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Zero(t, handler.count())
		})
	}
}

func TestReceiver_Receive_Signature(t *testing.T) {
	handler := &recordingHandler{}
	config := DefaultConfig()
	config.AppSecret = "app-secret"
	rc := NewReceiver(config, handler)

	rec := post(t, rc, connectPayload, "sha256=deadbeef")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = post(t, rc, connectPayload, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, handler.count())

	rec = post(t, rc, connectPayload, Sign("app-secret", []byte(connectPayload)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, handler.count())
}

func TestReceiver_Receive_HandlerFailure(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		rc := NewReceiver(nil, &recordingHandler{err: errors.New("shutting down")})
		rec := post(t, rc, connectPayload, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("panic", func(t *testing.T) {
		rc := NewReceiver(nil, &recordingHandler{panics: true})
		rec := post(t, rc, connectPayload, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestReceiver_Receive_TooLarge(t *testing.T) {
	handler := &recordingHandler{}
	config := DefaultConfig()
	config.MaxBodyBytes = 16
	rc := NewReceiver(config, handler)

	rec := post(t, rc, connectPayload, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, handler.count())
}

func TestHandlerFunc(t *testing.T) {
	var got string
	h := HandlerFunc(func(_ context.Context, event *CallEvent) error {
		got = event.CallID
		return nil
	})
	require.NoError(t, h.HandleCallEvent(context.Background(), &CallEvent{CallID: "c1"}))
	assert.Equal(t, "c1", got)
}
