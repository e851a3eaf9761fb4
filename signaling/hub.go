/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrChannelNotFound = errors.New("signaling channel not found")
	ErrChannelClosed   = errors.New("signaling channel closed")
	ErrSlowConsumer    = errors.New("signaling channel send buffer full")
	ErrHubClosed       = errors.New("signaling hub closed")
)

// Transport carries raw signaling frames to and from one browser. Implement
// it over WebSocket, HTTP long-polling or anything else.
type Transport interface {
	// ReadMessage blocks until a frame arrives or the transport fails.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Handler receives decoded browser messages tagged with the channel they
// arrived on. It runs on the channel's read loop and must not block.
type Handler interface {
	HandleMessage(channelID string, msg Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(channelID string, msg Message)

func (f HandlerFunc) HandleMessage(channelID string, msg Message) { f(channelID, msg) }

// HubConfig holds configuration for a Hub.
type HubConfig struct {
	// SendBuffer is the number of outbound frames queued per channel.
	SendBuffer int

	// WebSocket keepalive. PingInterval must be shorter than PongWait.
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	// CheckOrigin validates the upgrade request origin. Nil allows all.
	CheckOrigin func(r *http.Request) bool

	Logger *zap.Logger
}

// DefaultHubConfig returns a HubConfig with sensible defaults.
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		SendBuffer:   32,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
	}
}

// Hub tracks connected browser channels.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*channel
	handler  Handler
	closed   bool

	config   *HubConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

type channel struct {
	id        string
	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// stop asks the writer to flush the queue and close; flushed is closed
	// when the writer exits.
	stop     chan struct{}
	stopOnce sync.Once
	flushed  chan struct{}
}

func (c *channel) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.transport.Close()
	})
}

func (c *channel) shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// NewHub creates an empty hub.
func NewHub(config *HubConfig) *Hub {
	if config == nil {
		config = DefaultHubConfig()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultHubConfig().SendBuffer
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Hub{
		channels: make(map[string]*channel),
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.Named("signaling"),
	}
}

// SetHandler sets the receiver of inbound browser messages.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Serve registers transport as a new channel and runs its read loop until
// the transport fails or the hub closes.
func (h *Hub) Serve(transport Transport) error {
	ch := &channel{
		id:        uuid.NewString(),
		transport: transport,
		send:      make(chan []byte, h.config.SendBuffer),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
		flushed:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = transport.Close()
		return ErrHubClosed
	}
	h.channels[ch.id] = ch
	h.mu.Unlock()

	logger := h.logger.With(zap.String("channel_id", ch.id))
	logger.Info("browser connected")

	defer func() {
		h.mu.Lock()
		delete(h.channels, ch.id)
		h.mu.Unlock()
		ch.close()
		logger.Info("browser disconnected")
	}()

	go h.writeLoop(ch, logger)

	for {
		data, err := transport.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
				return nil
			default:
				return fmt.Errorf("signaling transport read: %w", err)
			}
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("invalid signaling message", zap.Error(err))
			continue
		}
		if msg.Type == "" || msg.CallID == "" {
			logger.Warn("signaling message missing type or callId", zap.String("type", string(msg.Type)))
			continue
		}

		h.mu.RLock()
		handler := h.handler
		h.mu.RUnlock()
		if handler != nil {
			handler.HandleMessage(ch.id, msg)
		}
	}
}

func (h *Hub) writeLoop(ch *channel, logger *zap.Logger) {
	defer close(ch.flushed)
	for {
		select {
		case <-ch.done:
			return
		case <-ch.stop:
			flush(ch, logger)
			ch.close()
			return
		case data := <-ch.send:
			if err := ch.transport.WriteMessage(data); err != nil {
				logger.Warn("signaling write failed", zap.Error(err))
				ch.close()
				return
			}
		}
	}
}

// flush writes whatever is still queued for ch.
func flush(ch *channel, logger *zap.Logger) {
	for {
		select {
		case data := <-ch.send:
			if err := ch.transport.WriteMessage(data); err != nil {
				logger.Warn("signaling flush failed", zap.Error(err))
				return
			}
		default:
			return
		}
	}
}

func (h *Hub) enqueue(ch *channel, data []byte) error {
	select {
	case <-ch.done:
		return ErrChannelClosed
	default:
	}
	select {
	case ch.send <- data:
		return nil
	case <-ch.done:
		return ErrChannelClosed
	default:
		return ErrSlowConsumer
	}
}

// Send queues msg for one channel.
func (h *Hub) Send(channelID string, msg Message) error {
	h.mu.RLock()
	ch, ok := h.channels[channelID]
	h.mu.RUnlock()
	if !ok {
		return ErrChannelNotFound
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return h.enqueue(ch, data)
}

// Broadcast queues msg for every connected channel and returns how many
// accepted it.
func (h *Hub) Broadcast(msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode broadcast", zap.String("type", string(msg.Type)), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*channel, 0, len(h.channels))
	for _, ch := range h.channels {
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, ch := range targets {
		if err := h.enqueue(ch, data); err != nil {
			h.logger.Warn("broadcast dropped",
				zap.String("channel_id", ch.id),
				zap.String("type", string(msg.Type)),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Len returns the number of connected channels.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Close rejects new channels and disconnects every channel once its queued
// frames are written. Flushing is bounded by WriteWait.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	channels := make([]*channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown()
	}

	wait := h.config.WriteWait
	if wait <= 0 {
		wait = DefaultHubConfig().WriteWait
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	expired := false
	for _, ch := range channels {
		if !expired {
			select {
			case <-ch.flushed:
			case <-deadline.C:
				expired = true
			}
		}
		ch.close()
	}
}
