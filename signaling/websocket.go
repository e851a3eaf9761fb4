/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServeHTTP upgrades the request to a WebSocket and serves it as a channel.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	if err := h.Serve(newWebsocketTransport(conn, h.config)); err != nil {
		h.logger.Debug("websocket channel ended", zap.Error(err))
	}
}

// websocketTransport adapts a gorilla connection to Transport. Only one
// goroutine reads and one writes; pings go through WriteControl, which is
// safe alongside both.
type websocketTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

func newWebsocketTransport(conn *websocket.Conn, config *HubConfig) *websocketTransport {
	t := &websocketTransport{
		conn:      conn,
		writeWait: config.WriteWait,
		done:      make(chan struct{}),
	}

	if config.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(config.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(config.PongWait))
		})
	}
	if config.PingInterval > 0 {
		go t.pingLoop(config.PingInterval)
	}
	return t
}

func (t *websocketTransport) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, t.deadline()); err != nil {
				return
			}
		}
	}
}

func (t *websocketTransport) deadline() time.Time {
	if t.writeWait <= 0 {
		return time.Time{}
	}
	return time.Now().Add(t.writeWait)
}

func (t *websocketTransport) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *websocketTransport) WriteMessage(data []byte) error {
	_ = t.conn.SetWriteDeadline(t.deadline())
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *websocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), t.deadline())
		err = t.conn.Close()
	})
	return err
}
