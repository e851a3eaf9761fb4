/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Config holds configuration for peers created by a Factory.
type Config struct {
	// ICEServers is the list of ICE servers (STUN/TURN) handed to every peer.
	ICEServers []webrtc.ICEServer

	// GatherTimeout bounds the wait for candidate gathering in SetLocalAnswer.
	// On timeout the local description is used with whatever was gathered.
	GatherTimeout time.Duration

	// Logger for connection state changes. If nil, logging is disabled.
	Logger *zap.Logger
}

// DefaultConfig returns a Config using a public STUN server only.
func DefaultConfig() *Config {
	return &Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		GatherTimeout: 5 * time.Second,
	}
}

// RelayICEServers returns the STUN server plus the metered TURN relays,
// authenticated with username and credential. Without credentials only the
// STUN server is returned.
func RelayICEServers(username, credential string) []webrtc.ICEServer {
	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	if username == "" || credential == "" {
		return servers
	}
	return append(servers,
		webrtc.ICEServer{
			URLs:       []string{"turn:global.relay.metered.ca:80"},
			Username:   username,
			Credential: credential,
		},
		webrtc.ICEServer{
			URLs:       []string{"turns:global.relay.metered.ca:443?transport=tcp"},
			Username:   username,
			Credential: credential,
		},
	)
}
