/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package media wraps a real-time peer connection behind a small facade used
// for both legs of a bridged call: the telephony leg toward the calling
// service and the browser leg toward the operator.
package media

import (
	"errors"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrPeerClosed is returned by operations on a closed peer.
	ErrPeerClosed = errors.New("peer connection is closed")

	// ErrTrackAttached is returned when a second track is added to a leg
	// that is already forwarding one.
	ErrTrackAttached = errors.New("a track is already being forwarded on this leg")
)

// Leg identifies which side of a bridged call a peer serves.
type Leg int

const (
	LegTelephony Leg = iota
	LegBrowser
)

func (l Leg) String() string {
	switch l {
	case LegTelephony:
		return "telephony"
	case LegBrowser:
		return "browser"
	default:
		return "unknown"
	}
}

// ICECandidate is the JSON form of a connectivity candidate, as produced by
// RTCIceCandidate.toJSON() in browsers.
type ICECandidate = webrtc.ICECandidateInit

// Track is an inbound media track whose RTP packets can be forwarded to the
// other leg.
type Track interface {
	ID() string
	Kind() string
	Codec() string
	ReadRTP() (*rtp.Packet, error)
}

// Peer is one real-time media connection.
//
// Close is idempotent and safe on a partially initialized peer. Callbacks
// registered with OnTrack and OnICECandidate run on the connection's own
// goroutines; ordering holds only within one peer.
type Peer interface {
	// SetRemoteOffer applies sdp as the remote offer and flushes any
	// candidates that arrived before it. On the browser leg sdp is the
	// telephony leg's local description; the leg shares that identity and
	// records the offer instead of applying it.
	SetRemoteOffer(sdp string) error

	// CreateAnswer generates an answer to the remote offer. It does not
	// apply it.
	CreateAnswer() (string, error)

	// SetLocalAnswer applies sdp as the local answer and waits for
	// candidate gathering to finish. After a recorded offer, sdp is the
	// browser's answer to it: the leg makes an offer of its own and applies
	// sdp as the remote answer, and candidates trickle out via
	// OnICECandidate.
	SetLocalAnswer(sdp string) error

	// LocalDescription returns the current local SDP, or "" if none.
	LocalDescription() string

	// AddICECandidate adds a remote candidate, queueing it until a remote
	// description is set.
	AddICECandidate(candidate ICECandidate) error

	// AddTrack forwards the RTP of track out through this peer.
	AddTrack(track Track) error

	OnTrack(handler func(track Track))
	OnICECandidate(handler func(candidate ICECandidate))

	Close() error
}
