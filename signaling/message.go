/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package signaling relays call signaling between the bridge and connected
// browser operators.
package signaling

import "encoding/json"

// Type tags a signaling message.
type Type string

// Server to browser.
const (
	TypeIncomingCall Type = "incoming-call"
	TypeOffer        Type = "offer"
	TypeActive       Type = "active"
	TypeTerminated   Type = "terminated"
)

// Browser to server.
const (
	TypeAnswer Type = "answer"
	TypeHangup Type = "hangup"
	TypeReject Type = "reject"
)

// TypeCandidate flows both ways.
const TypeCandidate Type = "candidate"

// Message is the JSON envelope exchanged with the browser.
type Message struct {
	Type       Type            `json:"type"`
	CallID     string          `json:"callId"`
	CallerName string          `json:"callerName,omitempty"`
	CallerID   string          `json:"callerId,omitempty"`
	SDP        string          `json:"sdp,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

func IncomingCall(callID, callerName, callerID string) Message {
	return Message{Type: TypeIncomingCall, CallID: callID, CallerName: callerName, CallerID: callerID}
}

func Offer(callID, callerName, sdp string) Message {
	return Message{Type: TypeOffer, CallID: callID, CallerName: callerName, SDP: sdp}
}

func Active(callID string) Message {
	return Message{Type: TypeActive, CallID: callID}
}

func Terminated(callID string) Message {
	return Message{Type: TypeTerminated, CallID: callID}
}

func Candidate(callID string, candidate json.RawMessage) Message {
	return Message{Type: TypeCandidate, CallID: callID, Candidate: candidate}
}
