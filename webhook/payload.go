/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package webhook receives call-control events from the WhatsApp Cloud API.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names delivered for calls.
const (
	EventConnect   = "connect"
	EventTerminate = "terminate"
)

// DefaultCallerName is used when the payload carries no contact profile.
const DefaultCallerName = "Unknown"

// ErrNotCallEvent is returned by Decode for payloads without a call entry.
var ErrNotCallEvent = errors.New("payload carries no call event")

// Payload is the envelope of a webhook delivery.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts"`
	Calls            []Call    `json:"calls"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

type Call struct {
	ID        string   `json:"id"`
	To        string   `json:"to"`
	From      string   `json:"from"`
	Event     string   `json:"event"`
	Timestamp string   `json:"timestamp"`
	Direction string   `json:"direction"`
	Session   *Session `json:"session,omitempty"`
}

type Session struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

// CallEvent is the first call entry of a delivery, flattened.
type CallEvent struct {
	CallID     string
	Event      string
	SDP        string
	SDPType    string
	From       string
	To         string
	Direction  string
	Timestamp  string
	CallerName string
	CallerID   string
}

// Decode extracts the first call event from a raw delivery body.
func Decode(body []byte) (*CallEvent, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	if len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return nil, ErrNotCallEvent
	}
	value := payload.Entry[0].Changes[0].Value
	if len(value.Calls) == 0 {
		return nil, ErrNotCallEvent
	}

	call := value.Calls[0]
	if call.ID == "" || call.Event == "" {
		return nil, fmt.Errorf("%w: call entry missing id or event", ErrNotCallEvent)
	}

	event := &CallEvent{
		CallID:     call.ID,
		Event:      call.Event,
		From:       call.From,
		To:         call.To,
		Direction:  call.Direction,
		Timestamp:  call.Timestamp,
		CallerName: DefaultCallerName,
		CallerID:   call.From,
	}
	if call.Session != nil {
		event.SDP = call.Session.SDP
		event.SDPType = call.Session.SDPType
	}
	if len(value.Contacts) > 0 {
		contact := value.Contacts[0]
		if contact.Profile.Name != "" {
			event.CallerName = contact.Profile.Name
		}
		if contact.WaID != "" {
			event.CallerID = contact.WaID
		}
	}
	return event, nil
}
