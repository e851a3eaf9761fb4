/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// ErrNoAudio is returned by InspectSDP when the description has no audio section.
var ErrNoAudio = errors.New("sdp has no audio media section")

// SDPSummary is what the bridge cares about in a remote description.
type SDPSummary struct {
	AudioSections int
	Codecs        []string
	ICELite       bool
}

// NormalizeSDP turns webhook-delivered SDP into CRLF-terminated lines.
// Payloads sometimes carry escaped "\r\n" sequences or bare LF endings.
func NormalizeSDP(raw string) string {
	s := strings.ReplaceAll(raw, `\r\n`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\r\n") + "\r\n"
}

// InspectSDP parses raw and summarizes its audio sections.
func InspectSDP(raw string) (*SDPSummary, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(NormalizeSDP(raw))); err != nil {
		return nil, fmt.Errorf("failed to parse sdp: %w", err)
	}

	summary := &SDPSummary{}
	for _, attr := range desc.Attributes {
		if attr.Key == "ice-lite" {
			summary.ICELite = true
		}
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		summary.AudioSections++
		for _, attr := range md.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			// "111 opus/48000/2"
			if _, codec, ok := strings.Cut(attr.Value, " "); ok {
				summary.Codecs = append(summary.Codecs, codec)
			}
		}
	}
	if summary.AudioSections == 0 {
		return nil, ErrNoAudio
	}
	return summary, nil
}

// iceUfrag returns the ICE username fragment of raw, or "" if it has none.
func iceUfrag(raw string) string {
	return sdpAttribute(raw, "ice-ufrag")
}

// sdpAttribute returns the session-level value of key, falling back to the
// first media section carrying it. It returns "" if raw does not parse.
func sdpAttribute(raw, key string) string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return ""
	}
	if value, ok := desc.Attribute(key); ok {
		return value
	}
	for _, md := range desc.MediaDescriptions {
		if value, ok := md.Attribute(key); ok {
			return value
		}
	}
	return ""
}

// alignMids renames the media sections of answer, in order, to the mids of
// offer and rewrites its BUNDLE group to match. The answer is returned as
// is when the mids already agree.
func alignMids(answer, offer string) (string, error) {
	var a, o sdp.SessionDescription
	if err := a.Unmarshal([]byte(answer)); err != nil {
		return "", fmt.Errorf("failed to parse answer: %w", err)
	}
	if err := o.Unmarshal([]byte(offer)); err != nil {
		return "", fmt.Errorf("failed to parse offer: %w", err)
	}

	renamed := make(map[string]string)
	for i, md := range a.MediaDescriptions {
		if i >= len(o.MediaDescriptions) {
			break
		}
		want, ok := o.MediaDescriptions[i].Attribute("mid")
		have, found := md.Attribute("mid")
		if !ok || !found || want == have {
			continue
		}
		for j := range md.Attributes {
			if md.Attributes[j].Key == "mid" {
				md.Attributes[j].Value = want
			}
		}
		renamed[have] = want
	}
	if len(renamed) == 0 {
		return answer, nil
	}

	for i, attr := range a.Attributes {
		if attr.Key != "group" {
			continue
		}
		fields := strings.Fields(attr.Value)
		for j := 1; j < len(fields); j++ {
			if to, ok := renamed[fields[j]]; ok {
				fields[j] = to
			}
		}
		a.Attributes[i].Value = strings.Join(fields, " ")
	}

	out, err := a.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to encode answer: %w", err)
	}
	return string(out), nil
}
