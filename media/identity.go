/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"

	"github.com/pion/randutil"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const iceChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// identity is what a call advertises in the telephony leg's local
// description: one DTLS certificate and one pair of ICE credentials. The
// browser is handed that description as its offer, so the browser leg must
// present the same identity for the browser's answer to reach it.
type identity struct {
	certificate webrtc.Certificate
	ufrag       string
	pwd         string
}

func newIdentity() (*identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dtls key: %w", err)
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dtls certificate: %w", err)
	}
	ufrag, err := randutil.GenerateCryptoRandomString(16, iceChars)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ice ufrag: %w", err)
	}
	pwd, err := randutil.GenerateCryptoRandomString(32, iceChars)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ice password: %w", err)
	}
	return &identity{certificate: *cert, ufrag: ufrag, pwd: pwd}, nil
}

// identityFor returns the identity a new leg of callID uses. The telephony
// leg creates and registers it; the browser leg borrows it. release drops
// the registration and is nil for borrowers.
func (f *Factory) identityFor(callID string, leg Leg) (*identity, func(), error) {
	if leg == LegBrowser {
		f.mu.Lock()
		shared, ok := f.identities[callID]
		f.mu.Unlock()
		if ok {
			return shared, nil, nil
		}
		f.logger.Warn("no telephony leg for browser leg, using a fresh identity", zap.String("call_id", callID))
		fresh, err := newIdentity()
		return fresh, nil, err
	}

	id, err := newIdentity()
	if err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	f.identities[callID] = id
	f.mu.Unlock()
	release := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.identities[callID] == id {
			delete(f.identities, callID)
		}
	}
	return id, release, nil
}
