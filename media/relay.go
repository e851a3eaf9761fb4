/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// relay copies RTP from src into dst until src ends or done is closed.
// Each packet is written exactly once to preserve the sender's pacing.
func relay(src Track, dst rtpWriter, done <-chan struct{}, logger *zap.Logger) {
	logger = logger.With(zap.String("track_id", src.ID()), zap.String("codec", src.Codec()))
	var relayed, failed int
	defer func() {
		logger.Info("relay stopped", zap.Int("relayed", relayed), zap.Int("failed", failed))
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		pkt, err := src.ReadRTP()
		if err != nil {
			return
		}
		if err := dst.WriteRTP(pkt); err != nil {
			failed++
			if failed == 1 || failed%500 == 0 {
				logger.Warn("relay write failed", zap.Int("failed", failed), zap.Error(err))
			}
			continue
		}
		relayed++
		if relayed == 1 {
			logger.Info("first packet relayed", zap.Uint8("pt", pkt.PayloadType), zap.Uint32("ssrc", pkt.SSRC))
		}
	}
}
