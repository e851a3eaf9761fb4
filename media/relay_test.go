/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

type fakeTrack struct {
	mu      sync.Mutex
	packets []*rtp.Packet
	block   chan struct{}
}

func (f *fakeTrack) ID() string    { return "fake" }
func (f *fakeTrack) Kind() string  { return "audio" }
func (f *fakeTrack) Codec() string { return "audio/opus" }

func (f *fakeTrack) ReadRTP() (*rtp.Packet, error) {
	f.mu.Lock()
	if len(f.packets) > 0 {
		pkt := f.packets[0]
		f.packets = f.packets[1:]
		f.mu.Unlock()
		return pkt, nil
	}
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return nil, io.EOF
}

type recordingWriter struct {
	mu      sync.Mutex
	written []uint16
	failAt  uint16
}

func (w *recordingWriter) WriteRTP(pkt *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAt != 0 && pkt.SequenceNumber == w.failAt {
		return errors.New("write failed")
	}
	w.written = append(w.written, pkt.SequenceNumber)
	return nil
}

func packets(n int) []*rtp.Packet {
	out := make([]*rtp.Packet, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: uint16(i)}})
	}
	return out
}

func TestRelay_CopiesInOrder(t *testing.T) {
	src := &fakeTrack{packets: packets(5)}
	dst := &recordingWriter{}

	relay(src, dst, make(chan struct{}), zap.NewNop())

	if len(dst.written) != 5 {
		t.Fatalf("Expected 5 packets relayed, got %d", len(dst.written))
	}
	for i, seq := range dst.written {
		if seq != uint16(i+1) {
			t.Errorf("Packet %d out of order: seq %d", i, seq)
		}
	}
}

func TestRelay_WriteFailureSkipsPacket(t *testing.T) {
	src := &fakeTrack{packets: packets(3)}
	dst := &recordingWriter{failAt: 2}

	relay(src, dst, make(chan struct{}), zap.NewNop())

	if len(dst.written) != 2 {
		t.Fatalf("Expected 2 packets relayed, got %v", dst.written)
	}
}

func TestRelay_StopsOnDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	src := &fakeTrack{packets: packets(3)}
	dst := &recordingWriter{}

	finished := make(chan struct{})
	go func() {
		relay(src, dst, done, zap.NewNop())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after done was closed")
	}
	if len(dst.written) != 0 {
		t.Errorf("Expected nothing relayed after done, got %v", dst.written)
	}
}
