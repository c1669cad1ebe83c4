// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ptymux

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePeer struct {
	mu   sync.Mutex
	recv []byte
}

func (p *fakePeer) WriteBinary(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recv = append(p.recv, b...)

	return nil
}

func (p *fakePeer) received() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return string(p.recv)
}

func TestGetOrCreateAllocatesAndReuses(t *testing.T) {
	m := NewMultiplexer(nil)
	t.Cleanup(m.Shutdown)

	sess, created, err := m.GetOrCreate("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !created {
		t.Errorf("expected a fresh session to report created=true")
	}

	again, created2, err := m.GetOrCreate(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if created2 {
		t.Errorf("expected reattaching to an existing id to report created=false")
	}

	if again != sess {
		t.Errorf("expected the same session instance")
	}
}

func TestBroadcastReachesAttachedPeer(t *testing.T) {
	m := NewMultiplexer(nil)
	t.Cleanup(m.Shutdown)

	sess, _, err := m.GetOrCreate("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	peer := &fakePeer{}
	sess.Attach(peer)

	if _, err := sess.Write([]byte("echo hello-from-pty\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(peer.received(), "hello-from-pty") {
			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	if !strings.Contains(peer.received(), "hello-from-pty") {
		t.Errorf("expected peer to receive pty output, got %q", peer.received())
	}
}

func TestReplaySnapshotCapturesPriorOutput(t *testing.T) {
	m := NewMultiplexer(nil)
	t.Cleanup(m.Shutdown)

	sess, _, err := m.GetOrCreate("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess.Write([]byte("echo replay-marker\n"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(string(sess.ReplaySnapshot()), "replay-marker") {
			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	if !strings.Contains(string(sess.ReplaySnapshot()), "replay-marker") {
		t.Errorf("expected replay buffer to contain prior output")
	}
}

func TestParseControlMessageResize(t *testing.T) {
	msg, err := ParseControlMessage([]byte(`{"type":"resize","cols":100,"rows":40}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Type != "resize" || msg.Cols != 100 || msg.Rows != 40 {
		t.Errorf("unexpected parsed message: %+v", msg)
	}
}

func TestDetachStartsIdleExpiry(t *testing.T) {
	m := NewMultiplexer(nil)
	t.Cleanup(m.Shutdown)

	sess, _, err := m.GetOrCreate("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	peer := &fakePeer{}
	peerID := sess.Attach(peer)
	sess.Detach(peerID)

	if _, ok := m.Get(sess.ID); !ok {
		t.Errorf("expected session to still be present immediately after detach")
	}

	sess.mu.Lock()
	started := sess.idleTimer != nil
	sess.mu.Unlock()

	if !started {
		t.Errorf("expected detach of the last peer to start the idle grace timer")
	}
}
