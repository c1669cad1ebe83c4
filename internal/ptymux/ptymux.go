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

// Package ptymux multiplexes interactive PTY terminal sessions over
// websockets: one real pty per session, broadcast to every attached peer,
// with a bounded replay buffer for reconnect. PTY allocation uses
// creack/pty with Setsid and Setctty so the shell gets a proper controlling
// terminal; the replay buffer is a fixed-capacity ring rather than a
// blocking double buffer, since this is a broadcast source with no single
// pull-based reader to synchronize with.
package ptymux

import (
	"encoding/json"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/logutil"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/monitor"
)

var logger = logutil.GetLogger("ptymux")

const (
	defaultRows = 24
	defaultCols = 80

	// ReplayBufferSize is the capacity of each session's replay ring.
	ReplayBufferSize = 64 * 1024

	// IdleGracePeriod is how long a session survives after its last peer
	// disconnects before its shell is torn down.
	IdleGracePeriod = 30 * time.Second
)

// Peer is anything the multiplexer can broadcast binary frames to — an
// interface so this package never imports gorilla/websocket directly; the
// HTTP layer adapts a *websocket.Conn to this shape.
type Peer interface {
	WriteBinary(p []byte) error
}

// ControlMessage is the JSON control frame a peer may send instead of raw
// input, e.g. {"type":"resize","cols":100,"rows":40}.
type ControlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// ParseControlMessage parses a text frame as a JSON control message.
func ParseControlMessage(data []byte) (ControlMessage, error) {
	var msg ControlMessage

	err := json.Unmarshal(data, &msg)

	return msg, err
}

// replayRing is a bounded byte ring: writes never block on a slow reader
// and only the last capacity bytes are retained — the same "never block a
// writer" spirit as BlockingBuffer's swap-and-signal design, simplified
// because this ring has no blocking reader; it is read only at attach time
// via snapshot, then superseded by live broadcast.
type replayRing struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
}

func newReplayRing(capacity int) *replayRing {
	return &replayRing{capacity: capacity}
}

func (r *replayRing) append(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, p...)

	if len(r.buf) > r.capacity {
		r.buf = r.buf[len(r.buf)-r.capacity:]
	}
}

func (r *replayRing) snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, len(r.buf))
	copy(out, r.buf)

	return out
}

// Session is one PTY-backed terminal, broadcasting to every attached peer.
type Session struct {
	ID string

	master *os.File
	cmd    *exec.Cmd
	replay *replayRing

	mu         sync.Mutex
	peers      map[int]Peer
	nextPeerID int
	rows, cols int

	idleTimer *time.Timer
	onExpire  func()
	closed    bool
}

// Multiplexer owns every PtySession.
type Multiplexer struct {
	mu       sync.Mutex
	sessions map[string]*Session
	shellCmd []string
}

// NewMultiplexer creates an empty Multiplexer. shellCmd, if empty, defaults
// to {"bash"}.
func NewMultiplexer(shellCmd []string) *Multiplexer {
	if len(shellCmd) == 0 {
		shellCmd = []string{"bash"}
	}

	return &Multiplexer{sessions: make(map[string]*Session), shellCmd: shellCmd}
}

// GetOrCreate returns the session for id (allocating a fresh id if empty),
// creating the PTY and shell on first reference. The second return value
// reports whether a new session was created.
func (m *Multiplexer) GetOrCreate(id string) (*Session, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		return sess, false, nil
	}

	sess, err := m.newSession(id)
	if err != nil {
		return nil, false, err
	}

	m.sessions[id] = sess
	monitor.MetricsPtySessionsActive.Inc()

	return sess, true, nil
}

func (m *Multiplexer) newSession(id string) (*Session, error) {
	cmd := exec.Command(m.shellCmd[0], m.shellCmd[1:]...)

	master, err := pty.StartWithAttrs(cmd, &pty.Winsize{Rows: defaultRows, Cols: defaultCols}, &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	})
	if err != nil {
		return nil, apierr.New(apierr.CodeProcessStartError, "allocate pty: %v", err)
	}

	sess := &Session{
		ID:     id,
		master: master,
		cmd:    cmd,
		replay: newReplayRing(ReplayBufferSize),
		peers:  make(map[int]Peer),
		rows:   defaultRows,
		cols:   defaultCols,
	}

	sess.onExpire = func() { m.expire(sess) }

	go sess.readPtyLoop()

	return sess, nil
}

// readPtyLoop is the session's single reader of the pty master, appending
// every chunk to the replay ring and broadcasting it to every attached
// peer.
func (s *Session) readPtyLoop() {
	buf := make([]byte, 4096)

	for {
		n, err := s.master.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			s.replay.append(chunk)
			s.broadcast(chunk)
		}

		if err != nil {
			return
		}
	}
}

func (s *Session) broadcast(chunk []byte) {
	s.mu.Lock()
	peers := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		if err := p.WriteBinary(chunk); err != nil {
			logger.Debugf("pty peer write failed: %v", err)
		}
	}
}

// ReplaySnapshot returns the bytes currently held in the replay buffer, to
// be emitted to a newly attached peer before live traffic.
func (s *Session) ReplaySnapshot() []byte {
	return s.replay.snapshot()
}

// Attach registers peer and cancels any pending idle-grace teardown.
func (s *Session) Attach(peer Peer) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	id := s.nextPeerID
	s.nextPeerID++
	s.peers[id] = peer

	return id
}

// Detach removes peer and, if it was the last one, starts the idle grace
// timer.
func (s *Session) Detach(peerID int) {
	s.mu.Lock()
	delete(s.peers, peerID)
	remaining := len(s.peers)
	s.mu.Unlock()

	if remaining == 0 {
		s.mu.Lock()
		s.idleTimer = time.AfterFunc(IdleGracePeriod, s.onExpire)
		s.mu.Unlock()
	}
}

// Write sends user input to the pty master.
func (s *Session) Write(p []byte) (int, error) {
	return s.master.Write(p)
}

// Resize applies a new terminal geometry.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return nil
	}

	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()

	return pty.Setsize(s.master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Close terminates the shell and pty.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	s.mu.Unlock()

	s.master.Close()

	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}

	return nil
}

// expire tears down sess after its idle grace period elapses with no peers
// reattached, and removes it from the multiplexer.
func (m *Multiplexer) expire(sess *Session) {
	sess.mu.Lock()
	stillIdle := len(sess.peers) == 0
	sess.mu.Unlock()

	if !stillIdle {
		return
	}

	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()

	sess.Close()
	monitor.MetricsPtySessionsActive.Dec()
	logger.WithField("session_id", sess.ID).Info("pty session expired after idle grace period")
}

// Get returns the session for id, if one exists.
func (m *Multiplexer) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]

	return sess, ok
}

// Shutdown closes every session, for graceful daemon teardown.
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
