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

package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/monitor"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/ptymux"
)

// wsPeer adapts a *websocket.Conn to ptymux.Peer. gorilla/websocket permits
// only one concurrent writer per connection, hence the mutex.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) WriteBinary(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn.WriteMessage(websocket.BinaryMessage, b)
}

// writeReady sends the `{"type":"ready"}` text frame the spec requires
// after the replay buffer (if any) has been flushed and the peer is
// attached — the signal a client gates sending input on.
func (p *wsPeer) writeReady() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ready"}`))
}

// handleTerminal upgrades to a websocket and attaches it to the PTY session
// named by the sessionId path variable, creating one if it doesn't exist.
// A non-websocket request is rejected with 426, per the spec's
// upgrade-only contract.
func (rt *Router) handleTerminal(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, apierr.New(apierr.CodeNotWebsocketRequest, "/terminal requires a websocket upgrade"))

		return
	}

	sessionID := mux.Vars(r)["sessionId"]

	sess, created, err := rt.Pty.GetOrCreate(sessionID)
	if err != nil {
		writeError(w, err)

		return
	}

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("terminal websocket upgrade failed: %v", err)

		return
	}
	defer conn.Close()

	peer := &wsPeer{conn: conn}

	if !created {
		monitor.MetricsPtyReconnects.WithLabelValues().Inc()

		if snapshot := sess.ReplaySnapshot(); len(snapshot) > 0 {
			peer.WriteBinary(snapshot)
		}
	}

	peerID := sess.Attach(peer)
	defer sess.Detach(peerID)

	if err := peer.writeReady(); err != nil {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			sess.Write(data)
		case websocket.TextMessage:
			rt.handleTerminalControl(sess, data)
		}
	}
}

func (rt *Router) handleTerminalControl(sess *ptymux.Session, data []byte) {
	msg, err := ptymux.ParseControlMessage(data)
	if err != nil {
		logger.Debugf("unparseable terminal control message: %v", err)

		return
	}

	if msg.Type == "resize" {
		sess.Resize(msg.Cols, msg.Rows)
	}
}

// handleWebSocketRoute upgrades /ws/{name} to a websocket and, for now,
// accepts the connection and discards inbound frames — the hook point a
// future internal helper service (e.g. an LSP or devtools bridge) attaches
// to once one exists.
func (rt *Router) handleWebSocketRoute(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, apierr.New(apierr.CodeNotWebsocketRequest, "/ws/%s requires a websocket upgrade", mux.Vars(r)["name"]))

		return
	}

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("websocket route upgrade failed: %v", err)

		return
	}
	defer conn.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
