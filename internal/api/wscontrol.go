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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
)

// wsControlFrame is one frame of the websocket control-plane transport.
// "status" carries the handler's response status/headers, one or more
// "data" frames carry the bytes the handler wrote (one frame per Flush, so
// SSE events arrive as separate frames instead of one blob), and "end"
// closes out the request/response cycle so the connection can carry the
// next one.
type wsControlFrame struct {
	Type    string      `json:"type"`
	Status  int         `json:"status,omitempty"`
	Headers http.Header `json:"headers,omitempty"`
	Data    string      `json:"data,omitempty"`
}

// wrapWS lets handler — already reachable over plain HTTP on its native
// method — also be driven over the X-Use-WebSocket control-plane transport
// on the same path: a caller that upgrades the connection and sets
// X-Use-WebSocket: true gets one or more request/response cycles
// multiplexed over that single socket instead of a separate HTTP round
// trip per call, per spec.md §6's "selects the websocket control-plane
// transport instead of HTTP for the same operations".
func (rt *Router) wrapWS(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderUseWebSocket) == "true" && websocket.IsWebSocketUpgrade(r) {
			rt.serveControlWebSocket(w, r, handler)

			return
		}

		handler(w, r)
	}
}

// wrapWSOnly is wrapWS for a handler whose native method doesn't include
// GET (most JSON operations are POST/DELETE); the router additionally
// registers the same path under GET pointing here purely so a client can
// perform the mandatory GET-method websocket handshake against it. A GET
// that isn't actually a qualifying upgrade is rejected rather than
// reinterpreted as the POST/DELETE operation.
func (rt *Router) wrapWSOnly(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderUseWebSocket) == "true" && websocket.IsWebSocketUpgrade(r) {
			rt.serveControlWebSocket(w, r, handler)

			return
		}

		writeError(w, apierr.New(apierr.CodeNotWebsocketRequest, "%s requires a websocket upgrade with X-Use-WebSocket: true", r.URL.Path))
	}
}

// serveControlWebSocket upgrades r and then, for every inbound text frame,
// replays handler against the original request with that frame's bytes as
// the body — reusing the exact same handler logic and error mapping the
// plain-HTTP transport uses, so the two transports can never drift apart.
func (rt *Router) serveControlWebSocket(w http.ResponseWriter, r *http.Request, handler http.HandlerFunc) {
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("control-plane websocket upgrade failed: %v", err)

		return
	}
	defer conn.Close()

	var writeMu sync.Mutex

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		req := r.Clone(r.Context())
		req.Body = io.NopCloser(bytes.NewReader(data))
		req.ContentLength = int64(len(data))

		ww := &wsResponseWriter{conn: conn, mu: &writeMu, header: make(http.Header)}

		handler(ww, req)

		ww.finish()
	}
}

// wsResponseWriter adapts http.ResponseWriter (plus http.Flusher, which
// every SSE handler in this package requires) onto the control-plane
// websocket: each Flush (explicit, from an SSE handler, or implicit, once
// at the end of a non-streaming handler) becomes one "data" frame, so a
// streaming handler's events arrive as they're produced rather than
// buffered until the handler returns.
type wsResponseWriter struct {
	conn   *websocket.Conn
	mu     *sync.Mutex
	header http.Header
	buf    bytes.Buffer

	wroteHeader bool
	status      int
}

func (w *wsResponseWriter) Header() http.Header {
	return w.header
}

func (w *wsResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}

	w.wroteHeader = true
	w.status = status

	w.sendFrame(wsControlFrame{Type: "status", Status: status, Headers: w.header})
}

func (w *wsResponseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	return w.buf.Write(p)
}

// Flush ships whatever has been written so far as one "data" frame. Safe
// to call with nothing buffered (SSE callers call it after every event).
func (w *wsResponseWriter) Flush() {
	if w.buf.Len() == 0 {
		return
	}

	data := make([]byte, w.buf.Len())
	copy(data, w.buf.Bytes())
	w.buf.Reset()

	w.sendFrame(wsControlFrame{Type: "data", Data: string(data)})
}

// finish flushes any output the handler wrote without an explicit Flush
// (every non-streaming JSON handler) and emits the terminal frame that
// lets the caller pair this response with its request.
func (w *wsResponseWriter) finish() {
	w.Flush()
	w.sendFrame(wsControlFrame{Type: "end"})
}

func (w *wsResponseWriter) sendFrame(f wsControlFrame) {
	encoded, err := json.Marshal(f)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.conn.WriteMessage(websocket.TextMessage, encoded)
}
