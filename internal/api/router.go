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

// Package api is the request-facing surface of sandboxd: it normalizes the
// sandbox id, session id, and transport flag, dispatches to the core
// components, and streams results back over plain JSON, SSE, or a
// websocket, depending on what the caller asked for.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/bucket"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/codectx"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/logutil"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/monitor"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/portproxy"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/process"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/ptymux"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/session"
)

var logger = logutil.GetLogger("api")

// Request identification header names recognized on every route.
const (
	HeaderSandboxID    = "X-Sandbox-Id"
	HeaderSessionID    = "X-Session-Id"
	HeaderUseWebSocket = "X-Use-WebSocket"
	HeaderKeepAlive    = "X-Sandbox-KeepAlive"
)

// Router owns every core component and builds the mux.Router that serves
// them.
type Router struct {
	Sessions  *session.Registry
	Processes *process.Manager
	Code      *codectx.Registry
	Ports     *portproxy.Registry
	Pty       *ptymux.Multiplexer
	Buckets   *bucket.Mounter

	upgrader websocket.Upgrader

	startedAt time.Time
}

// NewRouter wires a Router around a fresh set of core components.
func NewRouter() *Router {
	return &Router{
		Sessions:  session.NewRegistry(),
		Processes: process.NewManager(),
		Code:      codectx.NewRegistry(),
		Ports:     portproxy.NewRegistry(),
		Pty:       ptymux.NewMultiplexer(nil),
		Buckets:   bucket.NewMounter(),
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		startedAt: time.Now(),
	}
}

// Handler builds the complete http.Handler: CORS, Prometheus
// instrumentation, the proxy subdomain dispatch, and every JSON/SSE/
// websocket route.
func (rt *Router) Handler() http.Handler {
	r := mux.NewRouter()

	// Every POST/GET JSON operation below is also reachable over the
	// X-Use-WebSocket control-plane transport: POST/GET handlers are
	// wrapped with wrapWS so the same registered method keeps serving
	// plain HTTP, and POST-only operations additionally get a GET route
	// (wrapWSOnly) purely to receive the GET-method websocket handshake
	// the protocol requires — see wscontrol.go.
	r.HandleFunc("/api/execute", rt.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/api/execute", rt.wrapWSOnly(rt.handleExecute)).Methods(http.MethodGet)
	r.HandleFunc("/api/execute/stream", rt.handleExecuteStream).Methods(http.MethodPost)
	r.HandleFunc("/api/execute/stream", rt.wrapWSOnly(rt.handleExecuteStream)).Methods(http.MethodGet)

	r.HandleFunc("/api/read", rt.handleRead).Methods(http.MethodPost)
	r.HandleFunc("/api/read", rt.wrapWSOnly(rt.handleRead)).Methods(http.MethodGet)
	r.HandleFunc("/api/write", rt.handleWrite).Methods(http.MethodPost)
	r.HandleFunc("/api/write", rt.wrapWSOnly(rt.handleWrite)).Methods(http.MethodGet)
	r.HandleFunc("/api/delete", rt.handleDeleteFile).Methods(http.MethodPost)
	r.HandleFunc("/api/delete", rt.wrapWSOnly(rt.handleDeleteFile)).Methods(http.MethodGet)
	r.HandleFunc("/api/rename", rt.handleRename).Methods(http.MethodPost)
	r.HandleFunc("/api/rename", rt.wrapWSOnly(rt.handleRename)).Methods(http.MethodGet)
	r.HandleFunc("/api/move", rt.handleMove).Methods(http.MethodPost)
	r.HandleFunc("/api/move", rt.wrapWSOnly(rt.handleMove)).Methods(http.MethodGet)
	r.HandleFunc("/api/mkdir", rt.handleMkdir).Methods(http.MethodPost)
	r.HandleFunc("/api/mkdir", rt.wrapWSOnly(rt.handleMkdir)).Methods(http.MethodGet)
	r.HandleFunc("/api/list", rt.handleList).Methods(http.MethodPost)
	r.HandleFunc("/api/list", rt.wrapWSOnly(rt.handleList)).Methods(http.MethodGet)

	r.HandleFunc("/api/git/checkout", rt.handleGitCheckout).Methods(http.MethodPost)
	r.HandleFunc("/api/git/checkout", rt.wrapWSOnly(rt.handleGitCheckout)).Methods(http.MethodGet)

	r.HandleFunc("/api/process/start", rt.handleProcessStart).Methods(http.MethodPost)
	r.HandleFunc("/api/process/start", rt.wrapWSOnly(rt.handleProcessStart)).Methods(http.MethodGet)
	r.HandleFunc("/api/process/list", rt.wrapWS(rt.handleProcessList)).Methods(http.MethodGet)
	// /api/process/{id} already owns GET (fetch) and DELETE (kill); kill
	// has no free method left to claim for the websocket handshake on
	// this path, so only the fetch operation gains the transport here
	// (see DESIGN.md for the full per-operation breakdown).
	r.HandleFunc("/api/process/{id}", rt.wrapWS(rt.handleProcessGet)).Methods(http.MethodGet)
	r.HandleFunc("/api/process/{id}", rt.handleProcessKill).Methods(http.MethodDelete)
	r.HandleFunc("/api/process/{id}/stream", rt.wrapWS(rt.handleProcessStream)).Methods(http.MethodGet)
	r.HandleFunc("/api/process/{id}/waitForLog", rt.handleWaitForLog).Methods(http.MethodPost)
	r.HandleFunc("/api/process/{id}/waitForLog", rt.wrapWSOnly(rt.handleWaitForLog)).Methods(http.MethodGet)
	r.HandleFunc("/api/process/{id}/waitForPort", rt.handleWaitForPort).Methods(http.MethodPost)
	r.HandleFunc("/api/process/{id}/waitForPort", rt.wrapWSOnly(rt.handleWaitForPort)).Methods(http.MethodGet)

	r.HandleFunc("/api/code/context/create", rt.handleCodeContextCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/code/context/create", rt.wrapWSOnly(rt.handleCodeContextCreate)).Methods(http.MethodGet)
	r.HandleFunc("/api/code/context/list", rt.wrapWS(rt.handleCodeContextList)).Methods(http.MethodGet)
	r.HandleFunc("/api/code/context/{id}", rt.handleCodeContextDelete).Methods(http.MethodDelete)
	r.HandleFunc("/api/code/execute", rt.handleCodeExecute).Methods(http.MethodPost)
	r.HandleFunc("/api/code/execute", rt.wrapWSOnly(rt.handleCodeExecute)).Methods(http.MethodGet)
	r.HandleFunc("/api/code/execute/stream", rt.handleCodeExecuteStream).Methods(http.MethodPost)
	r.HandleFunc("/api/code/execute/stream", rt.wrapWSOnly(rt.handleCodeExecuteStream)).Methods(http.MethodGet)

	r.HandleFunc("/api/expose-port", rt.handleExposePort).Methods(http.MethodPost)
	r.HandleFunc("/api/expose-port", rt.wrapWSOnly(rt.handleExposePort)).Methods(http.MethodGet)
	r.HandleFunc("/api/exposed-ports/{port}", rt.handleUnexposePort).Methods(http.MethodDelete)
	r.PathPrefix("/proxy/{port}/").HandlerFunc(rt.handleProxyPathForm)

	r.HandleFunc("/api/bucket/mount", rt.handleBucketMount).Methods(http.MethodPost)
	r.HandleFunc("/api/bucket/mount", rt.wrapWSOnly(rt.handleBucketMount)).Methods(http.MethodGet)

	r.HandleFunc("/api/session/create", rt.handleSessionCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/session/create", rt.wrapWSOnly(rt.handleSessionCreate)).Methods(http.MethodGet)
	r.HandleFunc("/api/session/delete", rt.handleSessionDelete).Methods(http.MethodPost)
	r.HandleFunc("/api/session/delete", rt.wrapWSOnly(rt.handleSessionDelete)).Methods(http.MethodGet)
	r.HandleFunc("/api/session/list", rt.wrapWS(rt.handleSessionList)).Methods(http.MethodGet)

	r.HandleFunc("/api/env/set", rt.handleEnvSet).Methods(http.MethodPost)
	r.HandleFunc("/api/env/set", rt.wrapWSOnly(rt.handleEnvSet)).Methods(http.MethodGet)
	r.HandleFunc("/api/init", rt.handleInit).Methods(http.MethodPost)
	r.HandleFunc("/api/init", rt.wrapWSOnly(rt.handleInit)).Methods(http.MethodGet)
	r.HandleFunc("/cleanup", rt.handleCleanup).Methods(http.MethodPost)
	r.HandleFunc("/cleanup", rt.wrapWSOnly(rt.handleCleanup)).Methods(http.MethodGet)

	r.HandleFunc("/terminal/{sessionId}", rt.handleTerminal)
	r.HandleFunc("/terminal", rt.handleTerminal)
	r.HandleFunc("/ws/{name}", rt.handleWebSocketRoute)

	r.NotFoundHandler = http.HandlerFunc(rt.handleSubdomainProxyOrNotFound)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", HeaderSandboxID, HeaderSessionID, HeaderUseWebSocket, HeaderKeepAlive}),
	)(r)

	return monitor.WrapPrometheus(corsHandler)
}

// handleSubdomainProxyOrNotFound is reached when no registered route
// matches; if the Host header matches the subdomain proxy shape, the
// request is forwarded, otherwise a plain 404 is returned.
func (rt *Router) handleSubdomainProxyOrNotFound(w http.ResponseWriter, r *http.Request) {
	if port, _, ok := portproxy.ParseSubdomain(r.Host); ok {
		rt.proxyToPort(w, r, port, r.URL.Path)

		return
	}

	http.NotFound(w, r)
}

// sessionFromRequest resolves the session targeted by r: the
// X-Session-Id header if present, else the lazily-created default session.
func (rt *Router) sessionFromRequest(r *http.Request) (*session.Session, error) {
	if id := r.Header.Get(HeaderSessionID); id != "" {
		return rt.Sessions.Get(id)
	}

	return rt.Sessions.GetOrCreateDefault()
}

// Shutdown tears down every component for a graceful exit: PTY sessions,
// background processes, and session shells.
func (rt *Router) Shutdown() {
	rt.Pty.Shutdown()
	rt.Ports.Close()

	for _, rec := range rt.Processes.List() {
		rt.Processes.Kill(rec.ID)
	}

	rt.Processes.Close()

	for _, sess := range rt.Sessions.List() {
		rt.Sessions.Delete(sess.ID)
	}

	logger.Info("shutdown complete")
}
