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
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/portproxy"
)

type exposePortRequest struct {
	Port int    `json:"port"`
	Name string `json:"name,omitempty"`
}

type exposedPortView struct {
	Port      int    `json:"port"`
	Name      string `json:"name"`
	ExposedAt string `json:"exposedAt"`
	Status    string `json:"status"`
}

func (rt *Router) handleExposePort(w http.ResponseWriter, r *http.Request) {
	var req exposePortRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	ep, err := rt.Ports.Expose(req.Port, req.Name)
	if err != nil {
		writeError(w, err)

		return
	}

	writeOK(w, exposedPortView{Port: ep.Port, Name: ep.Name, ExposedAt: ep.ExposedAt.Format(http.TimeFormat), Status: string(ep.Status)})
}

func (rt *Router) handleUnexposePort(w http.ResponseWriter, r *http.Request) {
	portStr := mux.Vars(r)["port"]

	port, err := strconv.Atoi(portStr)
	if err != nil {
		writeError(w, apierr.New(apierr.CodeInvalidPort, "invalid port %q", portStr))

		return
	}

	if err := rt.Ports.Unexpose(port); err != nil {
		writeError(w, err)

		return
	}

	writeOK(w, map[string]any{"success": true})
}

// handleProxyPathForm forwards ANY /proxy/{port}/... request to
// 127.0.0.1:{port}, stripping the /proxy/{port} prefix from the forwarded
// path.
func (rt *Router) handleProxyPathForm(w http.ResponseWriter, r *http.Request) {
	portStr := mux.Vars(r)["port"]

	port, err := strconv.Atoi(portStr)
	if err != nil {
		writeError(w, apierr.New(apierr.CodeInvalidPort, "invalid port %q", portStr))

		return
	}

	prefix := "/proxy/" + portStr
	rt.proxyToPort(w, r, port, strings.TrimPrefix(r.URL.Path, prefix))
}

// proxyToPort rewrites r's path to forwardPath and hands it to a fresh
// reverse proxy targeting 127.0.0.1:port.
func (rt *Router) proxyToPort(w http.ResponseWriter, r *http.Request, port int, forwardPath string) {
	if forwardPath == "" {
		forwardPath = "/"
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = forwardPath
	r2.Host = ""

	portproxy.NewReverseProxy(port).ServeHTTP(w, r2)
}
