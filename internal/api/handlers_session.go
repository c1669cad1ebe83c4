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

	"github.com/google/uuid"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/monitor"
)

type sessionCreateRequest struct {
	ID        string            `json:"id,omitempty"`
	Env       map[string]*string `json:"env,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Isolation bool              `json:"isolation,omitempty"`
}

type sessionDeleteRequest struct {
	ID string `json:"id"`
}

type sessionView struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	Cwd       string `json:"cwd"`
	Isolation bool   `json:"isolation"`
	Alive     bool   `json:"alive"`
}

func (rt *Router) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := rt.Sessions.Create(id, req.Env, req.Cwd, req.Isolation)
	if err != nil {
		writeError(w, err)

		return
	}

	monitor.MetricsSessionsActive.Inc()
	writeOK(w, sessionView{ID: sess.ID, CreatedAt: sess.CreatedAt.Format(http.TimeFormat), Cwd: sess.Cwd, Isolation: sess.Isolation, Alive: sess.Alive()})
}

func (rt *Router) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	var req sessionDeleteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if req.ID == "" {
		writeError(w, apierr.New(apierr.CodeInvalidRequest, "id is required"))

		return
	}

	if err := rt.Sessions.Delete(req.ID); err != nil {
		writeError(w, err)

		return
	}

	monitor.MetricsSessionsActive.Dec()
	writeOK(w, map[string]any{"success": true})
}

func (rt *Router) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions := rt.Sessions.List()
	out := make([]sessionView, 0, len(sessions))

	for _, sess := range sessions {
		out = append(out, sessionView{ID: sess.ID, CreatedAt: sess.CreatedAt.Format(http.TimeFormat), Cwd: sess.Cwd, Isolation: sess.Isolation, Alive: sess.Alive()})
	}

	writeOK(w, out)
}
