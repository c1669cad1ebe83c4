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

	"github.com/gorilla/mux"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/monitor"
)

type codeContextCreateRequest struct {
	Language string `json:"language"`
}

type codeContextView struct {
	ID       string `json:"id"`
	Language string `json:"language"`
}

func (rt *Router) handleCodeContextCreate(w http.ResponseWriter, r *http.Request) {
	var req codeContextCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	ctx, err := rt.Code.Create(req.Language)
	if err != nil {
		writeError(w, err)

		return
	}

	monitor.MetricsCodeContextsActive.WithLabelValues(req.Language).Inc()
	writeOK(w, codeContextView{ID: ctx.ID, Language: ctx.Language})
}

func (rt *Router) handleCodeContextList(w http.ResponseWriter, r *http.Request) {
	// Lists every context the registry holds, the same map the create/delete
	// handlers use.
	writeOK(w, rt.codeContextViews())
}

func (rt *Router) codeContextViews() []codeContextView {
	contexts := rt.Code.List()
	out := make([]codeContextView, 0, len(contexts))

	for _, ctx := range contexts {
		out = append(out, codeContextView{ID: ctx.ID, Language: ctx.Language})
	}

	return out
}

func (rt *Router) handleCodeContextDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, err := rt.Code.Get(id)
	if err == nil {
		monitor.MetricsCodeContextsActive.WithLabelValues(ctx.Language).Dec()
	}

	if err := rt.Code.Delete(id); err != nil {
		writeError(w, err)

		return
	}

	writeOK(w, map[string]any{"success": true})
}

type codeExecuteRequest struct {
	Code    string `json:"code"`
	Options struct {
		Context string `json:"context"`
	} `json:"options"`
}

func (rt *Router) handleCodeExecute(w http.ResponseWriter, r *http.Request) {
	var req codeExecuteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	ctx, err := rt.Code.Get(req.Options.Context)
	if err != nil {
		writeError(w, err)

		return
	}

	res, err := ctx.Execute(req.Code)
	if err != nil {
		writeError(w, err)

		return
	}

	writeOK(w, res)
}

func (rt *Router) handleCodeExecuteStream(w http.ResponseWriter, r *http.Request) {
	var req codeExecuteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	ctx, err := rt.Code.Get(req.Options.Context)
	if err != nil {
		writeError(w, err)

		return
	}

	f, err := startSSE(w)
	if err != nil {
		writeError(w, err)

		return
	}

	events, err := ctx.ExecuteStream(req.Code)
	if err != nil {
		sseEvent(w, f, "error", apierr.As(err).Envelope())

		return
	}

	for ev := range events {
		sseEvent(w, f, ev.Type, ev)
	}
}
