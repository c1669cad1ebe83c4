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
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/process"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/validate"
)

func (rt *Router) handleProcessStart(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.Command(req.Command); err != nil {
		writeError(w, err)

		return
	}

	sess, err := rt.sessionForExecute(r, req.SessionID)
	if err != nil {
		writeError(w, err)

		return
	}

	rec, err := rt.Processes.StartViaSession(sess, sess.ID, req.Command)
	if err != nil {
		writeError(w, err)

		return
	}

	writeOK(w, processStartResponse{ProcessID: rec.ID, PID: rec.PID, Status: string(rec.Status)})
}

func (rt *Router) handleProcessList(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	statusFilter := r.URL.Query().Get("status")

	all := rt.Processes.List()
	out := make([]*process.Record, 0, len(all))

	for _, rec := range all {
		if sessionID != "" && rec.SessionID != sessionID {
			continue
		}

		if statusFilter != "" && string(rec.Status) != statusFilter {
			continue
		}

		out = append(out, rec)
	}

	writeOK(w, map[string]any{"count": len(out), "processes": recordViews(out)})
}

type recordView struct {
	ID        string `json:"id"`
	PID       int    `json:"pid"`
	Command   string `json:"command"`
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
	ExitCode  int    `json:"exitCode"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
}

func recordViews(recs []*process.Record) []recordView {
	out := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordView{
			ID: rec.ID, PID: rec.PID, Command: rec.Command,
			Status: string(rec.Status), SessionID: rec.SessionID, ExitCode: rec.ExitCode,
		})
	}

	return out
}

func (rt *Router) handleProcessGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := rt.Processes.Get(id)
	if err != nil {
		writeError(w, err)

		return
	}

	status, stdout, stderr := rec.Snapshot()

	writeOK(w, recordView{
		ID: rec.ID, PID: rec.PID, Command: rec.Command,
		Status: string(status), SessionID: rec.SessionID, ExitCode: rec.ExitCode,
		Stdout: stdout, Stderr: stderr,
	})
}

func (rt *Router) handleProcessKill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := rt.Processes.Kill(id); err != nil {
		writeError(w, err)

		return
	}

	writeOK(w, map[string]any{"success": true})
}

func (rt *Router) handleProcessStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := rt.Processes.Get(id)
	if err != nil {
		writeError(w, err)

		return
	}

	f, err := startSSE(w)
	if err != nil {
		writeError(w, err)

		return
	}

	status, stdout, stderr := rec.Snapshot()
	sseEvent(w, f, "process_info", map[string]any{
		"id": rec.ID, "pid": rec.PID, "status": status, "stdout": stdout, "stderr": stderr,
	})

	rt.streamProcessEvents(w, f, rec, r.Context())
}

// streamProcessEvents relays a background Record's output and terminal
// status as SSE frames until it reaches a terminal status, the request
// context is canceled, or an idle deadline is reached with no events.
func (rt *Router) streamProcessEvents(w http.ResponseWriter, f http.Flusher, rec *process.Record, ctx context.Context) {
	events := make(chan map[string]any, 64)

	outID := rec.AddOutputListener(func(stream, chunk string) {
		select {
		case events <- map[string]any{"kind": "output", "stream": stream, "chunk": chunk}:
		default:
		}
	})
	defer rec.RemoveOutputListener(outID)

	statID := rec.AddStatusListener(func(status process.Status) {
		select {
		case events <- map[string]any{"kind": "status", "status": string(status)}:
		default:
		}
	})
	defer rec.RemoveStatusListener(statID)

	if status, _, _ := rec.Snapshot(); status != process.StatusRunning && status != process.StatusStarting {
		sseEvent(w, f, "process_ended", map[string]any{"status": status})

		return
	}

	idle := time.NewTimer(10 * time.Minute)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			return
		case ev := <-events:
			idle.Reset(10 * time.Minute)

			switch ev["kind"] {
			case "output":
				sseEvent(w, f, "output", map[string]string{"stream": ev["stream"].(string), "chunk": ev["chunk"].(string)})
			case "status":
				status := ev["status"].(string)
				sseEvent(w, f, "status_change", map[string]string{"status": status})

				if process.Status(status) != process.StatusRunning && process.Status(status) != process.StatusStarting {
					sseEvent(w, f, "process_ended", map[string]string{"status": status})

					return
				}
			}
		}
	}
}

type waitForLogRequest struct {
	Pattern string  `json:"pattern"`
	Timeout float64 `json:"timeout"` // seconds
}

func (rt *Router) handleWaitForLog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req waitForLogRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	timeout := secondsOrDefault(req.Timeout, 30*time.Second)

	line, err := rt.Processes.WaitForLog(id, req.Pattern, timeout)
	if err != nil {
		writeError(w, err)

		return
	}

	writeOK(w, map[string]any{"line": line})
}

type waitForPortRequest struct {
	Port    int     `json:"port"`
	Timeout float64 `json:"timeout"` // seconds
}

func (rt *Router) handleWaitForPort(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req waitForPortRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if req.Port <= 0 {
		writeError(w, apierr.New(apierr.CodeInvalidPort, "port must be positive"))

		return
	}

	timeout := secondsOrDefault(req.Timeout, 30*time.Second)

	if err := rt.Processes.WaitForPort(id, req.Port, timeout); err != nil {
		writeError(w, err)

		return
	}

	writeOK(w, map[string]any{"port": req.Port})
}
