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
	"time"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/monitor"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/session"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/validate"
)

func (rt *Router) sessionForExecute(r *http.Request, sessionID string) (*session.Session, error) {
	if sessionID != "" {
		return rt.Sessions.Get(sessionID)
	}

	return rt.sessionFromRequest(r)
}

func (rt *Router) handleExecute(w http.ResponseWriter, r *http.Request) {
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

	if req.Background {
		rec, err := rt.Processes.StartViaSession(sess, sess.ID, req.Command)
		if err != nil {
			writeError(w, err)

			return
		}

		writeOK(w, processStartResponse{ProcessID: rec.ID, PID: rec.PID, Status: string(rec.Status)})

		return
	}

	start := time.Now()
	res, err := sess.Exec(req.Command, req.Env, req.Cwd)
	monitor.MetricsCommandDuration.WithLabelValues(sess.ID).Observe(time.Since(start).Seconds())

	if err != nil {
		monitor.MetricsCommandsExecuted.WithLabelValues(sess.ID, "error").Inc()
		writeError(w, err)

		return
	}

	status := "ok"
	if res.ExitCode != 0 {
		status = "nonzero_exit"
	}

	monitor.MetricsCommandsExecuted.WithLabelValues(sess.ID, status).Inc()
	writeOK(w, executeResponse{Success: res.ExitCode == 0, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr})
}

func (rt *Router) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
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

	f, err := startSSE(w)
	if err != nil {
		writeError(w, err)

		return
	}

	if req.Background {
		rec, err := rt.Processes.StartViaSession(sess, sess.ID, req.Command)
		if err != nil {
			sseEvent(w, f, "error", apierr.As(err).Envelope())

			return
		}

		sseEvent(w, f, "process_started", map[string]any{"processId": rec.ID, "pid": rec.PID})
		rt.streamProcessEvents(w, f, rec, r.Context())

		return
	}

	events, err := sess.ExecStream(req.Command, req.Env, req.Cwd)
	if err != nil {
		sseEvent(w, f, "error", apierr.As(err).Envelope())

		return
	}

	for ev := range events {
		if ev.Done {
			status := "ok"
			if ev.Result.ExitCode != 0 {
				status = "nonzero_exit"
			}

			monitor.MetricsCommandsExecuted.WithLabelValues(sess.ID, status).Inc()

			sseEvent(w, f, "process_ended", map[string]any{
				"exitCode": ev.Result.ExitCode,
				"stdout":   ev.Result.Stdout,
				"stderr":   ev.Result.Stderr,
				"timedOut": ev.Result.TimedOut,
			})

			return
		}

		sseEvent(w, f, "output", map[string]string{"stream": ev.Stream, "chunk": ev.Chunk})
	}
}
