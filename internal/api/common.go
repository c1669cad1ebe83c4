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
	"encoding/json"
	"net/http"
	"time"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
)

// secondsOrDefault converts a client-supplied seconds value into a
// time.Duration, falling back to def when the value is zero or negative.
func secondsOrDefault(seconds float64, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}

	return time.Duration(seconds * float64(time.Second))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, body any) {
	writeJSON(w, http.StatusOK, body)
}

// writeError maps err onto an apierr.Envelope and the matching HTTP status,
// the one place a component error crosses into a wire response.
func writeError(w http.ResponseWriter, err error) {
	apiErr := apierr.As(err)
	writeJSON(w, apiErr.Status(), apiErr.Envelope())
}

func readJSON(r *http.Request, dst any) error {
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierr.New(apierr.CodeInvalidJSON, "invalid request body: %v", err)
	}

	return nil
}

// flusher returns w as an http.Flusher for SSE, or a typed error if the
// underlying ResponseWriter doesn't support it.
func flusher(w http.ResponseWriter) (http.Flusher, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, apierr.New(apierr.CodeInternalError, "streaming is not supported by this response writer")
	}

	return f, nil
}

func startSSE(w http.ResponseWriter) (http.Flusher, error) {
	f, err := flusher(w)
	if err != nil {
		return nil, err
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	return f, nil
}

func sseEvent(w http.ResponseWriter, f http.Flusher, event string, data any) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return
	}

	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: "))
	w.Write(encoded)
	w.Write([]byte("\n\n"))
	f.Flush()
}
