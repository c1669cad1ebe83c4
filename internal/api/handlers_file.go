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
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/validate"
)

type pathRequest struct {
	Path string `json:"path"`
}

type writeRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type renameRequest struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

type moveRequest struct {
	SourcePath      string `json:"sourcePath"`
	DestinationPath string `json:"destinationPath"`
}

type fileEntry struct {
	Name        string `json:"name"`
	IsDirectory bool   `json:"isDirectory"`
	Size        int64  `json:"size"`
}

func (rt *Router) handleRead(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.Path(req.Path); err != nil {
		writeError(w, err)

		return
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		writeError(w, fileNotFound(req.Path, err))

		return
	}

	writeOK(w, map[string]any{"success": true, "content": string(data)})
}

func (rt *Router) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.Path(req.Path); err != nil {
		writeError(w, err)

		return
	}

	if dir := filepath.Dir(req.Path); dir != "" {
		os.MkdirAll(dir, 0o755)
	}

	if err := os.WriteFile(req.Path, []byte(req.Content), 0o644); err != nil {
		writeError(w, apierr.New(apierr.CodeInternalError, "write %s: %v", req.Path, err))

		return
	}

	writeOK(w, map[string]any{"success": true})
}

func (rt *Router) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.Path(req.Path); err != nil {
		writeError(w, err)

		return
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		writeError(w, fileNotFound(req.Path, err))

		return
	}

	if info.IsDir() {
		writeError(w, apierr.New(apierr.CodeCannotDeleteDirectoryWithDeleteFile,
			"%s is a directory; use a directory-aware operation instead", req.Path))

		return
	}

	if err := os.Remove(req.Path); err != nil {
		writeError(w, apierr.New(apierr.CodeInternalError, "delete %s: %v", req.Path, err))

		return
	}

	writeOK(w, map[string]any{"success": true})
}

func (rt *Router) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.Path(req.OldPath); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.Path(req.NewPath); err != nil {
		writeError(w, err)

		return
	}

	if err := os.Rename(req.OldPath, req.NewPath); err != nil {
		writeError(w, apierr.New(apierr.CodeInternalError, "rename %s to %s: %v", req.OldPath, req.NewPath, err))

		return
	}

	writeOK(w, map[string]any{"success": true})
}

func (rt *Router) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.Path(req.SourcePath); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.Path(req.DestinationPath); err != nil {
		writeError(w, err)

		return
	}

	if err := os.Rename(req.SourcePath, req.DestinationPath); err != nil {
		writeError(w, apierr.New(apierr.CodeInternalError, "move %s to %s: %v", req.SourcePath, req.DestinationPath, err))

		return
	}

	writeOK(w, map[string]any{"success": true})
}

func (rt *Router) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.Path(req.Path); err != nil {
		writeError(w, err)

		return
	}

	if err := os.MkdirAll(req.Path, 0o755); err != nil {
		writeError(w, apierr.New(apierr.CodeInternalError, "mkdir %s: %v", req.Path, err))

		return
	}

	writeOK(w, map[string]any{"success": true})
}

func (rt *Router) handleList(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.Path(req.Path); err != nil {
		writeError(w, err)

		return
	}

	entries, err := os.ReadDir(req.Path)
	if err != nil {
		writeError(w, fileNotFound(req.Path, err))

		return
	}

	out := make([]fileEntry, 0, len(entries))

	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}

		out = append(out, fileEntry{Name: e.Name(), IsDirectory: e.IsDir(), Size: info.Size()})
	}

	writeOK(w, map[string]any{"success": true, "files": out})
}

type gitCheckoutRequest struct {
	RepoURL   string `json:"repoUrl"`
	Branch    string `json:"branch,omitempty"`
	TargetDir string `json:"targetDir,omitempty"`
}

func (rt *Router) handleGitCheckout(w http.ResponseWriter, r *http.Request) {
	var req gitCheckoutRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if err := validate.GitURL(req.RepoURL); err != nil {
		writeError(w, err)

		return
	}

	sess, err := rt.sessionFromRequest(r)
	if err != nil {
		writeError(w, err)

		return
	}

	targetDir := req.TargetDir
	if targetDir == "" {
		targetDir = filepath.Join(sess.Cwd, repoDirName(req.RepoURL))
	}

	if err := validate.Path(targetDir); err != nil {
		writeError(w, err)

		return
	}

	cloneCmd := fmt.Sprintf("git clone --depth 1 %s %s", shellQuote(req.RepoURL), shellQuote(targetDir))
	if req.Branch != "" {
		cloneCmd = fmt.Sprintf("git clone --depth 1 --branch %s %s %s", shellQuote(req.Branch), shellQuote(req.RepoURL), shellQuote(targetDir))
	}

	res, err := sess.Exec(cloneCmd, nil, "")
	if err != nil {
		writeError(w, err)

		return
	}

	if res.ExitCode != 0 {
		writeError(w, apierr.New(apierr.CodeInternalError, "git clone failed: %s", res.Stderr))

		return
	}

	writeOK(w, map[string]any{"targetDirectory": targetDir})
}

func repoDirName(repoURL string) string {
	base := filepath.Base(repoURL)

	return base[:len(base)-len(filepath.Ext(base))]
}

func fileNotFound(path string, err error) error {
	return apierr.New(apierr.CodeFileNotFound, "%s: %v", path, err)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
