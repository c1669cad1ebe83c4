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

// Package session owns the session id -> Session map and serializes command
// execution per session, collapsed into one registry since this daemon has
// no separate transport-connection object per session.
package session

import (
	"fmt"
	"os"
	"os/user"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/logutil"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/shell"
)

var logger = logutil.GetLogger("session")

// DefaultSessionID is the id used for the lazily-created default session.
const DefaultSessionID = "default"

// Session is one long-lived bash shell plus the configuration it was
// created with.
type Session struct {
	ID        string
	CreatedAt time.Time
	Env       map[string]*string // nil value means "explicitly unset"
	Cwd       string
	Isolation bool

	driver *shell.Driver

	mu     sync.Mutex
	closed bool
}

// ExecResult mirrors shell.Result for callers that don't need the shell
// package's internals.
type ExecResult = shell.Result

// StreamEvent mirrors shell.StreamEvent.
type StreamEvent = shell.StreamEvent

// Registry maps session id -> *Session and enforces the creation/deletion
// rules: lazy default creation, explicit create/delete, and per-session
// serialization via each Session's mutex.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// resolveDefaultCwd picks /workspace if present, else the user's home
// directory, else "/" — evaluated at creation time, not eagerly, since the
// filesystem may change between daemon start and first session use.
func resolveDefaultCwd() string {
	if info, err := os.Stat("/workspace"); err == nil && info.IsDir() {
		return "/workspace"
	}

	if u, err := user.Current(); err == nil && u.HomeDir != "" {
		if info, err := os.Stat(u.HomeDir); err == nil && info.IsDir() {
			return u.HomeDir
		}
	}

	return "/"
}

func (r *Registry) newSessionLocked(id string, env map[string]*string, cwd string, isolation bool) (*Session, error) {
	if cwd == "" {
		cwd = resolveDefaultCwd()
	}

	if _, err := os.Stat(cwd); err != nil {
		cwd = resolveDefaultCwd()
	}

	driver, err := shell.New(shell.Config{
		SessionID: id,
		Isolation: isolation,
		Dir:       cwd,
		Env:       flattenEnv(env),
	})
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Env:       env,
		Cwd:       cwd,
		Isolation: isolation,
		driver:    driver,
	}

	r.sessions[id] = sess

	return sess, nil
}

// flattenEnv turns a nullable env map into an os/exec-style []string,
// dropping keys whose value is nil (they're removed at session start per
// the env resolution rules, not passed through as empty strings).
func flattenEnv(env map[string]*string) []string {
	if len(env) == 0 {
		return nil
	}

	base := os.Environ()
	merged := make(map[string]string, len(base)+len(env))

	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}

	for k, v := range env {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = *v
		}
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}

	return out
}

// GetOrCreateDefault returns the default session, creating it with default
// env and cwd if it doesn't exist yet.
func (r *Registry) GetOrCreateDefault() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[DefaultSessionID]; ok {
		return sess, nil
	}

	return r.newSessionLocked(DefaultSessionID, nil, "", false)
}

// Create makes a new session with id, failing if one already exists.
func (r *Registry) Create(id string, env map[string]*string, cwd string, isolation bool) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, apierr.New(apierr.CodeSessionAlreadyExists, "session %q already exists", id)
	}

	return r.newSessionLocked(id, env, cwd, isolation)
}

// Get returns the session with id, or a typed not-found error.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, apierr.New(apierr.CodeSessionNotFound, "session %q not found", id)
	}

	return sess, nil
}

// List returns every known session.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}

	return out
}

// Delete stops id's shell and removes it from the registry. Closing the
// session's gate happens before the shell is torn down, so any command that
// has not yet been dispatched observes SESSION_NOT_FOUND immediately; a
// command already running on the driver completes or times out normally,
// independent of the registry entry's removal.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return apierr.New(apierr.CodeSessionNotFound, "session %q not found", id)
	}

	sess.mu.Lock()
	sess.closed = true
	sess.mu.Unlock()

	logger.WithField("session_id", id).Info("deleting session")

	return sess.driver.Close()
}

// Exec acquires the session's mutex, merges the session's own env (set via
// Session.SetEnv) with perCmdEnv — per-command entries win — and runs
// command through the session's shell. The image-level env is already the
// shell child's process env, so wrapping each command with the merged
// session+per-command layer reproduces the full image -> session ->
// per-command precedence without ever restarting the shell.
func (s *Session) Exec(command string, perCmdEnv map[string]*string, perCmdCwd string) (ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ExecResult{}, apierr.New(apierr.CodeSessionNotFound, "session %q was deleted", s.ID)
	}

	return s.driver.Exec(wrapEnv(command, mergeEnv(s.Env, perCmdEnv)), perCmdCwd)
}

// ExecStream is Exec's streaming counterpart.
func (s *Session) ExecStream(command string, perCmdEnv map[string]*string, perCmdCwd string) (<-chan StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, apierr.New(apierr.CodeSessionNotFound, "session %q was deleted", s.ID)
	}

	return s.driver.ExecStream(wrapEnv(command, mergeEnv(s.Env, perCmdEnv)), perCmdCwd)
}

// SetEnv merges vars into the session's own env layer (nil masks a
// previously-set or image-level value for every future command on this
// session, until overridden again).
func (s *Session) SetEnv(vars map[string]*string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Env == nil {
		s.Env = make(map[string]*string, len(vars))
	}

	for k, v := range vars {
		s.Env[k] = v
	}
}

// mergeEnv layers perCmd over session, per-command entries overriding
// session-level ones of the same name.
func mergeEnv(session, perCmd map[string]*string) map[string]*string {
	if len(session) == 0 {
		return perCmd
	}

	merged := make(map[string]*string, len(session)+len(perCmd))

	for k, v := range session {
		merged[k] = v
	}

	for k, v := range perCmd {
		merged[k] = v
	}

	return merged
}

// Alive reports whether the session's shell child is still running.
func (s *Session) Alive() bool {
	return s.driver.Alive()
}

// wrapEnv applies per-command env overrides by preceding command with
// `export`/`unset` statements, and following it with statements that
// restore whatever the variables held before the override, so the change
// is visible to the command as it parses and runs but never leaks into
// the persistent shell once the command completes.
//
// An `env VAR=val command` prefix on the same line does not work here:
// command is sourced as-is, and bash expands any `$VAR` reference inside
// command during that line's word expansion, before env's child process
// ever sees the override — so `env OVERRIDE=command echo $OVERRIDE` still
// prints whatever OVERRIDE already was. Binding the variable with a
// preceding statement, on its own line, makes the shell see the new value
// before it parses the command line that references it.
func wrapEnv(command string, perCmdEnv map[string]*string) string {
	if len(perCmdEnv) == 0 {
		return command
	}

	names := make([]string, 0, len(perCmdEnv))
	for k := range perCmdEnv {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder

	for i, k := range names {
		save := fmt.Sprintf("__sandboxd_env_save_%d", i)
		fmt.Fprintf(&b, "if [ \"${%s+x}\" ]; then %s=\"${%s}\"; else unset %s; fi\n", k, save, k, save)

		if v := perCmdEnv[k]; v != nil {
			fmt.Fprintf(&b, "export %s=%s\n", k, shellSingleQuote(*v))
		} else {
			fmt.Fprintf(&b, "unset %s\n", k)
		}
	}

	b.WriteString(command)
	b.WriteString("\n__sandboxd_env_exit=$?\n")

	for i, k := range names {
		save := fmt.Sprintf("__sandboxd_env_save_%d", i)
		fmt.Fprintf(&b, "if [ \"${%s+x}\" ]; then export %s=\"${%s}\"; else unset %s; fi\n", save, k, save, k)
		fmt.Fprintf(&b, "unset %s\n", save)
	}

	b.WriteString("eval \"unset __sandboxd_env_exit; (exit $__sandboxd_env_exit)\"\n")

	return b.String()
}

func shellSingleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
