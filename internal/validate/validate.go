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

// Package validate holds the request-validation bodies the router applies
// before a path, command, or git URL ever reaches a session's shell: a
// small blocklist/allowlist layer, not a process-isolation boundary — the
// PID-namespace isolation in internal/shell is what actually contains a
// misbehaving command.
package validate

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
)

// sensitivePaths are absolute paths file operations may never target.
var sensitivePaths = []string{
	"/etc/shadow", "/etc/sudoers", "/etc/passwd",
	"/proc/1", "/proc/sys", "/sys/firmware",
	"/root/.ssh", "/var/run/docker.sock",
}

// Path rejects null bytes and direct targeting of a known-sensitive
// system path. Path traversal via ".." is otherwise permitted — the
// sandbox has no durable filesystem boundary narrower than the container
// itself (spec Non-goal: no chroot/jail).
func Path(p string) error {
	if strings.ContainsRune(p, 0) {
		return apierr.New(apierr.CodePathSecurityViolation, "path contains a null byte")
	}

	clean := strings.TrimRight(p, "/")

	for _, sensitive := range sensitivePaths {
		if clean == sensitive || strings.HasPrefix(clean, sensitive+"/") {
			return apierr.New(apierr.CodePathSecurityViolation, "path %q targets a protected system location", p)
		}
	}

	return nil
}

// dangerousCommandPatterns match shell commands that are almost never a
// legitimate sandboxed workload and are overwhelmingly destructive or
// host-affecting when they do appear.
var dangerousCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+/\s*($|[;&|])`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/(sd|nvme|vd)`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), // fork bomb
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
}

// Command rejects a command matching one of the dangerous patterns above.
func Command(cmd string) error {
	for _, pattern := range dangerousCommandPatterns {
		if pattern.MatchString(cmd) {
			return apierr.New(apierr.CodeCommandSecurityViolation, "command matches a disallowed pattern")
		}
	}

	return nil
}

// allowedGitHosts are the only hosts /api/git/checkout will clone from.
var allowedGitHosts = map[string]bool{
	"github.com":    true,
	"gitlab.com":    true,
	"bitbucket.org": true,
}

// GitURL rejects a repository URL whose host is not on the allowlist.
func GitURL(repoURL string) error {
	u, err := url.Parse(repoURL)
	if err != nil {
		return apierr.New(apierr.CodeGitURLSecurityViolation, "unparseable repository URL: %v", err)
	}

	host := strings.ToLower(u.Hostname())
	if !allowedGitHosts[host] {
		return apierr.New(apierr.CodeGitURLSecurityViolation, "repository host %q is not on the allowed list", host)
	}

	if u.Scheme != "https" && u.Scheme != "git" && u.Scheme != "ssh" {
		return apierr.New(apierr.CodeGitURLSecurityViolation, "repository URL scheme %q is not allowed", u.Scheme)
	}

	return nil
}
