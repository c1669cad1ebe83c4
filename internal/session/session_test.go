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

package session

import (
	"strings"
	"testing"
)

func TestGetOrCreateDefaultIsIdempotent(t *testing.T) {
	r := NewRegistry()

	a, err := r.GetOrCreateDefault()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, err := r.GetOrCreateDefault()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a != b {
		t.Errorf("expected the same session instance on repeated calls")
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Create("alpha", nil, "", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.Create("alpha", nil, "", false); err == nil {
		t.Errorf("expected an error creating a duplicate session id")
	}
}

func TestGetMissingSessionIsTyped(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("nope"); err == nil {
		t.Errorf("expected an error for a missing session")
	}
}

func TestDeleteRejectsNewCommandsImmediately(t *testing.T) {
	r := NewRegistry()

	sess, err := r.Create("gone", nil, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.Delete("gone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.Get("gone"); err == nil {
		t.Errorf("expected the session to be gone from the registry")
	}

	if _, err := sess.Exec("echo hi", nil, ""); err == nil {
		t.Errorf("expected Exec on a deleted session to fail")
	}
}

func TestExecPerCommandEnvOverride(t *testing.T) {
	r := NewRegistry()

	sess, err := r.Create("envtest", nil, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { r.Delete("envtest") })

	val := "override"
	res, err := sess.Exec("echo $FOO", map[string]*string{"FOO": &val}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(res.Stdout) != "override" {
		t.Errorf("unexpected stdout: %q", res.Stdout)
	}
}

func TestSetEnvPersistsAcrossExecsUntilOverridden(t *testing.T) {
	r := NewRegistry()

	sess, err := r.Create("setenvtest", nil, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { r.Delete("setenvtest") })

	sessionVal := "session"
	sess.SetEnv(map[string]*string{"OVERRIDE": &sessionVal})

	res, err := sess.Exec("echo $OVERRIDE", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(res.Stdout) != "session" {
		t.Errorf("expected session-level env to apply, got %q", res.Stdout)
	}

	cmdVal := "command"
	res, err = sess.Exec("echo $OVERRIDE", map[string]*string{"OVERRIDE": &cmdVal}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(res.Stdout) != "command" {
		t.Errorf("expected per-command env to win over session env, got %q", res.Stdout)
	}

	res, err = sess.Exec("echo $OVERRIDE", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(res.Stdout) != "session" {
		t.Errorf("expected session-level env to still apply after a one-off override, got %q", res.Stdout)
	}
}

func TestExecPerCommandEnvUnset(t *testing.T) {
	r := NewRegistry()

	val := "baseline"
	sess, err := r.Create("unsettest", map[string]*string{"FOO": &val}, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { r.Delete("unsettest") })

	res, err := sess.Exec("echo [$FOO]", map[string]*string{"FOO": nil}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(res.Stdout) != "[]" {
		t.Errorf("expected FOO to be unset for this command, got %q", res.Stdout)
	}
}
