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

package process

import (
	"strings"
	"testing"
	"time"
)

func TestStartDirectCompletes(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Close)

	rec, err := m.StartDirect("s1", "/bin/sh", []string{"-c", "echo hi"}, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		status, _, _ := rec.Snapshot()
		if status == StatusCompleted {
			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	status, stdout, _ := rec.Snapshot()
	if status != StatusCompleted {
		t.Fatalf("expected completed status, got %s", status)
	}

	if !strings.Contains(stdout, "hi") {
		t.Errorf("unexpected stdout: %q", stdout)
	}
}

func TestStartDirectNonZeroExitIsFailed(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Close)

	rec, err := m.StartDirect("s1", "/bin/sh", []string{"-c", "exit 3"}, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		status, _, _ := rec.Snapshot()
		if status == StatusFailed {
			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	status, _, _ := rec.Snapshot()
	if status != StatusFailed {
		t.Fatalf("expected failed status, got %s", status)
	}

	if rec.ExitCode != 3 {
		t.Errorf("unexpected exit code: %d", rec.ExitCode)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Close)

	rec, err := m.StartDirect("s1", "/bin/sh", []string{"-c", "sleep 10"}, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Kill(rec.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Kill(rec.ID); err != nil {
		t.Fatalf("second kill should be a no-op, got error: %v", err)
	}

	status, _, _ := rec.Snapshot()
	if status != StatusKilled {
		t.Errorf("expected killed status, got %s", status)
	}
}

func TestWaitForLogResolvesOnMatch(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Close)

	rec, err := m.StartDirect("s1", "/bin/sh", []string{"-c", "sleep 0.2; echo ready-marker"}, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	line, err := m.WaitForLog(rec.ID, "ready-marker", 2*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(line, "ready-marker") {
		t.Errorf("unexpected matched line: %q", line)
	}
}

func TestWaitForLogTimesOut(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Close)

	rec, err := m.StartDirect("s1", "/bin/sh", []string{"-c", "sleep 2"}, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { m.Kill(rec.ID) })

	if _, err := m.WaitForLog(rec.ID, "never-appears", 200*time.Millisecond); err == nil {
		t.Errorf("expected a timeout error")
	}
}

func TestGetMissingProcessIsTyped(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Close)

	if _, err := m.Get("nope"); err == nil {
		t.Errorf("expected an error for a missing process")
	}
}
