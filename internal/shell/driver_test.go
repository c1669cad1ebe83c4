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

package shell

import (
	"strings"
	"testing"
	"time"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()

	d, err := New(Config{SessionID: "test-" + t.Name(), Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Cleanup(func() { d.Close() })

	return d
}

func TestExecBasic(t *testing.T) {
	d := newTestDriver(t)

	res, err := d.Exec("echo hello", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("unexpected stdout: %q", res.Stdout)
	}

	if res.ExitCode != 0 {
		t.Errorf("unexpected exit code: %d", res.ExitCode)
	}
}

func TestExecNonZeroExit(t *testing.T) {
	d := newTestDriver(t)

	res, err := d.Exec("exit 7", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.ExitCode != 7 {
		t.Errorf("unexpected exit code: %d", res.ExitCode)
	}
}

func TestExecStderr(t *testing.T) {
	d := newTestDriver(t)

	res, err := d.Exec("echo oops 1>&2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("unexpected stderr: %q", res.Stderr)
	}
}

func TestExecCwdOverrideFailure(t *testing.T) {
	d := newTestDriver(t)

	res, err := d.Exec("pwd", "/no/such/directory")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.ExitCode != 1 {
		t.Errorf("expected exit code 1 for bad cwd, got %d", res.ExitCode)
	}

	if !strings.Contains(res.Stderr, "Failed to change directory") {
		t.Errorf("expected cwd failure message, got %q", res.Stderr)
	}
}

func TestExecCdPersistsAcrossCommands(t *testing.T) {
	d := newTestDriver(t)

	if _, err := d.Exec("cd /tmp", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := d.Exec("pwd", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(res.Stdout) != "/tmp" {
		t.Errorf("expected session cwd to persist across commands, got %q", res.Stdout)
	}
}

func TestExecTimeout(t *testing.T) {
	d := newTestDriver(t)

	res, err := d.Exec("sleep 5", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !res.TimedOut {
		t.Errorf("expected command to time out")
	}
}

func TestExecStreamIncremental(t *testing.T) {
	d := newTestDriver(t)

	events, err := d.ExecStream("echo one; sleep 0.3; echo two", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var chunks []string

	var sawDone bool

	for ev := range events {
		if ev.Done {
			sawDone = true

			if ev.Result == nil || ev.Result.ExitCode != 0 {
				t.Errorf("unexpected terminal result: %+v", ev.Result)
			}

			continue
		}

		if ev.Stream == "stdout" && ev.Chunk != "" {
			chunks = append(chunks, ev.Chunk)
		}
	}

	if !sawDone {
		t.Errorf("expected a terminal event")
	}

	joined := strings.Join(chunks, "")
	if !strings.Contains(joined, "one") || !strings.Contains(joined, "two") {
		t.Errorf("expected both lines in streamed output, got %q", joined)
	}
}

func TestExecSequentialCommandsShareState(t *testing.T) {
	d := newTestDriver(t)

	if _, err := d.Exec("export FOO=bar", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := d.Exec("echo $FOO", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(res.Stdout) != "bar" {
		t.Errorf("expected session state to persist across commands, got %q", res.Stdout)
	}
}

func TestAliveAfterClose(t *testing.T) {
	d, err := New(Config{SessionID: "test-close", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d.Close()

	// Give the exit-watcher goroutine a moment to observe the kill.
	deadline := time.Now().Add(time.Second)
	for d.Alive() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if d.Alive() {
		t.Errorf("expected driver to report not alive after Close")
	}
}
