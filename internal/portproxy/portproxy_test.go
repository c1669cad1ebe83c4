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

package portproxy

import "testing"

func TestExposeListUnexposeRoundTrip(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(r.Close)

	if _, err := r.Expose(9000, "dev-server"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false

	for _, ep := range r.List() {
		if ep.Port == 9000 && ep.Status == StatusActive {
			found = true
		}
	}

	if !found {
		t.Fatalf("expected port 9000 to be listed as active")
	}

	if err := r.Unexpose(9000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, ep := range r.List() {
		if ep.Port == 9000 && ep.Status == StatusActive {
			t.Errorf("expected port 9000 to no longer be active")
		}
	}
}

func TestExposeRejectsReservedPort(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(r.Close)

	if _, err := r.Expose(5432, ""); err == nil {
		t.Errorf("expected an error exposing a reserved port")
	}
}

func TestExposeRejectsOutOfRangePort(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(r.Close)

	if _, err := r.Expose(80, ""); err == nil {
		t.Errorf("expected an error exposing port 80 (reserved and below 1024)")
	}

	if _, err := r.Expose(70000, ""); err == nil {
		t.Errorf("expected an error exposing an out-of-range port")
	}
}

func TestExposeRejectsAlreadyActivePort(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(r.Close)

	if _, err := r.Expose(9001, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.Expose(9001, ""); err == nil {
		t.Errorf("expected an error re-exposing an already-active port")
	}
}

func TestParseSubdomain(t *testing.T) {
	port, sandboxID, ok := ParseSubdomain("9000-abc123.sandboxes.example.com")
	if !ok {
		t.Fatalf("expected subdomain to parse")
	}

	if port != 9000 || sandboxID != "abc123" {
		t.Errorf("unexpected parse result: port=%d sandboxID=%q", port, sandboxID)
	}

	if _, _, ok := ParseSubdomain("example.com"); ok {
		t.Errorf("expected a non-matching host to fail to parse")
	}
}
