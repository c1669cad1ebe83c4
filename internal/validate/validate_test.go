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

package validate

import "testing"

func TestPathRejectsSensitiveLocations(t *testing.T) {
	if err := Path("/etc/shadow"); err == nil {
		t.Errorf("expected /etc/shadow to be rejected")
	}

	if err := Path("/root/.ssh/id_rsa"); err == nil {
		t.Errorf("expected files under /root/.ssh to be rejected")
	}

	if err := Path("/workspace/project/main.go"); err != nil {
		t.Errorf("expected an ordinary workspace path to be accepted, got %v", err)
	}
}

func TestCommandRejectsDestructivePatterns(t *testing.T) {
	cases := []string{
		"rm -rf /",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"shutdown -h now",
	}

	for _, c := range cases {
		if err := Command(c); err == nil {
			t.Errorf("expected command %q to be rejected", c)
		}
	}

	if err := Command("rm -rf ./build"); err != nil {
		t.Errorf("expected a scoped rm to be accepted, got %v", err)
	}
}

func TestGitURLAllowsOnlyKnownHosts(t *testing.T) {
	if err := GitURL("https://github.com/example/repo.git"); err != nil {
		t.Errorf("expected github.com to be allowed, got %v", err)
	}

	if err := GitURL("https://evil.example.com/repo.git"); err == nil {
		t.Errorf("expected an unknown host to be rejected")
	}

	if err := GitURL("not a url \x7f"); err == nil {
		t.Errorf("expected an unparseable URL to be rejected")
	}
}
