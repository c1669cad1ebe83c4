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

package bucket

import (
	"context"
	"testing"
	"time"
)

func TestMountFailsPreflightForUnreachableBucket(t *testing.T) {
	m := NewMounter()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := m.Mount(ctx, "sandboxd-test-bucket-does-not-exist", t.TempDir(), Credentials{
		AccessKeyID:     "not-a-real-key",
		SecretAccessKey: "not-a-real-secret",
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:1", // deliberately unreachable
	})
	if err == nil {
		t.Fatalf("expected an error mounting an unreachable bucket")
	}
}

func TestUnmountMissingMountIsTyped(t *testing.T) {
	m := NewMounter()

	if err := m.Unmount("/no/such/mount"); err == nil {
		t.Errorf("expected an error unmounting a path with no active mount")
	}
}

func TestFindMountHelperFailsWhenAbsent(t *testing.T) {
	if _, err := findMountHelper(); err == nil {
		t.Skip("a FUSE mount helper is present on this machine's PATH; nothing to assert")
	}
}
