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

// Package bucket mounts external S3-compatible object stores at a chosen
// path inside the container via a FUSE helper binary: exec the helper,
// track its pid, and let it run until explicitly unmounted.
package bucket

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/logutil"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/monitor"
)

var logger = logutil.GetLogger("bucket")

// mountHelperNames are tried, in order, to locate a FUSE mount helper on
// PATH. goofys and s3fs are the two mainstream S3 FUSE drivers; whichever
// is present is used.
var mountHelperNames = []string{"goofys", "s3fs"}

// Credentials are the caller-supplied S3-compatible credentials for one
// mount request.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	Endpoint        string // non-empty for S3-compatible, non-AWS stores
}

// Mount describes an active bucket mount.
type Mount struct {
	Bucket    string
	Path      string
	MountedAt time.Time
	cmd       *exec.Cmd
}

// Mounter tracks active mounts and performs the preflight + helper-exec
// mount flow.
type Mounter struct {
	mounts map[string]*Mount
}

// NewMounter creates an empty Mounter.
func NewMounter() *Mounter {
	return &Mounter{mounts: make(map[string]*Mount)}
}

// Mount validates creds against bucket with a lightweight HeadBucket call,
// then execs a FUSE helper to mount it at path. HeadBucket gives an
// actionable INVALID_REQUEST before the slower, harder-to-diagnose FUSE
// mount attempt.
func (m *Mounter) Mount(ctx context.Context, bucket, path string, creds Credentials) (*Mount, error) {
	if err := headBucketPreflight(ctx, bucket, creds); err != nil {
		return nil, err
	}

	helper, err := findMountHelper()
	if err != nil {
		monitor.MetricsBucketMounts.WithLabelValues("fuse_unavailable").Inc()

		return nil, err
	}

	if _, err := os.Stat("/dev/fuse"); err != nil {
		monitor.MetricsBucketMounts.WithLabelValues("fuse_unavailable").Inc()

		return nil, apierr.New(apierr.CodeFuseNotAvailable, "/dev/fuse is not present in this container")
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, apierr.New(apierr.CodeInternalError, "create mount path: %v", err)
	}

	cmd := buildHelperCommand(helper, bucket, path, creds)

	if err := cmd.Start(); err != nil {
		monitor.MetricsBucketMounts.WithLabelValues("helper_start_error").Inc()

		return nil, apierr.New(apierr.CodeFuseNotAvailable, "start mount helper %q: %v", helper, err)
	}

	mnt := &Mount{Bucket: bucket, Path: path, MountedAt: time.Now(), cmd: cmd}
	m.mounts[path] = mnt

	monitor.MetricsBucketMounts.WithLabelValues("success").Inc()
	logger.WithField("bucket", bucket).Infof("mounted bucket at %s via %s", path, helper)

	return mnt, nil
}

// Unmount issues a fusermount -u (or umount as fallback) against path.
func (m *Mounter) Unmount(path string) error {
	if _, ok := m.mounts[path]; !ok {
		return apierr.New(apierr.CodeFileNotFound, "no bucket mounted at %s", path)
	}

	delete(m.mounts, path)

	unmountCmd := "fusermount"
	args := []string{"-u", path}

	if _, err := exec.LookPath(unmountCmd); err != nil {
		unmountCmd = "umount"
		args = []string{path}
	}

	if err := exec.Command(unmountCmd, args...).Run(); err != nil {
		return apierr.New(apierr.CodeInternalError, "unmount %s: %v", path, err)
	}

	return nil
}

// resolveCredentials builds the aws.CredentialsProvider for a mount
// request: explicit static credentials when the caller supplied an access
// key, otherwise the ambient default chain (env vars, instance profile,
// container credentials endpoint) via config.LoadDefaultConfig, so a
// sandbox running on an instance with an attached role can mount a bucket
// without the caller ever handling a secret.
func resolveCredentials(ctx context.Context, creds Credentials) (aws.CredentialsProvider, error) {
	if creds.AccessKeyID != "" {
		return credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken), nil
	}

	region := creds.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidRequest, "no credentials supplied and no ambient AWS config found: %v", err)
	}

	return cfg.Credentials, nil
}

func headBucketPreflight(ctx context.Context, bucket string, creds Credentials) error {
	credsProvider, err := resolveCredentials(ctx, creds)
	if err != nil {
		return err
	}

	cfgOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = credsProvider

			if creds.Region != "" {
				o.Region = creds.Region
			}

			if creds.Endpoint != "" {
				o.BaseEndpoint = aws.String(creds.Endpoint)
				o.UsePathStyle = true
			}
		},
	}

	client := s3.New(s3.Options{}, cfgOpts...)

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return apierr.New(apierr.CodeInvalidRequest, "bucket %q is not reachable with the supplied credentials: %v", bucket, err)
	}

	return nil
}

func findMountHelper() (string, error) {
	for _, name := range mountHelperNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	return "", apierr.New(apierr.CodeFuseNotAvailable, "no FUSE mount helper (%v) found on PATH", mountHelperNames)
}

func buildHelperCommand(helper, bucket, path string, creds Credentials) *exec.Cmd {
	cmd := exec.Command(helper, bucket, path)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("AWS_ACCESS_KEY_ID=%s", creds.AccessKeyID),
		fmt.Sprintf("AWS_SECRET_ACCESS_KEY=%s", creds.SecretAccessKey),
	)

	if creds.SessionToken != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("AWS_SESSION_TOKEN=%s", creds.SessionToken))
	}

	return cmd
}
