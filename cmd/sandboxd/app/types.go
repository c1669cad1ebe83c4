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

// Package app wires the cobra command, toml configuration, and graceful
// startup/shutdown for the sandboxd binary around internal/api.Router.
package app

import (
	"github.com/cloudflare/sandbox-sdk-sub004/internal/logutil"
)

// Option is the top-level toml-decoded configuration for sandboxd.
type Option struct {
	Host         string         `toml:"host"`
	Port         string         `toml:"port"`
	MonitorPort  string         `toml:"monitor_port"`
	LogConfig    logutil.Config `toml:"log_config"`
	ShutdownGrace int           `toml:"shutdown_grace_seconds"`
}
