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

// Package logutil provides the daemon's logging infrastructure: a registry
// of named, daily-rolling-file logrus loggers, one per component.
package logutil

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Environment variable keys controlling the default logger settings.
const (
	EnvKeyEnableStdout = "SANDBOXD_LOG_ENABLE_STDOUT"
	EnvKeyLogLevel     = "SANDBOXD_LOG_LEVEL"
)

var (
	logMap       = make(map[string]*logrus.Logger)
	locker       = &sync.Mutex{}
	enableStdout = true
	level        = logrus.InfoLevel
)

func init() {
	if os.Getenv(EnvKeyEnableStdout) == "false" {
		enableStdout = false
	}

	if lvl, err := logrus.ParseLevel(os.Getenv(EnvKeyLogLevel)); err == nil {
		level = lvl
	}
}

// SetLevel sets the logging level for every logger created so far, and for
// any created afterwards.
func SetLevel(l logrus.Level) {
	locker.Lock()
	defer locker.Unlock()

	for _, theLogger := range logMap {
		theLogger.Level = l
	}

	level = l
}

// SetExpireDay sets the number of days after which rolled log files expire.
func SetExpireDay(days int) {
	if days <= 0 || days >= 365 {
		return
	}

	expireDay = days
}

// GetLogger returns the logger for the given component name, creating it on
// first use.
func GetLogger(component string) *logrus.Logger {
	locker.Lock()
	defer locker.Unlock()

	if l, ok := logMap[component]; ok {
		return l
	}

	l := newLogrusLogger(component)
	logMap[component] = l

	return l
}

// Config is the toml-decoded logging configuration.
type Config struct {
	Level      string `toml:"level"`
	ExpireDays int    `toml:"expire_days"`
}
