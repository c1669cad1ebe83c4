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

package logutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	logFileDateLayout = "2006-01-02"
	defaultExpireDay   = 30
)

var expireDay = defaultExpireDay

var (
	logDir = os.Getenv("SANDBOXD_LOG_DIR")

	defaultLogDir = filepath.Join(os.TempDir(), "sandboxd", "logs")
)

func init() {
	if logDir == "" {
		logDir = defaultLogDir
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		// A daemon that cannot create its own log directory should fail
		// loudly at startup rather than silently drop every log line.
		panic(err)
	}
}

func newLogrusLogger(component string) *logrus.Logger {
	l := logrus.New()
	l.Out = newDailyRollWriter(component)
	l.Level = level

	return l
}

// dailyRollWriter rolls to a new file named "<component>-<date>.log" once a
// day, and optionally tees to stdout for container log collection.
type dailyRollWriter struct {
	component string
	current   string
	writer    *os.File
	locker    sync.Locker
}

func newDailyRollWriter(component string) *dailyRollWriter {
	w := &dailyRollWriter{component: component, locker: &sync.Mutex{}}
	runtime.SetFinalizer(w, closeWriter)

	return w
}

func (w *dailyRollWriter) Write(p []byte) (int, error) {
	now := time.Now().Format(logFileDateLayout)

	if now != w.current {
		w.current = now
		w.reopen()

		go cleanHistoryLogs()
	}

	if enableStdout {
		os.Stdout.Write(p)
	}

	return w.writer.Write(p)
}

func (w *dailyRollWriter) reopen() {
	w.locker.Lock()
	defer w.locker.Unlock()

	closeWriter(w)

	logFile := filepath.Join(logDir, fmt.Sprintf("%s-%s.log", w.component, w.current))

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		panic(err)
	}

	w.writer = f
}

func closeWriter(w *dailyRollWriter) {
	if w.writer != nil {
		w.writer.Close()
	}
}

var logDateExp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// cleanHistoryLogs removes rolled log files older than expireDay. It runs
// once per rollover, not on a dedicated ticker, since rollovers already
// happen at most once a day per logger.
func cleanHistoryLogs() {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}

	expireBefore := time.Now().Add(-24 * time.Duration(expireDay) * time.Hour)

	for _, entry := range entries {
		dateStr := logDateExp.FindString(entry.Name())
		if dateStr == "" {
			continue
		}

		fileDate, err := time.Parse(logFileDateLayout, dateStr)
		if err != nil {
			continue
		}

		if expireBefore.After(fileDate) {
			os.Remove(filepath.Join(logDir, entry.Name()))
		}
	}
}
