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
	"bytes"

	"github.com/sirupsen/logrus"
)

const cmdLogBufMax = 512

// CmdLogger is an io.Writer that line-buffers command output and emits one
// log line per terminated line (or once the buffer fills), so a chatty
// command doesn't turn into one log call per byte.
type CmdLogger struct {
	buf    []byte
	lineCh chan []byte
	doneCh chan struct{}
	l      *logrus.Entry
}

// NewCmdLogger creates a CmdLogger writing through l at Debug level.
func NewCmdLogger(l *logrus.Entry) *CmdLogger {
	cl := &CmdLogger{
		buf:    make([]byte, 0, cmdLogBufMax),
		lineCh: make(chan []byte, 50),
		doneCh: make(chan struct{}),
		l:      l,
	}
	go cl.run()

	return cl
}

// Write implements io.Writer.
func (cl *CmdLogger) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	cl.lineCh <- cp

	return len(p), nil
}

// Destroy stops the logger's background goroutine.
func (cl *CmdLogger) Destroy() {
	close(cl.doneCh)
}

func (cl *CmdLogger) run() {
	for {
		var p []byte

		select {
		case <-cl.doneCh:
			return
		case p = <-cl.lineCh:
		}

		for len(p) > 0 {
			room := cmdLogBufMax - len(cl.buf)
			if room >= len(p) {
				cl.buf = append(cl.buf, p...)
				p = nil
			} else {
				cl.buf = append(cl.buf, p[:room]...)
				p = p[room:]
			}

			if idx := bytes.IndexAny(cl.buf, "\r\n"); idx != -1 {
				cl.l.Debugf("cmd: %s", string(cl.buf[:idx]))

				if idx+1 < len(cl.buf) {
					cl.buf = cl.buf[idx+1:]
				} else {
					cl.buf = cl.buf[:0]
				}
			} else if len(cl.buf) == cmdLogBufMax {
				cl.l.Debugf("cmd: %s", string(cl.buf))
				cl.buf = cl.buf[:0]
			}
		}
	}
}
