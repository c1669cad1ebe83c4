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

// Package apierr defines the typed error taxonomy shared by every component
// of sandboxd and the status-code table the API router uses to translate
// errors into HTTP responses. Every component constructs one of these
// instead of a bare fmt.Errorf when the failure crosses a component
// boundary, which is what lets the router map errors to status codes
// without ever inspecting an error string.
package apierr

import (
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error category.
type Code string

// The full error taxonomy returned by every component.
const (
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeInvalidPath          Code = "INVALID_PATH"
	CodeInvalidPort          Code = "INVALID_PORT"
	CodeInvalidCommand       Code = "INVALID_COMMAND"
	CodeValidationError      Code = "VALIDATION_ERROR"
	CodePathSecurityViolation Code = "PATH_SECURITY_VIOLATION"
	CodeCommandSecurityViolation Code = "COMMAND_SECURITY_VIOLATION"
	CodeGitURLSecurityViolation  Code = "GIT_URL_SECURITY_VIOLATION"
	CodeFileNotFound    Code = "FILE_NOT_FOUND"
	CodeProcessNotFound Code = "PROCESS_NOT_FOUND"
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodePortNotFound    Code = "PORT_NOT_FOUND"
	CodeContextNotFound Code = "CONTEXT_NOT_FOUND"
	CodePortAlreadyExposed               Code = "PORT_ALREADY_EXPOSED"
	CodeSessionAlreadyExists             Code = "SESSION_ALREADY_EXISTS"
	CodeCannotDeleteDirectoryWithDeleteFile Code = "CANNOT_DELETE_DIRECTORY_WITH_DELETE_FILE"
	CodePythonNotAvailable Code = "PYTHON_NOT_AVAILABLE"
	CodeFuseNotAvailable   Code = "FUSE_NOT_AVAILABLE"
	CodeTimeout Code = "TIMEOUT"
	CodeProcessStartError        Code = "PROCESS_START_ERROR"
	CodeProcessExitedBeforeReady Code = "PROCESS_EXITED_BEFORE_READY"
	CodeNoStdoutStream           Code = "NO_STDOUT_STREAM"
	CodeInvalidJSON        Code = "INVALID_JSON"
	CodeNotWebsocketRequest Code = "NOT_WEBSOCKET_REQUEST"
	CodeInternalError Code = "INTERNAL_ERROR"
)

// statusTable maps each code to the HTTP status the router should respond
// with. Consulted by the api package's writeError helper, which each handler
// calls on failure.
var statusTable = map[Code]int{
	CodeInvalidRequest:  http.StatusBadRequest,
	CodeInvalidPath:     http.StatusBadRequest,
	CodeInvalidPort:     http.StatusBadRequest,
	CodeInvalidCommand:  http.StatusBadRequest,
	CodeValidationError: http.StatusBadRequest,

	CodePathSecurityViolation:    http.StatusForbidden,
	CodeCommandSecurityViolation: http.StatusForbidden,
	CodeGitURLSecurityViolation:  http.StatusForbidden,

	CodeFileNotFound:    http.StatusNotFound,
	CodeProcessNotFound: http.StatusNotFound,
	CodeSessionNotFound: http.StatusNotFound,
	CodePortNotFound:    http.StatusNotFound,
	CodeContextNotFound: http.StatusNotFound,

	CodePortAlreadyExposed:                  http.StatusConflict,
	CodeSessionAlreadyExists:                http.StatusConflict,
	CodeCannotDeleteDirectoryWithDeleteFile:  http.StatusBadRequest,

	CodePythonNotAvailable: http.StatusInternalServerError,
	CodeFuseNotAvailable:   http.StatusInternalServerError,

	CodeTimeout: http.StatusRequestTimeout,

	CodeProcessStartError:        http.StatusInternalServerError,
	CodeProcessExitedBeforeReady: http.StatusInternalServerError,
	CodeNoStdoutStream:           http.StatusInternalServerError,

	CodeInvalidJSON:         http.StatusBadRequest,
	CodeNotWebsocketRequest: http.StatusUpgradeRequired,

	CodeInternalError: http.StatusInternalServerError,
}

// Error is the typed error every component returns across its boundary.
type Error struct {
	Code      Code      `json:"code"`
	Message   string    `json:"error"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status returns the HTTP status code for e's Code, falling back to 500 for
// an unregistered code (should not happen for an Error built via New).
func (e *Error) Status() int {
	if status, ok := statusTable[e.Code]; ok {
		return status
	}

	return http.StatusInternalServerError
}

// New constructs a typed Error.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

// WithDetails attaches structured details to e and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details

	return e
}

// As extracts an *Error from err, or synthesizes a CodeInternalError one so
// callers always have a typed error to map to a status code.
func As(err error) *Error {
	if err == nil {
		return nil
	}

	if e, ok := err.(*Error); ok {
		return e
	}

	return New(CodeInternalError, "%s", err.Error())
}

// Envelope is the wire shape of an error response.
type Envelope struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Code      Code      `json:"code"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope converts e into its wire representation.
func (e *Error) Envelope() Envelope {
	return Envelope{
		Success:   false,
		Error:     e.Message,
		Code:      e.Code,
		Details:   e.Details,
		Timestamp: e.Timestamp,
	}
}
