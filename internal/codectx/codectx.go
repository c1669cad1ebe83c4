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

// Package codectx provides per-language REPL-style execution contexts, each
// backed by a long-lived worker process reached over newline-delimited
// JSON. Workers are looked up through a named-factory registry, so a new
// language can be added by registering a factory without touching the
// registry itself.
package codectx

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/logutil"
)

var logger = logutil.GetLogger("codectx")

// Worker is a running language worker process: something that can execute
// code and be torn down. The concrete implementation (workerProcess) talks
// newline-delimited JSON over a child process's stdio; tests substitute a
// fake implementation.
type Worker interface {
	Execute(code string) (ExecResult, error)
	ExecuteStream(code string) (<-chan StreamEvent, error)
	Close() error
}

// WorkerFactory constructs a new Worker instance for one context.
type WorkerFactory func() (Worker, error)

// ExecResult is the outcome of a non-streaming code execution.
type ExecResult struct {
	Stdout  []string      `json:"stdout"`
	Stderr  []string      `json:"stderr"`
	Error   string        `json:"error,omitempty"`
	Results []ResultValue `json:"results"`
}

// ResultValue is one expression-evaluation result from a worker.
type ResultValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// StreamEvent is the {type, timestamp, ...} frame emitted for streaming
// code execution.
type StreamEvent struct {
	Type      string    `json:"type"` // start|stdout|stderr|result|complete|error
	Timestamp time.Time `json:"timestamp"`
	Chunk     string    `json:"chunk,omitempty"`
	Result    *ResultValue `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

var (
	factoriesMu sync.Mutex
	factories   = make(map[string]WorkerFactory)
)

// RegisterWorkerFactory registers the factory used to create a worker for
// language. Called from each worker implementation's own init function. A
// language registered twice panics.
func RegisterWorkerFactory(language string, factory WorkerFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if _, exists := factories[language]; exists {
		panic(fmt.Sprintf("code worker factory already registered for %q", language))
	}

	factories[language] = factory
}

func lookupFactory(language string) (WorkerFactory, bool) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	f, ok := factories[language]

	return f, ok
}

// Context is one REPL-style execution context: a language tag, a worker
// handle, and a mutex serializing executions on it in FIFO order.
type Context struct {
	ID       string
	Language string

	mu      sync.Mutex
	worker  Worker
	deleted bool
}

// Registry maps context id -> *Context.
type Registry struct {
	mu       sync.Mutex
	contexts map[string]*Context
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{contexts: make(map[string]*Context)}
}

// defaultWorkerCommands names the worker binary sandboxd looks for on PATH
// for each of the minimum enumerated languages, used when no custom
// factory was registered via RegisterWorkerFactory. The binaries
// themselves are external collaborators (§6): sandboxd only needs to know
// their name and that they speak the newline-delimited JSON wire protocol.
var defaultWorkerCommands = map[string]string{
	"python":     "sandboxd-python-worker",
	"javascript": "sandboxd-js-worker",
}

// Create starts a new context for language. language must be one of the
// enumerated set (at minimum python, javascript) or a language with a
// custom factory registered via RegisterWorkerFactory; anything else is a
// validation error. A recognized language whose worker binary isn't present
// in this image fails with a typed capability error guiding the caller to
// an image variant that has it.
func (r *Registry) Create(language string) (*Context, error) {
	factory, ok := lookupFactory(language)
	if !ok {
		cmd, known := defaultWorkerCommands[language]
		if !known {
			return nil, apierr.New(apierr.CodeValidationError,
				"unsupported code context language: %q", language)
		}

		factory = func() (Worker, error) {
			w, err := NewWorkerProcess(cmd)
			if err != nil {
				return nil, apierr.New(apierr.CodePythonNotAvailable,
					"%s code-interpreter worker (%s) is not available in this image; use an image variant that includes it", language, cmd)
			}

			return w, nil
		}
	}

	worker, err := factory()
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		ID:       uuid.NewString(),
		Language: language,
		worker:   worker,
	}

	r.mu.Lock()
	r.contexts[ctx.ID] = ctx
	r.mu.Unlock()

	return ctx, nil
}

// Get returns the context with id.
func (r *Registry) Get(id string) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ok := r.contexts[id]
	if !ok {
		return nil, apierr.New(apierr.CodeContextNotFound, "code context %q not found", id)
	}

	return ctx, nil
}

// List returns every known context.
func (r *Registry) List() []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Context, 0, len(r.contexts))
	for _, ctx := range r.contexts {
		out = append(out, ctx)
	}

	return out
}

// Delete terminates id's worker and rejects subsequent operations on it.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	ctx, ok := r.contexts[id]
	if ok {
		delete(r.contexts, id)
	}
	r.mu.Unlock()

	if !ok {
		return apierr.New(apierr.CodeContextNotFound, "code context %q not found", id)
	}

	ctx.mu.Lock()
	ctx.deleted = true
	worker := ctx.worker
	ctx.mu.Unlock()

	return worker.Close()
}

// Execute acquires ctx's mutex (so operations on the same context execute
// strictly FIFO) and runs code against its worker.
func (ctx *Context) Execute(code string) (ExecResult, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.deleted {
		return ExecResult{}, apierr.New(apierr.CodeContextNotFound, "code context %q was deleted", ctx.ID)
	}

	return ctx.worker.Execute(code)
}

// ExecuteStream is Execute's streaming counterpart.
func (ctx *Context) ExecuteStream(code string) (<-chan StreamEvent, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.deleted {
		return nil, apierr.New(apierr.CodeContextNotFound, "code context %q was deleted", ctx.ID)
	}

	return ctx.worker.ExecuteStream(code)
}

// wireMessage is the newline-delimited JSON envelope exchanged with a
// worker subprocess, shared by both the request and response direction.
type wireMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Stdout  []string `json:"stdout,omitempty"`
	Stderr  []string `json:"stderr,omitempty"`
	Error   string `json:"error,omitempty"`
	Results []ResultValue `json:"results,omitempty"`
}

// workerProcess is the default Worker implementation: a child process
// speaking newline-delimited JSON over its own stdin/stdout.
type workerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	mu      sync.Mutex
	pending map[string]chan wireMessage
}

// NewWorkerProcess launches name (with args) as a worker subprocess and
// waits for its startup "ready" message.
func NewWorkerProcess(name string, args ...string) (Worker, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, apierr.New(apierr.CodePythonNotAvailable,
			"code worker binary %q not available on PATH", name)
	}

	cmd := exec.Command(name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apierr.New(apierr.CodeProcessStartError, "worker stdin pipe: %v", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apierr.New(apierr.CodeProcessStartError, "worker stdout pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apierr.New(apierr.CodeProcessStartError, "start worker %q: %v", name, err)
	}

	w := &workerProcess{
		cmd:     cmd,
		stdin:   stdin,
		reader:  bufio.NewReader(stdout),
		pending: make(map[string]chan wireMessage),
	}

	go w.readLoop()

	if err := w.awaitReady(); err != nil {
		w.Close()

		return nil, err
	}

	return w, nil
}

func (w *workerProcess) awaitReady() error {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return apierr.New(apierr.CodeProcessExitedBeforeReady, "worker exited before ready: %v", err)
	}

	var msg wireMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Type != "ready" {
		return apierr.New(apierr.CodeProcessExitedBeforeReady, "worker did not send a ready message")
	}

	return nil
}

func (w *workerProcess) readLoop() {
	for {
		line, err := w.reader.ReadString('\n')
		if len(line) > 0 {
			var msg wireMessage
			if jsonErr := json.Unmarshal([]byte(line), &msg); jsonErr == nil {
				w.mu.Lock()
				ch, ok := w.pending[msg.ID]
				w.mu.Unlock()

				if ok {
					ch <- msg
				}
			} else {
				logger.Warnf("unparseable worker output: %s", line)
			}
		}

		if err != nil {
			return
		}
	}
}

func (w *workerProcess) send(msg wireMessage) (chan wireMessage, error) {
	ch := make(chan wireMessage, 1)

	w.mu.Lock()
	w.pending[msg.ID] = ch
	w.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidJSON, "encode worker request: %v", err)
	}

	data = append(data, '\n')

	if _, err := w.stdin.Write(data); err != nil {
		return nil, apierr.New(apierr.CodeInternalError, "write to worker: %v", err)
	}

	return ch, nil
}

func (w *workerProcess) Execute(code string) (ExecResult, error) {
	id := uuid.NewString()

	ch, err := w.send(wireMessage{Type: "exec", ID: id, Code: code})
	if err != nil {
		return ExecResult{}, err
	}

	select {
	case reply := <-ch:
		w.forget(id)

		if reply.Type == "error" {
			return ExecResult{}, apierr.New(apierr.CodeInternalError, "%s", reply.Error)
		}

		return ExecResult{Stdout: reply.Stdout, Stderr: reply.Stderr, Results: reply.Results}, nil
	case <-time.After(30 * time.Second):
		w.forget(id)

		return ExecResult{}, apierr.New(apierr.CodeTimeout, "code execution timed out")
	}
}

func (w *workerProcess) ExecuteStream(code string) (<-chan StreamEvent, error) {
	id := uuid.NewString()

	ch, err := w.send(wireMessage{Type: "exec_stream", ID: id, Code: code})
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 16)

	go func() {
		defer close(events)
		defer w.forget(id)

		for {
			select {
			case reply, ok := <-ch:
				if !ok {
					return
				}

				switch reply.Type {
				case "complete", "error":
					events <- StreamEvent{Type: reply.Type, Timestamp: time.Now(), Error: reply.Error}

					return
				default:
					events <- StreamEvent{Type: reply.Type, Timestamp: time.Now()}
				}
			case <-time.After(30 * time.Second):
				events <- StreamEvent{Type: "error", Timestamp: time.Now(), Error: "code execution timed out"}

				return
			}
		}
	}()

	return events, nil
}

func (w *workerProcess) forget(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func (w *workerProcess) Close() error {
	w.stdin.Close()

	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}

	return w.cmd.Wait()
}
