package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gaialab/gaia/errors"
)

// ServerSpec is the launch specification of one provider: what to run and
// with which environment. A spec with Args is executed directly with a
// resolved binary path; a bare Command containing whitespace falls back to
// shell interpretation (legacy form).
type ServerSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Type    string            `json:"type,omitempty"`
}

// TransportStdio is the only transport kind this client supports.
const TransportStdio = "stdio"

// Transport carries protocol messages to one provider.
type Transport interface {
	// Connect establishes the channel. Fails fast if the provider dies
	// immediately after launch.
	Connect() error

	// SendRequest performs one blocking request/response exchange.
	SendRequest(ctx context.Context, method string, params any) (*Response, error)

	// Disconnect tears the channel down. Idempotent; safe on a provider
	// that already died.
	Disconnect() error
}

const (
	// instantCrashWait is how long Connect watches for the provider dying
	// right after spawn (missing binary, immediate fault).
	instantCrashWait = 200 * time.Millisecond
	// deathConfirmWait bounds how long an I/O failure waits for the exit
	// status before giving up on diagnostics.
	deathConfirmWait = 500 * time.Millisecond
	// shutdownWait bounds graceful termination before the force kill.
	shutdownWait = 3 * time.Second
	// stderrTail is how much provider stderr is retained for diagnostics.
	stderrTail = 2000
)

// ProcessExitError describes a provider process that died, with exit code
// or signal and the tail of its stderr.
type ProcessExitError struct {
	Command string
	Detail  string
	Stderr  string
}

func (e *ProcessExitError) Error() string {
	msg := fmt.Sprintf("provider process %q died (%s)", e.Command, e.Detail)
	if e.Stderr != "" {
		msg += "; last stderr output:\n" + e.Stderr
	}
	return msg
}

// tailBuffer is an io.Writer retaining only the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// StdioTransport runs a provider as a child process and exchanges one JSON
// object per line over its stdin/stdout. Exchanges are blocking and
// serialized; process death is detected by liveness state, not timeouts.
type StdioTransport struct {
	spec ServerSpec

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	stderr  *tailBuffer
	nextID  int64
	done    chan struct{}
	stopped bool
}

// NewStdioTransport creates a transport for the given launch spec. The
// child process is not started until Connect.
func NewStdioTransport(spec ServerSpec) *StdioTransport {
	return &StdioTransport{spec: spec}
}

func (t *StdioTransport) buildCmd() (*exec.Cmd, error) {
	if len(t.spec.Args) == 0 && strings.ContainsAny(t.spec.Command, " \t") {
		// Legacy single-string form, interpreted by the shell.
		return shellCommand(t.spec.Command), nil
	}
	path, err := exec.LookPath(t.spec.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "provider executable %q not found", t.spec.Command)
	}
	return exec.Command(path, t.spec.Args...), nil
}

// Connect spawns the child process and polls liveness once so that instant
// crashes surface here with full diagnostics rather than on the first
// request.
func (t *StdioTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return errors.New("transport already connected")
	}

	cmd, err := t.buildCmd()
	if err != nil {
		return err
	}

	env := os.Environ()
	for k, v := range t.spec.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrapf(err, "failed to open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return errors.Wrapf(err, "failed to open stdout pipe")
	}
	stderr := newTailBuffer(stderrTail)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return errors.Wrapf(err, "failed to start provider %q", t.spec.Command)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = bufio.NewReader(stdout)
	t.stderr = stderr
	t.done = make(chan struct{})
	t.stopped = false

	done := t.done
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		return t.exitError()
	case <-time.After(instantCrashWait):
	}
	return nil
}

// exitError builds the death diagnostic from the exit status and the
// retained stderr tail. Callers must know the process has exited.
func (t *StdioTransport) exitError() *ProcessExitError {
	detail := "unknown exit status"
	if t.cmd.ProcessState != nil {
		detail = exitDetail(t.cmd.ProcessState)
	}
	return &ProcessExitError{
		Command: t.spec.Command,
		Detail:  detail,
		Stderr:  t.stderr.String(),
	}
}

// diagnose translates an I/O failure into a process-death diagnostic when
// the child has in fact exited, and wraps the original error otherwise.
func (t *StdioTransport) diagnose(ioErr error) error {
	select {
	case <-t.done:
		return t.exitError()
	case <-time.After(deathConfirmWait):
		return errors.Wrapf(ioErr, "provider %q I/O failed but process still alive", t.spec.Command)
	}
}

// SendRequest writes one newline-terminated request and blocks reading the
// matching response. Notifications and unrelated lines are skipped. A
// broken pipe or EOF is re-diagnosed as process death.
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params any) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil || t.stopped {
		return nil, errors.New("transport not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.nextID++
	req := Request{JSONRPC: "2.0", ID: t.nextID, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal %s params", method)
		}
		req.Params = raw
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s request", method)
	}
	if _, err := t.stdin.Write(append(line, '\n')); err != nil {
		return nil, t.diagnose(err)
	}

	for {
		raw, err := t.stdout.ReadBytes('\n')
		if err != nil {
			if len(raw) == 0 || err == io.EOF {
				return nil, t.diagnose(err)
			}
			return nil, errors.Wrapf(err, "failed reading %s response", method)
		}

		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			// Providers sometimes write stray output; skip it.
			continue
		}
		if resp.Method != "" || resp.ID == nil || *resp.ID != req.ID {
			continue
		}
		return &resp, nil
	}
}

// Disconnect closes stdin, asks the process to terminate, and force-kills
// after shutdownWait. Calling it twice, or on a dead process, is fine.
func (t *StdioTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil || t.stopped {
		return nil
	}
	t.stopped = true

	t.stdin.Close()

	select {
	case <-t.done:
		return nil
	default:
	}

	terminate(t.cmd.Process)

	select {
	case <-t.done:
		return nil
	case <-time.After(shutdownWait):
	}

	t.cmd.Process.Kill()
	select {
	case <-t.done:
	case <-time.After(shutdownWait):
	}
	return nil
}

// Alive reports whether the child process is still running.
func (t *StdioTransport) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}
