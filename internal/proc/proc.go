// Package proc spawns tool server processes and owns their pipes.
//
// A Handle's three standard streams are independent os.Pipe pairs created
// here rather than through exec.Cmd's pipe helpers, so reaping the process
// never closes the parent's ends underneath a pending read.
package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Fuabioo/toolhost/internal/errors"
)

// Options describes one process to spawn.
type Options struct {
	// Name identifies the server in errors.
	Name    string
	Command string
	Args    []string
	// Env is added to the parent's environment.
	Env map[string]string
	Dir string
}

// Handle is a running (or reaped) child process.
type Handle struct {
	Name      string
	PID       int
	Path      string
	StartedAt time.Time

	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	readMu sync.Mutex
	reader *bufio.Reader

	done     chan struct{}
	exitCode int
	waitErr  error

	drainMu     sync.Mutex
	drainCancel context.CancelFunc
	drainDone   <-chan struct{}

	closeOnce sync.Once
}

// ResolveExecutable finds command on PATH. Commands containing a path
// separator are checked as given. Where the platform uses launcher shims
// (npx.cmd on Windows), the shim names are tried as well.
func ResolveExecutable(command string) (string, error) {
	if strings.ContainsAny(command, `/\`) {
		info, err := os.Stat(command)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", command)
		}
		return command, nil
	}

	path, err := exec.LookPath(command)
	if err == nil {
		return path, nil
	}
	for _, suffix := range shimSuffixes {
		if strings.HasSuffix(strings.ToLower(command), suffix) {
			continue
		}
		if p, shimErr := exec.LookPath(command + suffix); shimErr == nil {
			return p, nil
		}
	}
	return "", err
}

// Spawn resolves and starts the process in its own process group.
func Spawn(opts Options) (*Handle, error) {
	path, err := ResolveExecutable(opts.Command)
	if err != nil {
		return nil, errors.ExecutableNotFound(opts.Command, err)
	}

	cmd := exec.Command(path, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.SysProcAttr = sysProcAttr()
	if len(opts.Env) > 0 {
		env := os.Environ()
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, err
		}
		files = append(files, r, w)
		return r, w, nil
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		closeAll()
		return nil, errors.SpawnFailed(opts.Name, err)
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		closeAll()
		return nil, errors.SpawnFailed(opts.Name, err)
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		closeAll()
		return nil, errors.SpawnFailed(opts.Name, err)
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, errors.SpawnFailed(opts.Name, err)
	}

	// The child holds its own copies of these ends.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	h := &Handle{
		Name:      opts.Name,
		PID:       cmd.Process.Pid,
		Path:      path,
		StartedAt: time.Now(),
		cmd:       cmd,
		stdin:     stdinW,
		stdout:    stdoutR,
		stderr:    stderrR,
		reader:    bufio.NewReaderSize(stdoutR, 64*1024),
		done:      make(chan struct{}),
		exitCode:  -1,
	}
	go h.wait()

	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	h.exitCode = code
	h.waitErr = err
	close(h.done)
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the process has not yet exited.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit code once the process has exited. A process
// killed by a signal reports -1.
func (h *Handle) ExitCode() (int, bool) {
	select {
	case <-h.done:
		return h.exitCode, true
	default:
		return 0, false
	}
}

// WaitExit blocks until the process exits or timeout elapses.
func (h *Handle) WaitExit(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

// WriteLine writes data followed by a newline in a single write.
func (h *Handle) WriteLine(data []byte) error {
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := h.stdin.Write(line); err != nil {
		return fmt.Errorf("failed to write to %s stdin: %w", h.Name, err)
	}
	return nil
}

// ReadLine reads the next line from stdout without its terminator. Reads
// are serialized, so concurrent callers receive consecutive lines in the
// order they queued.
func (h *Handle) ReadLine() (string, error) {
	h.readMu.Lock()
	defer h.readMu.Unlock()

	line, err := h.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", fmt.Errorf("failed to read from %s stdout: %w", h.Name, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// StartDrain forwards every stderr line to emit on a new goroutine until
// StopDrain is called or the stream ends.
func (h *Handle) StartDrain(emit func(line string)) {
	h.drainMu.Lock()
	defer h.drainMu.Unlock()
	if h.drainCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.drainCancel = cancel
	h.drainDone = Drain(ctx, h.stderr, emit)
}

// StopDrain cancels the stderr drain. Safe to call more than once.
func (h *Handle) StopDrain() {
	h.drainMu.Lock()
	cancel := h.drainCancel
	h.drainMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// DrainDone is closed when the drain goroutine has exited. Nil when no
// drain was started.
func (h *Handle) DrainDone() <-chan struct{} {
	h.drainMu.Lock()
	defer h.drainMu.Unlock()
	return h.drainDone
}

// TerminateResult reports how a Terminate call went.
type TerminateResult struct {
	// Confirmed is true when the process was seen to exit.
	Confirmed bool
	// Forced is true when the forced kill was needed.
	Forced bool
	// Errors collects signalling failures. They do not stop the sequence.
	Errors []error
}

// Terminate asks the process tree to exit, waits up to graceful, then kills
// it and waits up to forced more.
func (h *Handle) Terminate(graceful, forced time.Duration) TerminateResult {
	var res TerminateResult
	if !h.Alive() {
		res.Confirmed = true
		return res
	}

	if err := TerminateTree(h.PID, false); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("graceful termination of %s (pid %d): %w", h.Name, h.PID, err))
	}
	if h.WaitExit(graceful) {
		res.Confirmed = true
		return res
	}

	res.Forced = true
	if err := TerminateTree(h.PID, true); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("forced termination of %s (pid %d): %w", h.Name, h.PID, err))
	}
	res.Confirmed = h.WaitExit(forced)
	return res
}

// Close releases the parent's pipe ends. Pending reads fail.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.StopDrain()
		h.stdin.Close()
		h.stdout.Close()
		h.stderr.Close()
	})
}

// String implements fmt.Stringer for log lines.
func (h *Handle) String() string {
	return fmt.Sprintf("%s (pid %d, %s)", h.Name, h.PID, filepath.Base(h.Path))
}
