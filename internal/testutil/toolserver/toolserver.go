// Package toolserver is a fake tool server for tests. Test binaries re-execute
// themselves with EnvMode set; TestMain hands control to RunIfRequested, which
// serves line-delimited JSON-RPC on stdin/stdout in the requested mode and
// never returns.
package toolserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Fuabioo/toolhost/internal/core"
)

// Environment variables read by the fake server.
const (
	EnvMode  = "TOOLHOST_TEST_SERVER"
	EnvDelay = "TOOLHOST_TEST_DELAY"
)

// Modes.
const (
	// Echo answers each request with its method, params and the server's PID.
	Echo = "echo"
	// Silent reads requests and never answers.
	Silent = "silent"
	// Mismatch answers with a foreign id.
	Mismatch = "mismatch"
	// Garbage answers with a line that is not JSON.
	Garbage = "garbage"
	// Error answers with a JSON-RPC error object.
	Error = "error"
	// Chatty writes ChattyLines diagnostic lines at startup and
	// ChattyBurstLines noise lines (ChattyBurstLines*ChattyLineSize bytes,
	// far beyond a pipe buffer) before every answer, then behaves like Echo.
	Chatty = "chatty"
	// Stubborn ignores the graceful termination signal, then behaves like Echo.
	Stubborn = "stubborn"
	// Crash writes a diagnostic and exits with CrashExitCode immediately.
	Crash = "crash"
	// Slow waits EnvDelay (default 500ms) before each answer.
	Slow = "slow"
	// Hangup reads one request and exits without answering.
	Hangup = "hangup"
	// Tree spawns a Silent child, reports its PID on stderr, then behaves like Silent.
	Tree = "tree"
)

const (
	ChattyLines      = 200
	ChattyBurstLines = 1024
	ChattyLineSize   = 1024
	CrashExitCode    = 3
)

// RunIfRequested runs the fake server and exits when EnvMode is set.
// Otherwise it returns immediately.
func RunIfRequested() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return
	}
	os.Exit(serve(mode))
}

// Spec returns a server spec that launches the current test binary as a fake
// server in mode.
func Spec(name, mode string) core.ServerSpec {
	return core.ServerSpec{
		Name:    name,
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Port:    0,
		Enabled: true,
		Env:     map[string]string{EnvMode: mode},
	}
}

// SlowSpec is Spec(name, Slow) with a per-request delay.
func SlowSpec(name string, delay time.Duration) core.ServerSpec {
	spec := Spec(name, Slow)
	spec.Env[EnvDelay] = delay.String()
	return spec
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

func serve(mode string) int {
	stderr := bufio.NewWriter(os.Stderr)
	logf := func(format string, args ...any) {
		fmt.Fprintf(stderr, format+"\n", args...)
		stderr.Flush()
	}

	switch mode {
	case Crash:
		logf("fatal: boom")
		return CrashExitCode
	case Chatty:
		for i := 0; i < ChattyLines; i++ {
			fmt.Fprintf(stderr, "diagnostic line %d\n", i)
		}
		stderr.Flush()
	case Stubborn:
		signal.Ignore(syscall.SIGTERM, os.Interrupt)
	case Tree:
		child := exec.Command(os.Args[0], "-test.run=^$")
		child.Env = append(os.Environ(), EnvMode+"="+Silent)
		if err := child.Start(); err != nil {
			logf("failed to start child: %v", err)
			return 1
		}
		logf("child pid %d", child.Process.Pid)
	}

	logf("%s server ready pid %d", mode, os.Getpid())

	delay := 500 * time.Millisecond
	if d, err := time.ParseDuration(os.Getenv(EnvDelay)); err == nil {
		delay = d
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			logf("bad request: %v", err)
			continue
		}

		switch mode {
		case Silent, Tree:
			continue
		case Hangup:
			logf("hanging up")
			return 0
		case Garbage:
			writeLine([]byte("this is not json"))
			continue
		case Mismatch:
			req.ID = "someone-else"
		case Slow:
			time.Sleep(delay)
		case Chatty:
			pad := strings.Repeat("x", ChattyLineSize-len("noise 0000 \n"))
			for i := 0; i < ChattyBurstLines; i++ {
				fmt.Fprintf(stderr, "noise %04d %s\n", i, pad)
			}
			stderr.Flush()
		case Error:
			writeJSON(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": 42, "message": "no such tool", "data": req.Method},
			})
			continue
		}

		var params any = map[string]any{}
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params, &params)
		}
		writeJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]any{
				"method": req.Method,
				"params": params,
				"pid":    strconv.Itoa(os.Getpid()),
			},
		})
	}

	// Stdin closed. Silent servers linger until killed, like a real server
	// blocked on its own work.
	if mode == Silent || mode == Tree || mode == Stubborn {
		for {
			time.Sleep(time.Hour)
		}
	}
	return 0
}

func writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	writeLine(data)
}

func writeLine(data []byte) {
	os.Stdout.Write(append(data, '\n'))
}
