package proc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Fuabioo/toolhost/internal/errors"
	"github.com/Fuabioo/toolhost/internal/testutil/toolserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	toolserver.RunIfRequested()
	os.Exit(m.Run())
}

func spawnMode(t *testing.T, mode string) *Handle {
	t.Helper()
	spec := toolserver.Spec(mode, mode)
	h, err := Spawn(Options{Name: spec.Name, Command: spec.Command, Args: spec.Args, Env: spec.Env})
	require.NoError(t, err)
	t.Cleanup(func() {
		h.Terminate(time.Second, time.Second)
		h.Close()
	})
	return h
}

// waitReady blocks until the fake server reports it is serving, which is
// after any signal handling changes.
func waitReady(t *testing.T, h *Handle) {
	t.Helper()
	ready := make(chan struct{})
	var once sync.Once
	h.StartDrain(func(line string) {
		if strings.Contains(line, "server ready") {
			once.Do(func() { close(ready) })
		}
	})
	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		t.Fatal("fake server never reported ready")
	}
}

func TestSpawn_EchoRoundTrip(t *testing.T) {
	h := spawnMode(t, toolserver.Echo)

	assert.True(t, h.Alive())
	assert.Positive(t, h.PID)

	require.NoError(t, h.WriteLine([]byte(`{"jsonrpc":"2.0","method":"ping","params":{},"id":"1"}`)))

	line, err := h.ReadLine()
	require.NoError(t, err)
	assert.Contains(t, line, `"id":"1"`)
	assert.Contains(t, line, `"method":"ping"`)
}

func TestSpawn_ExecutableNotFound(t *testing.T) {
	_, err := Spawn(Options{Name: "ghost", Command: "toolhost-definitely-not-installed"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeExecutableNotFound), "got %v", err)
}

func TestSpawn_MissingPath(t *testing.T) {
	_, err := Spawn(Options{Name: "ghost", Command: filepath.Join(t.TempDir(), "missing")})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeExecutableNotFound), "got %v", err)
}

func TestSpawn_NotExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}

	path := filepath.Join(t.TempDir(), "server.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0600))

	_, err := Spawn(Options{Name: "noexec", Command: path})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeSpawnFailed), "got %v", err)
}

func TestResolveExecutable_Directory(t *testing.T) {
	_, err := ResolveExecutable(t.TempDir() + string(os.PathSeparator))
	assert.Error(t, err)
}

func TestHandle_CrashReportsExitCode(t *testing.T) {
	h := spawnMode(t, toolserver.Crash)

	require.True(t, h.WaitExit(5*time.Second), "crash server should exit")
	assert.False(t, h.Alive())

	code, exited := h.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, toolserver.CrashExitCode, code)
}

func TestHandle_ExitCodeWhileRunning(t *testing.T) {
	h := spawnMode(t, toolserver.Silent)

	_, exited := h.ExitCode()
	assert.False(t, exited)
}

func TestHandle_TerminateGraceful(t *testing.T) {
	h := spawnMode(t, toolserver.Silent)

	res := h.Terminate(5*time.Second, 3*time.Second)

	assert.True(t, res.Confirmed)
	assert.False(t, res.Forced)
	assert.Empty(t, res.Errors)
	assert.False(t, h.Alive())
}

func TestHandle_TerminateForcesStubborn(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("graceful taskkill does not reach console processes the same way")
	}

	h := spawnMode(t, toolserver.Stubborn)
	waitReady(t, h)

	res := h.Terminate(300*time.Millisecond, 3*time.Second)

	assert.True(t, res.Confirmed)
	assert.True(t, res.Forced)
	assert.False(t, h.Alive())
}

func TestHandle_TerminateAlreadyExited(t *testing.T) {
	h := spawnMode(t, toolserver.Crash)
	require.True(t, h.WaitExit(5*time.Second))

	res := h.Terminate(time.Second, time.Second)

	assert.True(t, res.Confirmed)
	assert.False(t, res.Forced)
}

func TestTerminateTree_KillsGrandchildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process group probing is unix specific")
	}

	h := spawnMode(t, toolserver.Tree)

	var (
		mu    sync.Mutex
		lines []string
	)
	h.StartDrain(func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})

	var childPID int
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, line := range lines {
			if strings.HasPrefix(line, "child pid ") {
				_, err := fmt.Sscanf(line, "child pid %d", &childPID)
				return err == nil
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	res := h.Terminate(3*time.Second, 3*time.Second)
	require.True(t, res.Confirmed)

	assert.Eventually(t, func() bool {
		return !processExists(childPID)
	}, 3*time.Second, 50*time.Millisecond, "grandchild %d survived", childPID)
}

func TestHandle_ReadLineAfterClose(t *testing.T) {
	h := spawnMode(t, toolserver.Silent)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.ReadLine()
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	h.Close()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pending read was not released by Close")
	}
}

func TestHandle_ReadsAreOrdered(t *testing.T) {
	h := spawnMode(t, toolserver.Echo)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.WriteLine([]byte(`{"jsonrpc":"2.0","method":"m","id":"`+id+`"}`)))
	}

	for _, id := range []string{"a", "b", "c"} {
		line, err := h.ReadLine()
		require.NoError(t, err)
		assert.Contains(t, line, `"id":"`+id+`"`)
	}
}

func TestHandle_DrainKeepsNoisyServerAnswering(t *testing.T) {
	h := spawnMode(t, toolserver.Chatty)

	var (
		mu    sync.Mutex
		noise int
	)
	h.StartDrain(func(line string) {
		if strings.HasPrefix(line, "noise ") {
			mu.Lock()
			noise++
			mu.Unlock()
		}
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, h.WriteLine([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"m","id":"%d"}`, i))))

		got := make(chan string, 1)
		go func() {
			line, _ := h.ReadLine()
			got <- line
		}()
		select {
		case line := <-got:
			assert.Contains(t, line, fmt.Sprintf(`"id":"%d"`, i))
		case <-time.After(3 * time.Second):
			t.Fatalf("no answer to request %d while stderr was being drained", i)
		}
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return noise == 2*toolserver.ChattyBurstLines
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHandle_Drain(t *testing.T) {
	h := spawnMode(t, toolserver.Chatty)

	var (
		mu    sync.Mutex
		count int
	)
	h.StartDrain(func(line string) {
		if strings.HasPrefix(line, "diagnostic line") {
			mu.Lock()
			count++
			mu.Unlock()
		}
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == toolserver.ChattyLines
	}, 5*time.Second, 20*time.Millisecond)

	h.StopDrain()
	select {
	case <-h.DrainDone():
	case <-time.After(3 * time.Second):
		t.Fatal("drain did not exit after StopDrain")
	}
}

func TestDrain_StopsOnCancel(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	var mu sync.Mutex
	done := Drain(ctx, r, func(line string) {
		mu.Lock()
		got = append(got, line)
		mu.Unlock()
	})

	_, err = w.WriteString("first\n")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not exit on cancel")
	}
}

func TestDrain_StopsOnEOF(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	var got []string
	done := Drain(context.Background(), r, func(line string) {
		got = append(got, line)
	})

	_, err = w.WriteString("one\ntwo\n")
	require.NoError(t, err)
	w.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not exit on EOF")
	}
	assert.Equal(t, []string{"one", "two"}, got)
}
