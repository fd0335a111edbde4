// Package orchestrator owns the set of running tool servers: it starts and
// stops them by name, sends them requests, and answers status queries.
//
// One Orchestrator is shared by the whole host. The registry is guarded by a
// lock that is never held across a blocking wait; Start calls are serialized
// so concurrent callers cannot spawn the same server twice.
package orchestrator

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Fuabioo/toolhost/internal/core"
	"github.com/Fuabioo/toolhost/internal/errors"
	"github.com/Fuabioo/toolhost/internal/logsink"
	"github.com/Fuabioo/toolhost/internal/metrics"
	"github.com/Fuabioo/toolhost/internal/proc"
	"github.com/Fuabioo/toolhost/internal/rpc"
	"golang.org/x/sync/errgroup"
)

// How long SendCommand waits for a process to be reaped after a transport
// failure before deciding it is still alive.
const reapWait = 500 * time.Millisecond

// Store supplies server specs.
type Store interface {
	Load() (*core.LoadResult, error)
	Path() string
}

// StopResult is the outcome of Stop.
type StopResult int

const (
	// Stopped means a live process was terminated (or at least signalled).
	Stopped StopResult = iota
	// WasNotActive means no live process was registered under the name.
	WasNotActive
)

func (r StopResult) String() string {
	if r == Stopped {
		return "stopped"
	}
	return "not active"
}

type entry struct {
	spec     core.ServerSpec
	handle   *proc.Handle
	stopping atomic.Bool

	checkMu sync.Mutex
	check   *time.Timer
}

func (e *entry) setCheck(t *time.Timer) {
	e.checkMu.Lock()
	e.check = t
	e.checkMu.Unlock()
}

func (e *entry) stopCheck() {
	e.checkMu.Lock()
	if e.check != nil {
		e.check.Stop()
	}
	e.checkMu.Unlock()
}

// Orchestrator coordinates tool server processes.
type Orchestrator struct {
	store       Store
	sink        logsink.Sink
	correlator  rpc.Correlator
	metrics     metrics.Collector
	timeouts    core.TimeoutsConfig
	concurrency int

	specMu sync.RWMutex
	specs  []core.ServerSpec
	notes  []core.Note

	mu       sync.RWMutex
	registry map[string]*entry

	startMu sync.Mutex
}

// New returns an Orchestrator reading specs from store. Call Load before use.
func New(store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		timeouts:    core.DefaultConfig().Timeouts,
		concurrency: core.DefaultConfig().Concurrency,
		registry:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sink == nil {
		o.sink = logsink.Default()
	}
	if o.correlator == nil {
		o.correlator = rpc.NewLineCorrelator(o.sink)
	}
	if o.metrics == nil {
		o.metrics = metrics.Noop()
	}
	return o
}

func (o *Orchestrator) logf(tag, format string, args ...any) {
	o.sink.Log(fmt.Sprintf(format, args...), tag)
}

// Load reads the specs from the store, replacing any loaded before. Dropped
// records are logged as warnings.
func (o *Orchestrator) Load() error {
	result, err := o.store.Load()
	if err != nil {
		o.logf(logsink.TagError, "failed to load server configuration: %v", err)
		return err
	}

	for _, note := range result.Notes {
		o.logf(logsink.TagWarning, "%s", note)
	}
	if result.Synthesized {
		o.logf(logsink.TagInfo, "no valid server configuration found; wrote default configuration to %s", o.store.Path())
	}

	o.specMu.Lock()
	o.specs = result.Specs
	o.notes = result.Notes
	o.specMu.Unlock()

	o.logf(logsink.TagInfo, "loaded %d server(s)", len(result.Specs))
	return nil
}

// Reload replaces the specs and stops running servers whose spec was removed
// or disabled. Servers whose launch settings changed keep running on the old
// settings until restarted.
func (o *Orchestrator) Reload() error {
	if err := o.Load(); err != nil {
		return err
	}

	for _, name := range o.runningNames() {
		spec, ok := o.spec(name)
		switch {
		case !ok:
			o.logf(logsink.TagInfo, "server %s was removed from the configuration; stopping", name)
			o.Stop(name, false)
		case !spec.Enabled:
			o.logf(logsink.TagInfo, "server %s was disabled; stopping", name)
			o.Stop(name, false)
		default:
			if e := o.lookup(name); e != nil && launchChanged(e.spec, spec) {
				o.logf(logsink.TagInfo, "server %s configuration changed; restart it to apply", name)
			}
		}
	}
	return nil
}

func launchChanged(a, b core.ServerSpec) bool {
	return a.Command != b.Command || a.Cwd != b.Cwd ||
		!reflect.DeepEqual(a.Args, b.Args) || !reflect.DeepEqual(a.Env, b.Env)
}

// Watch reloads whenever the servers file changes, until ctx is done.
func (o *Orchestrator) Watch(ctx context.Context) error {
	w := core.NewWatcher(o.store.Path(), func() {
		o.logf(logsink.TagInfo, "server configuration changed; reloading")
		if err := o.Reload(); err != nil {
			o.logf(logsink.TagError, "reload failed: %v", err)
		}
	})
	w.OnError = func(err error) {
		o.logf(logsink.TagWarning, "configuration watcher: %v", err)
	}
	return w.Run(ctx)
}

func (o *Orchestrator) spec(name string) (core.ServerSpec, bool) {
	o.specMu.RLock()
	defer o.specMu.RUnlock()
	return core.FindSpec(o.specs, name)
}

// Specs returns the loaded specs in configuration order.
func (o *Orchestrator) Specs() []core.ServerSpec {
	o.specMu.RLock()
	defer o.specMu.RUnlock()
	return append([]core.ServerSpec(nil), o.specs...)
}

// Notes returns why records were dropped at the last load.
func (o *Orchestrator) Notes() []core.Note {
	o.specMu.RLock()
	defer o.specMu.RUnlock()
	return append([]core.Note(nil), o.notes...)
}

func (o *Orchestrator) lookup(name string) *entry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.registry[name]
}

func (o *Orchestrator) register(name string, e *entry) {
	o.mu.Lock()
	o.registry[name] = e
	n := len(o.registry)
	o.mu.Unlock()
	o.metrics.RunningServers(n)
}

// remove drops e from the registry if it is still the entry for name, then
// releases its pipes.
func (o *Orchestrator) remove(name string, e *entry) {
	o.mu.Lock()
	if o.registry[name] == e {
		delete(o.registry, name)
	}
	n := len(o.registry)
	o.mu.Unlock()

	e.stopCheck()
	e.handle.Close()
	o.correlator.Forget(e.handle)
	o.metrics.RunningServers(n)
}

func (o *Orchestrator) runningNames() []string {
	o.mu.RLock()
	names := make([]string, 0, len(o.registry))
	for name := range o.registry {
		names = append(names, name)
	}
	o.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Start launches the named server. Starting a server that is already live
// is a no-op.
func (o *Orchestrator) Start(name string) error {
	_, err := o.start(name)
	return err
}

// start returns the live entry for name, spawning one when needed.
func (o *Orchestrator) start(name string) (*entry, error) {
	spec, ok := o.spec(name)
	if !ok {
		err := errors.ServerNotFound(name)
		o.logf(logsink.TagError, "cannot start %s: %v", name, err)
		o.metrics.ServerStartFailed(name, errors.CodeServerNotFound)
		return nil, err
	}
	if !spec.Enabled {
		err := errors.ServerDisabled(name)
		o.logf(logsink.TagError, "cannot start %s: %v", name, err)
		o.metrics.ServerStartFailed(name, errors.CodeServerDisabled)
		return nil, err
	}

	o.startMu.Lock()
	defer o.startMu.Unlock()

	if e := o.lookup(name); e != nil {
		if e.handle.Alive() {
			return e, nil
		}
		o.remove(name, e)
	}

	o.logf(logsink.TagInfo, "starting server %s: %s", name, spec.Command)

	h, err := proc.Spawn(proc.Options{
		Name:    spec.Name,
		Command: spec.Command,
		Args:    spec.Args,
		Env:     spec.Env,
		Dir:     spec.Cwd,
	})
	if err != nil {
		o.logf(logsink.TagError, "failed to start server %s: %v", name, err)
		o.metrics.ServerStartFailed(name, errors.Code(err))
		return nil, err
	}

	h.StartDrain(func(line string) {
		o.sink.Log(fmt.Sprintf("[%s] %s", name, line), logsink.TagStderr)
		o.metrics.DiagnosticLine(name)
	})

	e := &entry{spec: spec, handle: h}
	o.register(name, e)
	o.metrics.ServerStarted(name)

	e.setCheck(time.AfterFunc(o.timeouts.StartupGrace, func() {
		o.checkLiveness(name, e)
	}))
	return e, nil
}

// checkLiveness runs once after the startup grace period.
func (o *Orchestrator) checkLiveness(name string, e *entry) {
	if e.stopping.Load() || o.lookup(name) != e {
		return
	}

	if e.handle.Alive() {
		o.logf(logsink.TagInfo, "server %s is active (pid %d)", name, e.handle.PID)
		return
	}

	code, _ := e.handle.ExitCode()
	o.logf(logsink.TagError, "server %s failed to start: %v", name, errors.EarlyExit(name, code))
	o.metrics.ServerEarlyExit(name, code)
	o.remove(name, e)
}

// StartEnabled starts every enabled server that is not already running.
// Failures are logged and returned together; they do not stop the others.
func (o *Orchestrator) StartEnabled(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)

	for _, spec := range o.Specs() {
		if !spec.Enabled || o.IsServerRunning(spec.Name) {
			continue
		}
		name := spec.Name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			if err := o.Start(name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}

// Stop terminates the named server: a graceful group signal, then a forced
// kill when the process outlives the graceful timeout. The registry entry is
// removed whether or not termination was confirmed.
func (o *Orchestrator) Stop(name string, logIfNotActive bool) StopResult {
	e := o.lookup(name)
	if e == nil || !e.handle.Alive() {
		if e != nil {
			o.remove(name, e)
		}
		if logIfNotActive {
			o.logf(logsink.TagInfo, "server %s is not active", name)
		}
		return WasNotActive
	}

	e.stopping.Store(true)
	e.stopCheck()
	e.handle.StopDrain()

	o.logf(logsink.TagInfo, "stopping server %s (pid %d)", name, e.handle.PID)

	start := time.Now()
	res := e.handle.Terminate(o.timeouts.GracefulStop, o.timeouts.ForcedStop)
	for _, err := range res.Errors {
		o.logf(logsink.TagWarning, "%v", err)
	}

	o.remove(name, e)
	o.metrics.ServerStopped(name, res.Confirmed, time.Since(start))

	if res.Confirmed {
		o.logf(logsink.TagInfo, "server %s stopped", name)
	} else {
		o.logf(logsink.TagWarning, "server %s (pid %d) might not have stopped", name, e.handle.PID)
	}
	return Stopped
}

// StopAll stops every registered server. All drains are cancelled before the
// first termination so no diagnostic output is logged during shutdown.
func (o *Orchestrator) StopAll() {
	names := o.runningNames()
	for _, name := range names {
		if e := o.lookup(name); e != nil {
			e.handle.StopDrain()
		}
	}
	for _, name := range names {
		o.Stop(name, false)
	}
}

// SendCommand sends method to the named server and waits for its response.
// A server that is not running is started first and given the warm-up delay;
// ctx bounds only that wait. Failures are reported as error responses, never
// as a nil response.
func (o *Orchestrator) SendCommand(ctx context.Context, name, method string, params any) *rpc.Response {
	start := time.Now()
	resp := o.sendCommand(ctx, name, method, params)
	o.metrics.RPCCompleted(name, outcome(resp), time.Since(start))
	return resp
}

func (o *Orchestrator) sendCommand(ctx context.Context, name, method string, params any) *rpc.Response {
	req := rpc.NewRequest(name, method, params)

	e := o.lookup(name)
	if e == nil || !e.handle.Alive() {
		started, err := o.start(name)
		if err != nil {
			return rpc.ErrorResponse(req.ID, rpc.CodeStartFailed, err.Error(), nil)
		}
		if err := o.warmUp(ctx); err != nil {
			return rpc.ErrorResponse(req.ID, rpc.CodeStartFailed,
				fmt.Sprintf("cancelled while %s was warming up: %v", name, err), nil)
		}

		// The liveness check may already have unregistered a dead server, so
		// the exit code comes from the handle this call started.
		if !started.handle.Alive() {
			code, _ := started.handle.ExitCode()
			o.remove(name, started)
			return rpc.ErrorResponse(req.ID, rpc.CodeStartFailed, errors.EarlyExit(name, code).Error(), nil)
		}
		e = started
	}

	resp := o.correlator.Call(name, e.handle, req, o.timeouts.Request)

	if resp.Error != nil && resp.Error.Code == rpc.CodeTransport {
		if e.handle.WaitExit(reapWait) {
			code, _ := e.handle.ExitCode()
			o.logf(logsink.TagError, "server %s exited with code %d", name, code)
			o.remove(name, e)
		}
	}
	return resp
}

func (o *Orchestrator) warmUp(ctx context.Context) error {
	if o.timeouts.Warmup <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.timeouts.Warmup)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func outcome(resp *rpc.Response) string {
	if resp.Error == nil {
		return metrics.OutcomeOK
	}
	switch resp.Error.Code {
	case rpc.CodeStartFailed:
		return metrics.OutcomeStartFailed
	case rpc.CodeTimeout:
		return metrics.OutcomeTimeout
	case rpc.CodeMalformed:
		return metrics.OutcomeMalformed
	case rpc.CodeTransport:
		return metrics.OutcomeTransport
	default:
		return metrics.OutcomeServerError
	}
}
