package orchestrator

import (
	"time"

	"github.com/Fuabioo/toolhost/internal/core"
	"github.com/Fuabioo/toolhost/internal/errors"
)

// Status is the live state of one configured server.
type Status struct {
	Name        string     `json:"name"`
	Command     string     `json:"command"`
	Args        []string   `json:"args"`
	Port        int        `json:"port"`
	Enabled     bool       `json:"enabled"`
	Description string     `json:"description,omitempty"`
	Running     bool       `json:"running"`
	PID         int        `json:"pid,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
}

// Details is Status plus the full spec and any load notes for the name.
type Details struct {
	Status
	Spec  core.ServerSpec `json:"spec"`
	Notes []core.Note     `json:"notes,omitempty"`
}

// ActiveServerNames returns the names of enabled servers in configuration
// order, whether or not they are running.
func (o *Orchestrator) ActiveServerNames() []string {
	o.specMu.RLock()
	defer o.specMu.RUnlock()

	var names []string
	for _, spec := range o.specs {
		if spec.Enabled {
			names = append(names, spec.Name)
		}
	}
	return names
}

// IsServerRunning reports whether a live process is registered for name.
func (o *Orchestrator) IsServerRunning(name string) bool {
	e := o.lookup(name)
	return e != nil && e.handle.Alive()
}

func (o *Orchestrator) status(spec core.ServerSpec) Status {
	st := Status{
		Name:        spec.Name,
		Command:     spec.Command,
		Args:        spec.Args,
		Port:        spec.Port,
		Enabled:     spec.Enabled,
		Description: spec.Description,
	}
	if e := o.lookup(spec.Name); e != nil && e.handle.Alive() {
		st.Running = true
		st.PID = e.handle.PID
		startedAt := e.handle.StartedAt
		st.StartedAt = &startedAt
	}
	return st
}

// ServerDetails describes the named server.
func (o *Orchestrator) ServerDetails(name string) (*Details, error) {
	spec, ok := o.spec(name)
	if !ok {
		return nil, errors.ServerNotFound(name)
	}

	d := &Details{Status: o.status(spec), Spec: spec}
	for _, note := range o.Notes() {
		if note.Name == name {
			d.Notes = append(d.Notes, note)
		}
	}
	return d, nil
}

// Snapshot returns the status of every configured server in configuration
// order.
func (o *Orchestrator) Snapshot() []Status {
	specs := o.Specs()
	out := make([]Status, 0, len(specs))
	for _, spec := range specs {
		out = append(out, o.status(spec))
	}
	return out
}
