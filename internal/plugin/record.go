package plugin

import "time"

// record is the registry's bookkeeping for one plugin. The instance is
// held only while the state is Loading, Active, or Disabled; Error and
// Unloaded records keep the manifest and last error for status queries.
type record struct {
	manifest *Manifest
	state    State
	enabled  bool
	instance Plugin
	loadedAt time.Time
	lastErr  error

	// closer releases instance resources that survive Cleanup, such as
	// a script plugin's interpreter.
	closer func()
}

// effectiveState derives the externally visible state: an Active
// record with the enabled flag off reports Disabled.
func (r *record) effectiveState() State {
	if r.state == StateActive && !r.enabled {
		return StateDisabled
	}
	return r.state
}

// dispatchable reports whether hook callbacks owned by this plugin may
// run.
func (r *record) dispatchable() bool {
	return r.state == StateActive && r.enabled
}

// fail marks the record errored and drops the instance.
func (r *record) fail(err error) {
	r.state = StateError
	r.lastErr = err
	r.enabled = false
	r.release()
}

// release closes and forgets the instance.
func (r *record) release() {
	if r.closer != nil {
		r.closer()
		r.closer = nil
	}
	r.instance = nil
}

// Status is a point-in-time snapshot of one plugin's lifecycle.
type Status struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	State    string    `json:"state"`
	Error    string    `json:"error,omitempty"`
	LoadedAt time.Time `json:"loaded_at,omitzero"`

	// Reported is the plugin's self-reported status, present only when
	// the plugin is loaded and its get_status call succeeded.
	Reported map[string]any `json:"reported,omitempty"`
}

// snapshot builds a Status from the record.
func (r *record) snapshot() Status {
	s := Status{
		ID:      r.manifest.ID,
		Name:    r.manifest.Name,
		Version: r.manifest.Version,
		State:   r.effectiveState().String(),
	}
	if r.lastErr != nil {
		s.Error = r.lastErr.Error()
	}
	if r.state.Loaded() {
		s.LoadedAt = r.loadedAt
	}
	return s
}
