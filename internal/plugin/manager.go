package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	glua "github.com/yuin/gopher-lua"

	"github.com/extrun/extrun/internal/plugin/api"
	"github.com/extrun/extrun/internal/plugin/bus"
	"github.com/extrun/extrun/internal/plugin/lua"
	"github.com/extrun/extrun/internal/plugin/resolver"
	"github.com/extrun/extrun/internal/plugin/sandbox"
	"github.com/extrun/extrun/internal/plugin/security"
)

// Manager owns the plugin registry and serializes every lifecycle
// mutation behind one registry-wide lock. Dispatch and status reads
// work on snapshots and may briefly observe a plugin that a concurrent
// disable is removing.
type Manager struct {
	mu sync.RWMutex

	opts     Options
	limits   sandbox.Limits
	scanner  *Scanner
	builtins *Builtins
	store    *ConfigStore
	bus      *bus.Bus
	host     *api.Host
	monitor  *sandbox.Monitor
	log      zerolog.Logger

	records   map[string]*record
	loadOrder []string
	lastScan  time.Time

	// eligible mirrors each record's dispatchable() result. The bus
	// consults it during dispatch, which can happen while a lifecycle
	// operation holds mu (a plugin emitting from its own initialize),
	// so it must be readable without the registry lock.
	eligible sync.Map // plugin id -> bool
}

// NewManager creates a manager. The host carries the services exposed
// to plugins; builtins is the constructor table for compiled-in entry
// points and may be nil when only script plugins are used.
func NewManager(opts Options, host *api.Host, builtins *Builtins, log zerolog.Logger) (*Manager, error) {
	store, err := NewConfigStore(opts.ConfigStorePath())
	if err != nil {
		return nil, err
	}

	limits := opts.Limits()
	monitor, err := sandbox.NewMonitor(limits, log)
	if err != nil {
		return nil, err
	}

	if builtins == nil {
		builtins = NewBuiltins()
	}

	m := &Manager{
		opts:     opts,
		limits:   limits,
		scanner:  NewScanner(log, opts.PluginPaths...),
		builtins: builtins,
		store:    store,
		bus:      bus.New(log),
		host:     host,
		monitor:  monitor,
		log:      log,
		records:  make(map[string]*record),
	}

	// Plugin-originated events go out through the same bus.
	host.SetEmitter(func(ctx context.Context, event string, payload map[string]any, source string) {
		m.bus.Emit(ctx, event, payload, source, m.isDispatchable)
	})

	return m, nil
}

// Discover scans the plugin roots. Discovery never mutates lifecycle
// state; candidates with broken manifests carry their error.
func (m *Manager) Discover() []*Candidate {
	candidates := m.scanner.Discover()

	m.mu.Lock()
	m.lastScan = time.Now()
	m.mu.Unlock()

	return candidates
}

// Load loads a single plugin by id. Loading an already loaded plugin
// is a no-op. Dependencies must already be loaded.
func (m *Manager) Load(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[id]; ok && rec.state.Loaded() {
		return nil
	}

	cand, err := m.scanner.Find(id)
	if err != nil {
		if errors.Is(err, ErrManifestInvalid) {
			m.recordFailure(id, nil, err)
		}
		return fmt.Errorf("plugin %q: %w", id, err)
	}

	return m.loadLocked(ctx, cand.Manifest)
}

// loadLocked runs the load pipeline for a validated manifest. Caller
// holds the write lock.
func (m *Manager) loadLocked(ctx context.Context, manifest *Manifest) error {
	id := manifest.ID

	for _, dep := range manifest.Dependencies {
		// Dependencies must be active and enabled, not merely loaded.
		if depRec, ok := m.records[dep]; !ok || !depRec.dispatchable() {
			err := fmt.Errorf("%w: plugin %q requires %q", ErrDependencyUnresolved, id, dep)
			m.recordFailure(id, manifest, err)
			return err
		}
	}

	if manifest.SandboxEnabled && manifest.IsScript() {
		violations, err := sandbox.ScanSource(manifest.Dir())
		if err != nil {
			m.recordFailure(id, manifest, err)
			return err
		}
		if len(violations) > 0 {
			err := fmt.Errorf("%w: %s", ErrSandboxViolation, violations[0])
			m.recordFailure(id, manifest, err)
			return err
		}
	}

	rec := m.ensureRecord(id, manifest)
	rec.state = StateLoading
	rec.lastErr = nil

	checker := security.NewChecker(id)
	checker.GrantAll(manifest.Permissions)
	bridge := api.NewBridge(m.host, checker, m.opts.PluginDataDir(id))

	instance, closer, err := m.instantiate(ctx, manifest, bridge)
	if err != nil {
		rec.fail(err)
		return err
	}
	rec.instance = instance
	rec.closer = closer

	callCtx, cancel := context.WithTimeout(ctx, m.limits.ExecutionTimeout)
	defer cancel()

	baseline := m.monitor.Begin()
	if err := instance.Initialize(callCtx, m.store.Get(id)); err != nil {
		err = m.classify(err, ErrInitializationFailed)
		rec.fail(err)
		return fmt.Errorf("plugin %q: %w", id, err)
	}
	if err := m.monitor.Check(id, baseline); err != nil {
		rec.fail(err)
		return err
	}

	rec.state = StateActive
	rec.enabled = true
	rec.loadedAt = time.Now()
	m.setEligible(id, true)

	m.log.Info().Str("plugin", id).Str("version", manifest.Version).Msg("plugin loaded")
	return nil
}

// instantiate resolves the entry point into a live instance.
func (m *Manager) instantiate(ctx context.Context, manifest *Manifest, bridge *api.Bridge) (Plugin, func(), error) {
	if manifest.IsScript() {
		sp, err := lua.NewScriptPlugin(ctx, manifest.ID, manifest.ScriptPath(), m.limits, func(L *glua.LState) error {
			return api.InstallLuaModule(L, bridge)
		})
		if err != nil {
			if errors.Is(err, lua.ErrContractIncomplete) {
				err = fmt.Errorf("%w: %v", ErrInitializationFailed, err)
			}
			return nil, nil, err
		}
		return sp, sp.Close, nil
	}

	instance, err := m.builtins.New(manifest.EntryPoint, bridge)
	if err != nil {
		return nil, nil, err
	}
	return instance, nil, nil
}

// Unload cleans up a plugin and marks it Unloaded. The plugin stops
// being dispatchable before cleanup runs; a cleanup failure is
// recorded as CleanupFailed and keeps the record for inspection.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(ctx, id)
}

func (m *Manager) unloadLocked(ctx context.Context, id string) error {
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	if rec.state == StateUnloaded {
		return nil
	}

	// No dispatch can reach the plugin from here on.
	rec.enabled = false
	m.setEligible(id, false)
	m.bus.RemovePlugin(id)
	m.host.RemovePlugin(id)

	if rec.instance != nil {
		callCtx, cancel := context.WithTimeout(ctx, m.limits.ExecutionTimeout)
		err := rec.instance.Cleanup(callCtx)
		cancel()
		if err != nil {
			err = fmt.Errorf("plugin %q: %w: %v", id, ErrCleanupFailed, err)
			rec.lastErr = err
			m.log.Error().Str("plugin", id).Err(err).Msg("cleanup failed")
			return err
		}
	}

	rec.release()
	rec.state = StateUnloaded
	m.removeFromLoadOrder(id)

	m.log.Info().Str("plugin", id).Msg("plugin unloaded")
	return nil
}

// Enable re-includes a disabled plugin in dispatch. No
// re-initialization happens. Enabling an Active plugin is a no-op.
func (m *Manager) Enable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || rec.state == StateError || rec.state == StateUnloaded {
		// Not currently loaded: never seen, failed, or unloaded. Enable
		// attempts a fresh load.
		cand, err := m.scanner.Find(id)
		if err != nil {
			return fmt.Errorf("plugin %q: %w", id, err)
		}
		return m.loadLocked(ctx, cand.Manifest)
	}
	if rec.state != StateActive {
		return fmt.Errorf("plugin %q: %w (state %s)", id, ErrPluginNotActive, rec.effectiveState())
	}

	rec.enabled = true
	m.setEligible(id, true)
	return nil
}

// Disable excludes a plugin from dispatch without unloading it. The
// instance and its state are retained.
func (m *Manager) Disable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	if rec.state != StateActive {
		return fmt.Errorf("plugin %q: %w (state %s)", id, ErrPluginNotActive, rec.effectiveState())
	}

	rec.enabled = false
	m.setEligible(id, false)
	return nil
}

// Reload unloads and freshly loads a plugin, rereading manifest,
// source, and persisted configuration. If the unload fails the plugin
// keeps its previous state.
func (m *Manager) Reload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}

	if err := m.unloadLocked(ctx, id); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	cand, err := m.scanner.Find(id)
	if err != nil {
		if errors.Is(err, ErrManifestInvalid) {
			m.recordFailure(id, nil, err)
		}
		return fmt.Errorf("reload plugin %q: %w", id, err)
	}

	return m.loadLocked(ctx, cand.Manifest)
}

// LoadAll discovers, validates, resolves, and loads every plugin in
// dependency order. Failures are isolated per plugin; the returned map
// reports the outcome for every discovered id.
func (m *Manager) LoadAll(ctx context.Context) map[string]bool {
	candidates := m.Discover()

	m.mu.Lock()
	defer m.mu.Unlock()

	results := make(map[string]bool, len(candidates))

	var manifests []*Manifest
	byID := make(map[string]*Manifest)
	for _, cand := range candidates {
		if cand.Err != nil {
			m.recordFailure(cand.ID, nil, cand.Err)
			results[cand.ID] = false
			continue
		}
		manifests = append(manifests, cand.Manifest)
		byID[cand.ID] = cand.Manifest
	}

	if err := ValidateBatch(manifests); err != nil {
		// Duplicate ids cannot happen here: discovery keys by id.
		m.log.Error().Err(err).Msg("batch validation failed")
	}

	graph := resolver.NewGraph()
	for _, manifest := range manifests {
		deps := make([]string, 0, len(manifest.Dependencies))
		for _, dep := range manifest.Dependencies {
			// Dependencies already active outside this batch are
			// satisfied and stay out of the graph.
			if rec, ok := m.records[dep]; ok && rec.dispatchable() {
				continue
			}
			deps = append(deps, dep)
		}
		graph.Add(manifest.ID, manifest.Priority, deps)
	}

	res := graph.Resolve()

	for id, cause := range res.Failed {
		manifest := byID[id]
		var err error
		switch {
		case errors.As(cause, new(*resolver.CycleError)):
			err = fmt.Errorf("%w: %v", ErrCyclicDependency, cause)
		default:
			err = fmt.Errorf("%w: %v", ErrDependencyUnresolved, cause)
		}
		m.recordFailure(id, manifest, err)
		results[id] = false
	}

	for _, id := range res.Order {
		if rec, ok := m.records[id]; ok && rec.state.Loaded() {
			results[id] = true // already loaded, idempotent
			continue
		}
		err := m.loadLocked(ctx, byID[id])
		results[id] = err == nil
	}

	return results
}

// Execute runs an action on an active, enabled plugin under the
// configured deadline.
func (m *Manager) Execute(ctx context.Context, id, action string, params map[string]any) (any, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	var instance Plugin
	if ok {
		instance = rec.instance
	}
	dispatchable := ok && rec.dispatchable()
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	if !dispatchable || instance == nil {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrPluginNotActive)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.limits.ExecutionTimeout)
	defer cancel()

	baseline := m.monitor.Begin()
	result, err := instance.Execute(callCtx, action, params)
	if err != nil {
		err = m.classify(err, nil)
		if errors.Is(err, ErrExecutionTimeout) {
			// A timed-out plugin is in an unknown state and must not
			// receive further calls.
			m.failRuntime(id, instance, err)
		}
		return nil, fmt.Errorf("plugin %q: %w", id, err)
	}
	if cerr := m.monitor.Check(id, baseline); cerr != nil {
		m.failRuntime(id, instance, cerr)
		return nil, fmt.Errorf("plugin %q: %w", id, cerr)
	}
	return result, nil
}

// failRuntime moves a plugin to Error after a call-time failure. The
// instance identity check guards against a concurrent reload having
// already replaced the incarnation the failing call ran against.
func (m *Manager) failRuntime(id string, instance Plugin, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || rec.instance != instance {
		return
	}
	rec.fail(err)
	m.setEligible(id, false)
	m.log.Warn().Str("plugin", id).Err(err).Msg("plugin errored during call")
}

// Status returns the lifecycle snapshot for one plugin, including its
// self-reported status when it is loaded.
func (m *Manager) Status(ctx context.Context, id string) (Status, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.RUnlock()
		return Status{}, fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	snap := rec.snapshot()
	instance := rec.instance
	m.mu.RUnlock()

	if instance != nil {
		callCtx, cancel := context.WithTimeout(ctx, m.limits.ExecutionTimeout)
		defer cancel()
		if reported, err := instance.Status(callCtx); err == nil {
			snap.Reported = reported
		}
	}
	return snap, nil
}

// StatusAll returns lifecycle snapshots for every known plugin in load
// order, then the never-loaded failures sorted by id.
func (m *Manager) StatusAll() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, 0, len(m.records))
	seen := make(map[string]bool, len(m.records))
	for _, id := range m.loadOrder {
		if rec, ok := m.records[id]; ok {
			statuses = append(statuses, rec.snapshot())
			seen[id] = true
		}
	}
	var rest []string
	for id := range m.records {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		statuses = append(statuses, m.records[id].snapshot())
	}
	return statuses
}

// RegisterHook binds a callback to a hook on behalf of a loaded
// plugin.
func (m *Manager) RegisterHook(hook, pluginID string, cb bus.Callback) (string, error) {
	m.mu.RLock()
	rec, ok := m.records[pluginID]
	loaded := ok && rec.state.Loaded()
	m.mu.RUnlock()

	if !loaded {
		return "", fmt.Errorf("plugin %q: %w", pluginID, ErrPluginNotActive)
	}
	return m.bus.Register(hook, pluginID, cb)
}

// Dispatch invokes all callbacks registered for a hook by active,
// enabled plugins. Callback failures are isolated; the caller gets one
// result per invoked callback.
func (m *Manager) Dispatch(ctx context.Context, hook string, args map[string]any) []bus.Result {
	return m.bus.Dispatch(ctx, hook, args, m.isDispatchable)
}

// Emit broadcasts an event to every eligible plugin except the source.
func (m *Manager) Emit(ctx context.Context, event string, payload map[string]any, source string) []bus.Result {
	return m.bus.Emit(ctx, event, payload, source, m.isDispatchable)
}

// SetConfig persists one configuration key for a plugin. The running
// instance sees it on its next reload.
func (m *Manager) SetConfig(pluginID, key string, value any) error {
	return m.store.Set(pluginID, key, value)
}

// Config returns a plugin's persisted configuration.
func (m *Manager) Config(pluginID string) map[string]any {
	return m.store.Get(pluginID)
}

// Host returns the host API registry (endpoint and UI descriptors).
func (m *Manager) Host() *api.Host {
	return m.host
}

// Stats summarizes the registry.
type Stats struct {
	Total    int            `json:"total"`
	ByState  map[string]int `json:"by_state"`
	LastScan time.Time      `json:"last_scan,omitzero"`
}

// Stats returns registry counts by effective state.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		Total:    len(m.records),
		ByState:  make(map[string]int),
		LastScan: m.lastScan,
	}
	for _, rec := range m.records {
		st.ByState[rec.effectiveState().String()]++
	}
	return st
}

// isDispatchable is the eligibility check handed to the bus.
func (m *Manager) isDispatchable(pluginID string) bool {
	v, ok := m.eligible.Load(pluginID)
	return ok && v.(bool)
}

// setEligible updates the lock-free dispatch eligibility mirror.
func (m *Manager) setEligible(pluginID string, ok bool) {
	m.eligible.Store(pluginID, ok)
}

// classify maps low-level call errors into the lifecycle taxonomy.
// fallback, when non-nil, wraps errors that match nothing specific.
func (m *Manager) classify(err error, fallback error) error {
	switch {
	case errors.Is(err, lua.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
	case errors.As(err, new(*security.PermissionError)):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case fallback != nil:
		return fmt.Errorf("%w: %v", fallback, err)
	default:
		return err
	}
}

// ensureRecord returns the record for id, creating or resetting it for
// a fresh incarnation. Caller holds the write lock.
func (m *Manager) ensureRecord(id string, manifest *Manifest) *record {
	rec, ok := m.records[id]
	if !ok {
		rec = &record{}
		m.records[id] = rec
	}
	rec.manifest = manifest
	rec.instance = nil
	rec.closer = nil
	rec.enabled = false
	rec.state = StateValidated
	m.setEligible(id, false)

	for _, existing := range m.loadOrder {
		if existing == id {
			return rec
		}
	}
	m.loadOrder = append(m.loadOrder, id)
	return rec
}

// recordFailure records a failed load attempt. Caller holds the write
// lock. manifest may be nil when the failure predates parsing.
func (m *Manager) recordFailure(id string, manifest *Manifest, err error) {
	rec, ok := m.records[id]
	if !ok {
		rec = &record{}
		m.records[id] = rec
	}
	if manifest != nil {
		rec.manifest = manifest
	} else if rec.manifest == nil {
		// Synthesize enough identity for status reporting.
		rec.manifest = &Manifest{ID: id, Name: id}
	}
	rec.fail(err)
	m.setEligible(id, false)
	m.log.Warn().Str("plugin", id).Err(err).Msg("plugin load failed")
}

// removeFromLoadOrder removes an id from the load order slice. Caller
// holds the write lock.
func (m *Manager) removeFromLoadOrder(id string) {
	for i, existing := range m.loadOrder {
		if existing == id {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			return
		}
	}
}
