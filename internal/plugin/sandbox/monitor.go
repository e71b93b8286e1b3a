package sandbox

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// Monitor samples process memory around plugin calls and compares RSS
// growth against the configured ceiling. Plugins run in-process, so the
// measurement is a whole-process delta and inherently approximate.
type Monitor struct {
	limits Limits
	proc   *process.Process
	log    zerolog.Logger
}

// NewMonitor creates a monitor for the current process.
func NewMonitor(limits Limits, log zerolog.Logger) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("resource monitor: %w", err)
	}
	return &Monitor{limits: limits, proc: proc, log: log}, nil
}

// Begin samples the RSS baseline before a plugin call. The baseline is
// returned rather than stored so concurrent calls do not clobber each
// other.
func (m *Monitor) Begin() uint64 {
	return m.rss()
}

// Check compares RSS growth since baseline against the ceiling. With
// enforcement off a breach only logs a warning.
func (m *Monitor) Check(pluginID string, baseline uint64) error {
	if m.limits.MemoryLimitBytes == 0 {
		return nil
	}

	current := m.rss()
	if current <= baseline {
		return nil
	}

	growth := current - baseline
	if growth <= m.limits.MemoryLimitBytes {
		return nil
	}

	if !m.limits.EnforceMemoryLimit {
		m.log.Warn().
			Str("plugin", pluginID).
			Uint64("growth_bytes", growth).
			Uint64("limit_bytes", m.limits.MemoryLimitBytes).
			Msg("plugin call exceeded memory ceiling (advisory)")
		return nil
	}

	return fmt.Errorf("plugin %q exceeded memory ceiling: grew %d bytes (limit %d)",
		pluginID, growth, m.limits.MemoryLimitBytes)
}

// rss returns the current resident set size, or 0 if unavailable.
func (m *Monitor) rss() uint64 {
	info, err := m.proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}
