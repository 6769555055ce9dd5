package plugins

// PathLockCount exposes the number of tracked path locks to external tests.
func (m *Manager) PathLockCount() int { return m.lockedPaths() }
