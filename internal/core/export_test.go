package core

// PoolLocks reports how many per-pool lock entries the engine holds.
func (e *Engine) PoolLocks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.locks)
}
