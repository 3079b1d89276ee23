package pipeline

import "sync/atomic"

// runLock keeps a second Run or Drain from starting on the same Pipeline
type runLock struct {
	state atomic.Int32 // 0 = idle, 1 = running
}

func (l *runLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release must only be called after a successful TryAcquire
func (l *runLock) Release() {
	l.state.Store(0)
}
