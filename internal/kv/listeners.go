package kv

import "sync"

// Listeners is a registry of ChangeFuncs that backends embed to implement
// Notifier for writes made through them.
type Listeners struct {
	fns []ChangeFunc
	mu  sync.RWMutex
}

// OnChange implements Notifier.
func (l *Listeners) OnChange(fn ChangeFunc) {
	l.mu.Lock()
	l.fns = append(l.fns, fn)
	l.mu.Unlock()
}

// Notify calls every registered listener with keys. Empty key sets are dropped.
func (l *Listeners) Notify(keys []string) {
	if len(keys) == 0 {
		return
	}

	l.mu.RLock()
	fns := make([]ChangeFunc, len(l.fns))
	copy(fns, l.fns)
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(keys)
	}
}
