package feed

import (
	"sort"
	"sync"
)

// Tape keeps the latest tick per symbol.
type Tape struct {
	mu   sync.RWMutex
	last map[string]Ticker
}

func NewTape() *Tape {
	return &Tape{last: make(map[string]Ticker)}
}

// Observe records a tick, replacing the previous one for its symbol.
func (t *Tape) Observe(tk Ticker) {
	t.mu.Lock()
	t.last[tk.Symbol] = tk
	t.mu.Unlock()
}

// Last returns the most recent tick for symbol.
func (t *Tape) Last(symbol string) (Ticker, bool) {
	t.mu.RLock()
	tk, ok := t.last[symbol]
	t.mu.RUnlock()
	return tk, ok
}

// Symbols lists every symbol seen so far, sorted.
func (t *Tape) Symbols() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.last))
	for s := range t.last {
		out = append(out, s)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (t *Tape) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.last)
}
