/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import "sync"

// LatencyTable maps a peer id (or HostRef) to its last measured round
// trip in milliseconds.
type LatencyTable struct {
	mu    sync.RWMutex
	table map[string]int64
}

func NewLatencyTable() *LatencyTable {
	return &LatencyTable{table: make(map[string]int64)}
}

func (l *LatencyTable) Record(id string, ms int64) {
	if ms < 0 {
		ms = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.table[id] = ms
}

func (l *LatencyTable) Get(id string) (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ms, ok := l.table[id]
	return ms, ok
}

func (l *LatencyTable) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.table, id)
}

// Snapshot returns a copy of the table.
func (l *LatencyTable) Snapshot() map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int64, len(l.table))
	for id, ms := range l.table {
		out[id] = ms
	}
	return out
}
