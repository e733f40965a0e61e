// Package keyring rotates provider credentials round-robin across requests.
package keyring

import (
	"strings"
	"sync"
)

// Ring hands out keys in order, wrapping at the end of the pool.
type Ring struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// New builds a ring from the given keys, dropping blanks.
func New(keys ...string) *Ring {
	r := &Ring{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			r.keys = append(r.keys, k)
		}
	}
	return r
}

// Parse splits a comma-separated key list.
func Parse(list string) *Ring {
	return New(strings.Split(list, ",")...)
}

// Next returns the current key and advances the index. Empty ring returns "".
func (r *Ring) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	k := r.keys[r.idx]
	r.idx = (r.idx + 1) % len(r.keys)
	return k
}

// Len reports the pool size.
func (r *Ring) Len() int {
	return len(r.keys)
}
