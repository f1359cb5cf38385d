package oracle

import "sync"

// keyRing is a round-robin selector over the configured API keys. It
// advances only on quota-exhaustion signals, not on arbitrary errors, so a
// transient network failure does not burn through the rotation. Per-key
// failure counts are kept for operator visibility.
type keyRing struct {
	mu       sync.Mutex
	keys     []string
	idx      int
	failures []int
}

func newKeyRing(keys []string) *keyRing {
	return &keyRing{keys: keys, failures: make([]int, len(keys))}
}

func (r *keyRing) current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	return r.keys[r.idx]
}

// exhausted records a quota failure for the current key and rotates to the
// next one.
func (r *keyRing) exhausted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return
	}
	r.failures[r.idx]++
	r.idx = (r.idx + 1) % len(r.keys)
}

func (r *keyRing) failureCount(i int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[i]
}
