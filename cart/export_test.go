package cart

// corrupt overwrites a stored cart without recomputing its checksum.
func (r *MemoryRepository) corrupt(id string, mutate func(*Cart)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.carts[id]; ok {
		mutate(c)
	}
}
