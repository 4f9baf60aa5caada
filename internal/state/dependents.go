package state

import "context"

// Track records d as a dependent of key. Registration is append-only and a
// dependent appears at most once per key.
func (s *Store) Track(key string, d Dependent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.dependents[key] {
		if existing == d {
			return
		}
	}
	s.dependents[key] = append(s.dependents[key], d)
}

// Dependents returns the dependents of key in registration order.
func (s *Store) Dependents(key string) []Dependent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deps := s.dependents[key]
	out := make([]Dependent, len(deps))
	copy(out, deps)
	return out
}

// Trigger asks every dependent of key to render again and returns how many
// were asked. Stale dependents are asked too and may ignore it.
func (s *Store) Trigger(ctx context.Context, key string) int {
	deps := s.Dependents(key)
	for _, d := range deps {
		d.Rerender(ctx)
	}
	return len(deps)
}
