package pipeline

import "sync"

// Token identifies one registration. The zero Token is never issued.
type Token uint64

// Registry maps tokens to values and iterates them in registration order.
// It is safe for concurrent use.
type Registry[T any] struct {
	mu    sync.Mutex
	next  Token
	order []Token
	items map[Token]T
}

// Add registers v and returns its token.
func (r *Registry[T]) Add(v T) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = make(map[Token]T)
	}
	r.next++
	r.items[r.next] = v
	r.order = append(r.order, r.next)
	return r.next
}

// Remove unregisters tok. Removing an unknown or already removed token is a
// no-op that returns false.
func (r *Registry[T]) Remove(tok Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[tok]; !ok {
		return false
	}
	delete(r.items, tok)
	for i, t := range r.order {
		if t == tok {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns the registered values in registration order.
func (r *Registry[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.items[t])
	}
	return out
}

// Len returns the number of registrations.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
