package domain

import "sync"

// CancelToken is a run-scoped cooperative cancellation flag. Cancelling it
// stops new work from starting; work already in progress is left alone.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the token. Subsequent calls have no effect.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the token is cancelled.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
