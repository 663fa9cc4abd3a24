package upload

import "github.com/streamvault/go-upload/upload/session"

// State is the caller-observable view of the current transfer. It is created
// when a transfer starts, mutated only by the Controller, and cleared by Reset.
type State struct {
	IsUploading bool
	// Progress is 0-100. It reaches 100 only once consolidation has
	// succeeded, never merely after the last chunk upload.
	Progress    int
	CurrentFile string
	Err         error
	Session     *session.Session
	CanResume   bool
	IsPaused    bool
}

// Subscribe registers a callback invoked after every chunk and on every state
// transition. The callback receives a snapshot and must not block.
func (c *Controller) Subscribe(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// State returns a snapshot of the observable transfer state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// mutateState applies fn to the state under the lock and notifies subscribers.
func (c *Controller) mutateState(fn func(*State)) {
	c.mu.Lock()
	fn(&c.state)
	snapshot := c.state
	subscribers := make([]func(State), len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()

	for _, fn := range subscribers {
		fn(snapshot)
	}
}
